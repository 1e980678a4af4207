package services

import (
	"context"
	"errors"
	"time"

	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
)

// PurgeResult reports a retention sweep.
type PurgeResult struct {
	Deleted int
	Cutoff  time.Time
}

// MaintenanceServiceDeps bundles collaborators required to construct a maintenance service.
type MaintenanceServiceDeps struct {
	SearchLogs repositories.SearchLogRepository
	Retention  time.Duration
	Clock      func() time.Time
	Logger     Logger
}

type maintenanceService struct {
	searchLogs repositories.SearchLogRepository
	retention  time.Duration
	clock      func() time.Time
	logger     Logger
}

var _ MaintenanceService = (*maintenanceService)(nil)

// NewMaintenanceService constructs the retention job runner.
func NewMaintenanceService(deps MaintenanceServiceDeps) (MaintenanceService, error) {
	if deps.SearchLogs == nil {
		return nil, errors.New("maintenance service: search log repository is required")
	}
	if deps.Retention <= 0 {
		return nil, errors.New("maintenance service: retention must be positive")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &maintenanceService{
		searchLogs: deps.SearchLogs,
		retention:  deps.Retention,
		clock:      func() time.Time { return clock().UTC() },
		logger:     logger,
	}, nil
}

// PurgeSearchLogs deletes search history older than the retention window.
func (s *maintenanceService) PurgeSearchLogs(ctx context.Context) (PurgeResult, error) {
	cutoff := s.clock().Add(-s.retention)
	deleted, err := s.searchLogs.DeleteOlderThan(ctx, cutoff)
	result := PurgeResult{Deleted: deleted, Cutoff: cutoff}
	if err != nil {
		s.logger(ctx, "search_log_purge_failed", map[string]any{"cutoff": cutoff, "deleted": deleted, "error": err.Error()})
		return result, err
	}
	s.logger(ctx, "search_log_purge_completed", map[string]any{"cutoff": cutoff, "deleted": deleted})
	return result, nil
}
