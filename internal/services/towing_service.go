package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/metrics"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/textutil"
	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

const (
	recordTimeout   = 5 * time.Second
	maxErrorMessage = 500
)

// LookupCommand describes one towing lookup. Query wins over VIN, which wins over the
// year/make/model/trim selection.
type LookupCommand struct {
	UserUID       string
	Query         string
	Year          int
	Make          string
	Model         string
	Trim          string
	VIN           string
	Source        domain.SearchSource
	ScanImagePath string
}

// QueryText renders the free-text query sent to the advisor.
func (c LookupCommand) QueryText() string {
	if q := textutil.CollapseSpace(c.Query); q != "" {
		return q
	}
	if vin := strings.TrimSpace(c.VIN); vin != "" {
		return "VIN " + strings.ToUpper(vin)
	}
	parts := make([]string, 0, 4)
	if c.Year > 0 {
		parts = append(parts, strconv.Itoa(c.Year))
	}
	for _, part := range []string{c.Make, c.Model, c.Trim} {
		if part = textutil.CollapseSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ")
}

// LookupResult carries the guidance plus the search log id it was recorded under.
type LookupResult struct {
	SearchID string
	Query    string
	Info     domain.TowingInfo
}

// TowingServiceDeps bundles collaborators required to construct a towing service.
type TowingServiceDeps struct {
	Advisor     TowingAdvisor
	SearchLogs  repositories.SearchLogRepository
	Events      SearchEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type towingService struct {
	advisor    TowingAdvisor
	searchLogs repositories.SearchLogRepository
	events     SearchEventPublisher
	clock      func() time.Time
	newID      func() string
	logger     Logger
}

var _ TowingService = (*towingService)(nil)

// NewTowingService wires the advisor with best-effort history and event recording.
func NewTowingService(deps TowingServiceDeps) (TowingService, error) {
	if deps.Advisor == nil {
		return nil, errors.New("towing service: advisor is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &towingService{
		advisor:    deps.Advisor,
		searchLogs: deps.SearchLogs,
		events:     deps.Events,
		clock:      func() time.Time { return clock().UTC() },
		newID:      newID,
		logger:     logger,
	}, nil
}

func (s *towingService) Lookup(ctx context.Context, cmd LookupCommand) (LookupResult, error) {
	source := cmd.Source
	if source == "" {
		source = domain.SearchSourceText
	}
	query := cmd.QueryText()

	info, err := s.advisor.Lookup(ctx, query)
	metrics.LookupsTotal.WithLabelValues(string(source), lookupOutcome(err)).Inc()
	if errors.Is(err, towing.ErrInvalidQuery) {
		return LookupResult{}, err
	}

	log := domain.SearchLog{
		ID: s.newID(),
		Params: domain.SearchParams{
			Query: query,
			Year:  cmd.Year,
			Make:  strings.TrimSpace(cmd.Make),
			Model: strings.TrimSpace(cmd.Model),
			Trim:  strings.TrimSpace(cmd.Trim),
			VIN:   strings.ToUpper(strings.TrimSpace(cmd.VIN)),
		},
		Source:        source,
		WasSuccessful: err == nil,
		ScanImagePath: cmd.ScanImagePath,
		PolicyVersion: towing.PolicyVersion,
		CreatedAt:     s.clock(),
	}
	if uid := strings.TrimSpace(cmd.UserUID); uid != "" {
		log.UserUID = &uid
	}
	var malformedErr *towing.MalformedResponseError
	if errors.As(err, &malformedErr) {
		s.logger(ctx, "towing_response_malformed", map[string]any{
			"query":   query,
			"reason":  malformedErr.Reason,
			"excerpt": malformedErr.Excerpt(),
		})
	}
	if err != nil {
		msg := textutil.Truncate(err.Error(), maxErrorMessage)
		log.ErrorMessage = &msg
	} else {
		log.FullResult = &info
	}
	s.record(ctx, log)

	if err != nil {
		return LookupResult{}, err
	}
	return LookupResult{SearchID: log.ID, Query: query, Info: info}, nil
}

// record persists the search and publishes its event. Failures are logged, never returned,
// and the caller's cancellation does not abort them.
func (s *towingService) record(ctx context.Context, log domain.SearchLog) {
	if s.searchLogs == nil && s.events == nil {
		return
	}
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if s.searchLogs != nil {
		if err := s.searchLogs.Insert(bg, log); err != nil {
			s.logger(ctx, "search_log_write_failed", map[string]any{"searchId": log.ID, "error": err.Error()})
		}
	}
	if s.events != nil {
		event := domain.SearchEvent{
			ID:            log.ID,
			Query:         log.Params.Query,
			Source:        log.Source,
			WasSuccessful: log.WasSuccessful,
			OccurredAt:    log.CreatedAt,
		}
		if log.UserUID != nil {
			event.UserUID = *log.UserUID
		}
		if log.FullResult != nil {
			event.SafetyLevel = log.FullResult.TowingSafetyLevel
			event.Drivetrain = log.FullResult.Drivetrain
		}
		if _, err := s.events.PublishSearchCompleted(bg, event); err != nil {
			s.logger(ctx, "search_event_publish_failed", map[string]any{"searchId": log.ID, "error": err.Error()})
		}
	}
}

func lookupOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, towing.ErrInvalidQuery):
		return "invalid_query"
	case errors.Is(err, towing.ErrUnrecognizedVehicle):
		return "unrecognized"
	case errors.Is(err, towing.ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, towing.ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
