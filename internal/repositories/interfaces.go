package repositories

import (
	"context"
	"time"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close() error

	Users() UserRepository
	SearchLogs() SearchLogRepository
	Feedback() FeedbackRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UserRepository persists users/{uid} profiles.
type UserRepository interface {
	FindByID(ctx context.Context, uid string) (domain.UserProfile, error)
	// CreateIfNotExists stores profile unless a document already exists, returning the stored
	// profile and whether it was created.
	CreateIfNotExists(ctx context.Context, profile domain.UserProfile) (domain.UserProfile, bool, error)
	SetStripeCustomerID(ctx context.Context, uid, customerID string) (domain.UserProfile, error)
	UpgradeToPro(ctx context.Context, uid, customerID string) (domain.UserProfile, error)
	SetProStatus(ctx context.Context, uid string, isPro bool) (domain.UserProfile, error)
}

// SearchLogRepository stores the append-only lookup history.
type SearchLogRepository interface {
	Insert(ctx context.Context, log domain.SearchLog) error
	ListByUser(ctx context.Context, uid string, page pagination.Params) (domain.Page[domain.SearchLog], error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// FeedbackRepository stores user ratings of towing results.
type FeedbackRepository interface {
	Insert(ctx context.Context, feedback domain.Feedback) error
}

// HealthRepository reports dependency status for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
