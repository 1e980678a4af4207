package services

import (
	"context"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/storage"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	TowingInfo         = domain.TowingInfo
	UserProfile        = domain.UserProfile
	SearchLog          = domain.SearchLog
	Feedback           = domain.Feedback
	SystemHealthReport = domain.SystemHealthReport
)

// Logger receives structured service events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// TowingAdvisor resolves a free-text vehicle query to towing guidance.
type TowingAdvisor interface {
	Lookup(ctx context.Context, query string) (domain.TowingInfo, error)
}

// VehicleNormalizer corrects makes and lists model/trim suggestions.
type VehicleNormalizer interface {
	CorrectMake(ctx context.Context, input string) string
	Models(ctx context.Context, year int, manufacturer string) []string
	Trims(ctx context.Context, year int, manufacturer, model string) []string
}

// VisionExtractor reads VINs, vehicles and code kinds from images.
type VisionExtractor interface {
	ExtractVIN(ctx context.Context, img towing.Image) (string, error)
	IdentifyVehicle(ctx context.Context, img towing.Image) (domain.VehicleIdentification, error)
	ClassifyCode(ctx context.Context, img towing.Image) (domain.CodeKind, error)
}

// PlateDecoder resolves a license plate photo to a VIN.
type PlateDecoder interface {
	DecodePlate(ctx context.Context, img towing.Image) (string, error)
}

// SearchEventPublisher announces completed lookups.
type SearchEventPublisher interface {
	PublishSearchCompleted(ctx context.Context, event domain.SearchEvent) (string, error)
}

// ScanArchive stores uploaded scan images.
type ScanArchive interface {
	StoreScan(ctx context.Context, scan storage.ScanObject) (storage.ArchivedScan, error)
}

// TowingService performs towing lookups and records them in the search history.
type TowingService interface {
	Lookup(ctx context.Context, cmd LookupCommand) (LookupResult, error)
}

// VehicleService exposes make correction and model/trim suggestions.
type VehicleService interface {
	CorrectMake(ctx context.Context, input string) string
	Models(ctx context.Context, year int, manufacturer string) []string
	Trims(ctx context.Context, year int, manufacturer, model string) []string
}

// ScanService turns an uploaded image into a towing lookup.
type ScanService interface {
	// Authorize reports ErrProRequired for users who may not scan, before any upload is read.
	Authorize(ctx context.Context, uid string) error
	Scan(ctx context.Context, cmd ScanCommand) (ScanResult, error)
}

// FeedbackService records user ratings of towing results.
type FeedbackService interface {
	Submit(ctx context.Context, cmd FeedbackCommand) (domain.Feedback, error)
}

// UserService manages profiles and search history.
type UserService interface {
	EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (domain.UserProfile, error)
	GetProfile(ctx context.Context, uid string) (domain.UserProfile, error)
	ListSearches(ctx context.Context, uid string, page pagination.Params) (domain.Page[domain.SearchLog], error)
	SetProStatus(ctx context.Context, uid string, isPro bool) (domain.UserProfile, error)
}

// MembershipService sells and activates Pro membership.
type MembershipService interface {
	CreatePaymentIntent(ctx context.Context, cmd PaymentIntentCommand) (PaymentIntentResult, error)
	Upgrade(ctx context.Context, cmd UpgradeCommand) (domain.UserProfile, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// SystemService exposes health reports.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
}

// MaintenanceService runs housekeeping jobs.
type MaintenanceService interface {
	PurgeSearchLogs(ctx context.Context) (PurgeResult, error)
}
