package domain

import (
	"time"
)

// Page wraps a page of results together with the token for the following page.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// UserProfile mirrors the users/{uid} document.
type UserProfile struct {
	UID              string
	Email            string
	Name             string
	IsProMember      bool
	StripeCustomerID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SearchSource records which entry point produced a lookup.
type SearchSource string

const (
	// SearchSourceText is a lookup typed by the user or composed from dropdown selections.
	SearchSourceText SearchSource = "text"
	// SearchSourceVINScan is a lookup derived from a VIN image.
	SearchSourceVINScan SearchSource = "vin_scan"
	// SearchSourcePlateScan is a lookup derived from a decoded license plate.
	SearchSourcePlateScan SearchSource = "plate_scan"
	// SearchSourcePhoto is a lookup derived from vehicle photo identification.
	SearchSourcePhoto SearchSource = "vehicle_photo"
	// SearchSourceCLI is a lookup issued by the operator CLI.
	SearchSourceCLI SearchSource = "cli"
)

// SearchParams captures what the caller asked for.
type SearchParams struct {
	Query string
	Year  int
	Make  string
	Model string
	Trim  string
	VIN   string
}

// SearchLog is an append-only record of a lookup and its outcome.
type SearchLog struct {
	ID            string
	UserUID       *string
	Params        SearchParams
	Source        SearchSource
	WasSuccessful bool
	ErrorMessage  *string
	FullResult    *TowingInfo
	ScanImagePath string
	// PolicyVersion identifies the prompt policy that produced the result.
	PolicyVersion string
	CreatedAt     time.Time
}

// Feedback is a user's rating of a returned towing result.
type Feedback struct {
	ID           string
	UserUID      *string
	Query        string
	TowingInfo   TowingInfo
	FeedbackText string
	IsHelpful    *bool
	CreatedAt    time.Time
}

// PaymentIntentStatus mirrors the PSP intent lifecycle states the service acts on.
type PaymentIntentStatus string

const (
	PaymentIntentRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	PaymentIntentProcessing            PaymentIntentStatus = "processing"
	PaymentIntentSucceeded             PaymentIntentStatus = "succeeded"
	PaymentIntentCanceled              PaymentIntentStatus = "canceled"
)

// PaymentIntent is the PSP-agnostic projection of a Pro membership payment.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	CustomerID   string
	Amount       int64
	Currency     string
	Status       PaymentIntentStatus
	Metadata     map[string]string
}

// SearchEvent is published after every lookup for downstream analytics.
type SearchEvent struct {
	ID            string            `json:"id"`
	UserUID       string            `json:"userUid,omitempty"`
	Query         string            `json:"query"`
	Source        SearchSource      `json:"source"`
	WasSuccessful bool              `json:"wasSuccessful"`
	SafetyLevel   TowingSafetyLevel `json:"safetyLevel,omitempty"`
	Drivetrain    string            `json:"drivetrain,omitempty"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
