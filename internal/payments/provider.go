// Package payments adapts the payment service provider used for Pro membership purchases.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
)

var (
	// ErrNotConfigured is returned when no PSP credentials are available.
	ErrNotConfigured = errors.New("payments: provider not configured")
	// ErrInvalidSignature is returned when a webhook payload fails signature verification.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrIntentNotFound is returned when the PSP has no record of the intent.
	ErrIntentNotFound = errors.New("payments: payment intent not found")
	// ErrIntentNotSucceeded is returned when an upgrade references an unpaid intent.
	ErrIntentNotSucceeded = errors.New("payments: payment intent has not succeeded")
	// ErrIntentOwnerMismatch is returned when the intent belongs to another customer or user.
	ErrIntentOwnerMismatch = errors.New("payments: payment intent belongs to another customer")
	// ErrIntentAmountMismatch is returned when an intent did not pay the configured price.
	ErrIntentAmountMismatch = errors.New("payments: payment intent does not cover the price")
)

// MetadataUserKey is the intent metadata key carrying the purchasing user's uid.
const MetadataUserKey = "uid"

// CustomerRequest describes a PSP customer to create.
type CustomerRequest struct {
	UID            string
	Email          string
	Name           string
	IdempotencyKey string
}

// IntentRequest describes a payment intent to create.
type IntentRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// EventType enumerates the webhook events the service reacts to.
type EventType string

const (
	EventPaymentIntentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentIntentFailed    EventType = "payment_intent.payment_failed"
)

// WebhookEvent is a verified PSP notification.
type WebhookEvent struct {
	ID     string
	Type   EventType
	Intent *domain.PaymentIntent
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (string, error)
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (domain.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (domain.PaymentIntent, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// Price is the amount in minor units and the lowercase ISO currency charged for Pro.
type Price struct {
	Amount   int64
	Currency string
}

// VerifyIntentPayment checks that intent succeeded and paid at least price in its currency.
func VerifyIntentPayment(intent domain.PaymentIntent, price Price) error {
	if intent.Status != domain.PaymentIntentSucceeded {
		return fmt.Errorf("%w: status %s", ErrIntentNotSucceeded, intent.Status)
	}
	if !strings.EqualFold(strings.TrimSpace(intent.Currency), strings.TrimSpace(price.Currency)) {
		return fmt.Errorf("%w: currency %q, want %q", ErrIntentAmountMismatch, intent.Currency, price.Currency)
	}
	if intent.Amount < price.Amount {
		return fmt.Errorf("%w: paid %d, want %d", ErrIntentAmountMismatch, intent.Amount, price.Amount)
	}
	return nil
}

// VerifyUpgradeIntent checks that intent paid price for a Pro upgrade by the given customer and
// user. An intent without uid metadata is accepted when the customer matches.
func VerifyUpgradeIntent(intent domain.PaymentIntent, price Price, customerID, uid string) error {
	if err := VerifyIntentPayment(intent, price); err != nil {
		return err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || intent.CustomerID != customerID {
		return ErrIntentOwnerMismatch
	}
	if owner := strings.TrimSpace(intent.Metadata[MetadataUserKey]); owner != "" && owner != uid {
		return ErrIntentOwnerMismatch
	}
	return nil
}
