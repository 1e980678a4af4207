package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/payments"
	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
)

const proDescription = "Safe2Tow Pro membership"

// PaymentIntentCommand starts a Pro purchase for a signed-in user.
type PaymentIntentCommand struct {
	UID   string
	Email string
	Name  string
	// Amount is optional; when set it must equal the configured Pro price in minor units.
	Amount         int64
	IdempotencyKey string
}

// PaymentIntentResult is what the client needs to confirm the payment.
type PaymentIntentResult struct {
	PaymentIntentID  string
	ClientSecret     string
	StripeCustomerID string
	Amount           int64
	Currency         string
}

// UpgradeCommand activates Pro after the client confirmed a payment.
type UpgradeCommand struct {
	UID             string
	PaymentIntentID string
}

// MembershipServiceDeps bundles collaborators required to construct a membership service.
type MembershipServiceDeps struct {
	Users repositories.UserRepository
	// Payments is optional; every operation fails with ErrPaymentsUnavailable without it.
	Payments   payments.Provider
	PriceCents int64
	Currency   string
	Logger     Logger
}

type membershipService struct {
	users    repositories.UserRepository
	payments payments.Provider
	price    int64
	currency string
	logger   Logger
}

var _ MembershipService = (*membershipService)(nil)

// NewMembershipService constructs the Pro purchase flow.
func NewMembershipService(deps MembershipServiceDeps) (MembershipService, error) {
	if deps.Users == nil {
		return nil, errors.New("membership service: user repository is required")
	}
	if deps.PriceCents <= 0 {
		return nil, errors.New("membership service: price must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &membershipService{
		users:    deps.Users,
		payments: deps.Payments,
		price:    deps.PriceCents,
		currency: currency,
		logger:   logger,
	}, nil
}

// CreatePaymentIntent reuses the user's PSP customer, creating and storing one on first
// purchase, then opens an intent tagged with the user's uid.
func (s *membershipService) CreatePaymentIntent(ctx context.Context, cmd PaymentIntentCommand) (PaymentIntentResult, error) {
	if s.payments == nil {
		return PaymentIntentResult{}, ErrPaymentsUnavailable
	}
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if cmd.Amount != 0 && cmd.Amount != s.price {
		return PaymentIntentResult{}, fmt.Errorf("%w: amount must be %d", ErrInvalidInput, s.price)
	}

	profile, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return PaymentIntentResult{}, mapUserError(err)
	}
	if profile.IsProMember {
		return PaymentIntentResult{}, fmt.Errorf("%w: already a pro member", ErrInvalidInput)
	}

	customerID := strings.TrimSpace(profile.StripeCustomerID)
	if customerID == "" {
		email := firstNonEmpty(cmd.Email, profile.Email)
		customerID, err = s.payments.CreateCustomer(ctx, payments.CustomerRequest{
			UID:            uid,
			Email:          email,
			Name:           firstNonEmpty(cmd.Name, profile.Name),
			IdempotencyKey: "customer-" + uid,
		})
		if err != nil {
			return PaymentIntentResult{}, err
		}
		if _, err := s.users.SetStripeCustomerID(ctx, uid, customerID); err != nil {
			return PaymentIntentResult{}, mapUserError(err)
		}
		s.logger(ctx, "stripe_customer_created", map[string]any{"uid": uid, "customerId": customerID})
	}

	amount := s.price
	req := payments.IntentRequest{
		Amount:      amount,
		Currency:    s.currency,
		CustomerID:  customerID,
		Description: proDescription,
		Metadata:    map[string]string{payments.MetadataUserKey: uid},
	}
	if key := strings.TrimSpace(cmd.IdempotencyKey); key != "" {
		req.IdempotencyKey = "intent-" + uid + "-" + key
	}
	intent, err := s.payments.CreatePaymentIntent(ctx, req)
	if err != nil {
		return PaymentIntentResult{}, err
	}
	s.logger(ctx, "payment_intent_created", map[string]any{"uid": uid, "paymentIntentId": intent.ID, "amount": amount})
	return PaymentIntentResult{
		PaymentIntentID:  intent.ID,
		ClientSecret:     intent.ClientSecret,
		StripeCustomerID: customerID,
		Amount:           amount,
		Currency:         s.currency,
	}, nil
}

// Upgrade verifies the referenced intent succeeded for the caller before setting Pro.
// Upgrading an existing Pro member is a no-op.
func (s *membershipService) Upgrade(ctx context.Context, cmd UpgradeCommand) (domain.UserProfile, error) {
	if s.payments == nil {
		return domain.UserProfile{}, ErrPaymentsUnavailable
	}
	uid := strings.TrimSpace(cmd.UID)
	intentID := strings.TrimSpace(cmd.PaymentIntentID)
	if uid == "" || intentID == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: user id and payment intent id are required", ErrInvalidInput)
	}
	profile, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return domain.UserProfile{}, mapUserError(err)
	}
	if profile.IsProMember {
		return profile, nil
	}

	intent, err := s.payments.GetPaymentIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			return domain.UserProfile{}, fmt.Errorf("%w: %v", ErrPaymentNotCompleted, err)
		}
		return domain.UserProfile{}, err
	}
	if err := payments.VerifyUpgradeIntent(intent, s.proPrice(), profile.StripeCustomerID, uid); err != nil {
		return domain.UserProfile{}, fmt.Errorf("%w: %v", ErrPaymentNotCompleted, err)
	}
	upgraded, err := s.users.UpgradeToPro(ctx, uid, intent.CustomerID)
	if err != nil {
		return domain.UserProfile{}, mapUserError(err)
	}
	s.logger(ctx, "membership_upgraded", map[string]any{"uid": uid, "paymentIntentId": intentID, "via": "client"})
	return upgraded, nil
}

// HandleWebhook upgrades the uid named in a succeeded intent's metadata. Other events are
// acknowledged without action.
func (s *membershipService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.payments == nil {
		return ErrPaymentsUnavailable
	}
	event, err := s.payments.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}
	if event.Type != payments.EventPaymentIntentSucceeded || event.Intent == nil {
		s.logger(ctx, "stripe_webhook_ignored", map[string]any{"eventId": event.ID, "type": string(event.Type)})
		return nil
	}
	uid := strings.TrimSpace(event.Intent.Metadata[payments.MetadataUserKey])
	if uid == "" {
		s.logger(ctx, "stripe_webhook_missing_uid", map[string]any{"eventId": event.ID, "paymentIntentId": event.Intent.ID})
		return nil
	}
	if err := payments.VerifyIntentPayment(*event.Intent, s.proPrice()); err != nil {
		s.logger(ctx, "stripe_webhook_underpaid", map[string]any{
			"eventId":         event.ID,
			"uid":             uid,
			"paymentIntentId": event.Intent.ID,
			"amount":          event.Intent.Amount,
			"currency":        event.Intent.Currency,
			"error":           err.Error(),
		})
		return nil
	}
	if _, err := s.users.UpgradeToPro(ctx, uid, event.Intent.CustomerID); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			s.logger(ctx, "stripe_webhook_unknown_user", map[string]any{"eventId": event.ID, "uid": uid})
			return nil
		}
		return err
	}
	s.logger(ctx, "membership_upgraded", map[string]any{"uid": uid, "paymentIntentId": event.Intent.ID, "via": "webhook"})
	return nil
}

func (s *membershipService) proPrice() payments.Price {
	return payments.Price{Amount: s.price, Currency: s.currency}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
