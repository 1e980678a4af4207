package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
)

type fakeCustomers struct {
	params *stripe.CustomerParams
	err    error
}

func (f *fakeCustomers) New(params *stripe.CustomerParams) (*stripe.Customer, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.Customer{ID: "cus_123"}, nil
}

type fakeIntents struct {
	created *stripe.PaymentIntentParams
	intents map[string]*stripe.PaymentIntent
	err     error
}

func (f *fakeIntents) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret",
		Amount:       *params.Amount,
		Currency:     stripe.Currency(*params.Currency),
		Customer:     &stripe.Customer{ID: stripe.StringValue(params.Customer)},
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
		Metadata:     params.Metadata,
	}, nil
}

func (f *fakeIntents) Get(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if intent, ok := f.intents[id]; ok {
		return intent, nil
	}
	return nil, &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}
}

func newTestProvider(t *testing.T, customers *fakeCustomers, intents *fakeIntents) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		WebhookSecret: "whsec_test",
		Clients:       &stripeClients{customers: customers, intents: intents},
	})
	if err != nil {
		t.Fatalf("NewStripeProvider: %v", err)
	}
	return provider
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestCreateCustomerTagsUID(t *testing.T) {
	customers := &fakeCustomers{}
	provider := newTestProvider(t, customers, &fakeIntents{})

	id, err := provider.CreateCustomer(context.Background(), CustomerRequest{UID: "user-1", Email: " a@example.com ", Name: "Ada", IdempotencyKey: "customer-user-1"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}
	if id != "cus_123" {
		t.Fatalf("unexpected id %s", id)
	}
	if stripe.StringValue(customers.params.Email) != "a@example.com" || customers.params.Metadata[MetadataUserKey] != "user-1" {
		t.Fatalf("unexpected params %+v", customers.params)
	}
	if stripe.StringValue(customers.params.IdempotencyKey) != "customer-user-1" {
		t.Fatalf("expected idempotency key to be forwarded")
	}
}

func TestCreatePaymentIntentEnablesAutomaticMethods(t *testing.T) {
	intents := &fakeIntents{}
	provider := newTestProvider(t, &fakeCustomers{}, intents)

	intent, err := provider.CreatePaymentIntent(context.Background(), IntentRequest{
		Amount:     999,
		Currency:   "USD",
		CustomerID: "cus_123",
		Metadata:   map[string]string{MetadataUserKey: "user-1", "empty": ""},
	})
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}
	if intent.ClientSecret != "pi_123_secret" || intent.CustomerID != "cus_123" || intent.Currency != "usd" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Status != domain.PaymentIntentRequiresPaymentMethod {
		t.Fatalf("unexpected status %s", intent.Status)
	}
	if !stripe.BoolValue(intents.created.AutomaticPaymentMethods.Enabled) {
		t.Fatalf("expected automatic payment methods")
	}
	if _, ok := intents.created.Metadata["empty"]; ok {
		t.Fatalf("expected empty metadata to be dropped")
	}

	if _, err := provider.CreatePaymentIntent(context.Background(), IntentRequest{Amount: 0, Currency: "usd"}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestGetPaymentIntentMapsNotFound(t *testing.T) {
	intents := &fakeIntents{intents: map[string]*stripe.PaymentIntent{
		"pi_paid": {ID: "pi_paid", Status: stripe.PaymentIntentStatusSucceeded, Customer: &stripe.Customer{ID: "cus_1"}},
	}}
	provider := newTestProvider(t, &fakeCustomers{}, intents)

	intent, err := provider.GetPaymentIntent(context.Background(), "pi_paid")
	if err != nil {
		t.Fatalf("GetPaymentIntent: %v", err)
	}
	if intent.Status != domain.PaymentIntentSucceeded || intent.CustomerID != "cus_1" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if _, err := provider.GetPaymentIntent(context.Background(), "pi_missing"); !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParseWebhookVerifiesSignature(t *testing.T) {
	provider := newTestProvider(t, &fakeCustomers{}, &fakeIntents{})
	payload := []byte(`{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"api_version": "2020-08-27",
		"data": {"object": {"id": "pi_9", "object": "payment_intent", "status": "succeeded", "customer": "cus_9", "amount": 999, "currency": "usd", "metadata": {"uid": "user-9"}}}
	}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})

	event, err := provider.ParseWebhook(payload, signed.Header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if event.Type != EventPaymentIntentSucceeded || event.Intent == nil {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Intent.ID != "pi_9" || event.Intent.CustomerID != "cus_9" || event.Intent.Metadata[MetadataUserKey] != "user-9" {
		t.Fatalf("unexpected intent %+v", event.Intent)
	}

	if _, err := provider.ParseWebhook(payload, "t=1,v1=deadbeef"); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestVerifyUpgradeIntent(t *testing.T) {
	price := Price{Amount: 999, Currency: "usd"}
	paid := domain.PaymentIntent{
		ID:         "pi_1",
		CustomerID: "cus_1",
		Amount:     999,
		Currency:   "usd",
		Status:     domain.PaymentIntentSucceeded,
		Metadata:   map[string]string{MetadataUserKey: "user-1"},
	}
	if err := VerifyUpgradeIntent(paid, price, "cus_1", "user-1"); err != nil {
		t.Fatalf("expected paid intent to verify, got %v", err)
	}

	pending := paid
	pending.Status = domain.PaymentIntentProcessing
	if err := VerifyUpgradeIntent(pending, price, "cus_1", "user-1"); !errors.Is(err, ErrIntentNotSucceeded) {
		t.Fatalf("expected not succeeded, got %v", err)
	}
	if err := VerifyUpgradeIntent(paid, price, "cus_2", "user-1"); !errors.Is(err, ErrIntentOwnerMismatch) {
		t.Fatalf("expected customer mismatch, got %v", err)
	}
	if err := VerifyUpgradeIntent(paid, price, "cus_1", "user-2"); !errors.Is(err, ErrIntentOwnerMismatch) {
		t.Fatalf("expected uid mismatch, got %v", err)
	}
	if err := VerifyUpgradeIntent(paid, price, "", "user-1"); !errors.Is(err, ErrIntentOwnerMismatch) {
		t.Fatalf("expected mismatch for user without customer, got %v", err)
	}
}

func TestVerifyIntentPaymentRequiresPrice(t *testing.T) {
	price := Price{Amount: 999, Currency: "usd"}
	cases := []struct {
		name     string
		amount   int64
		currency string
		wantErr  bool
	}{
		{name: "exact", amount: 999, currency: "usd"},
		{name: "upper case currency", amount: 999, currency: "USD"},
		{name: "overpaid", amount: 1500, currency: "usd"},
		{name: "minimum charge", amount: 50, currency: "usd", wantErr: true},
		{name: "other currency", amount: 999, currency: "jpy", wantErr: true},
		{name: "zero", amount: 0, currency: "usd", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := domain.PaymentIntent{Status: domain.PaymentIntentSucceeded, Amount: tc.amount, Currency: tc.currency}
			err := VerifyIntentPayment(intent, price)
			if tc.wantErr && !errors.Is(err, ErrIntentAmountMismatch) {
				t.Fatalf("expected amount mismatch, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
