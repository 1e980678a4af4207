package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kbkonsulting/Safe2Tow/internal/platform/auth"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/httpx"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
)

const (
	idempotencyHeader     = "Idempotency-Key"
	maxWebhookBodySize    = 512 * 1024
	stripeSignatureHeader = "Stripe-Signature"
)

// MembershipHandlers sells and activates Pro membership.
type MembershipHandlers struct {
	authn       *auth.Authenticator
	membership  services.MembershipService
	idempotency func(http.Handler) http.Handler
}

// NewMembershipHandlers constructs the membership handlers. idempotency wraps intent creation
// and may be nil.
func NewMembershipHandlers(authn *auth.Authenticator, membership services.MembershipService, idempotency func(http.Handler) http.Handler) *MembershipHandlers {
	return &MembershipHandlers{authn: authn, membership: membership, idempotency: idempotency}
}

// Routes registers the /membership endpoints.
func (h *MembershipHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	intents := r.With()
	if h.idempotency != nil {
		intents = r.With(h.idempotency)
	}
	intents.Post("/payment-intents", h.createPaymentIntent)
	r.Post("/upgrade", h.upgrade)
}

type paymentIntentRequest struct {
	Amount int64  `json:"amount"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

type paymentIntentResponse struct {
	ClientSecret     string `json:"clientSecret"`
	StripeCustomerID string `json:"stripeCustomerId"`
	PaymentIntentID  string `json:"paymentIntentId"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
}

type upgradeRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
}

func (h *MembershipHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.membership == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payments are not configured", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req paymentIntentRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	result, err := h.membership.CreatePaymentIntent(ctx, services.PaymentIntentCommand{
		UID:            identity.UID,
		Email:          firstNonBlank(req.Email, identity.Email),
		Name:           firstNonBlank(req.Name, identity.Name),
		Amount:         req.Amount,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, paymentIntentResponse{
		ClientSecret:     result.ClientSecret,
		StripeCustomerID: result.StripeCustomerID,
		PaymentIntentID:  result.PaymentIntentID,
		Amount:           result.Amount,
		Currency:         result.Currency,
	})
}

func (h *MembershipHandlers) upgrade(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.membership == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payments are not configured", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req upgradeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.PaymentIntentID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentIntentId is required", http.StatusBadRequest))
		return
	}
	profile, err := h.membership.Upgrade(ctx, services.UpgradeCommand{UID: identity.UID, PaymentIntentID: req.PaymentIntentID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProfilePayload(profile))
}

// WebhookHandlers receives PSP notifications.
type WebhookHandlers struct {
	membership services.MembershipService
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(membership services.MembershipService) *WebhookHandlers {
	return &WebhookHandlers{membership: membership}
}

// Routes registers POST /stripe.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.membership == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payments_unavailable", "payments are not configured", http.StatusServiceUnavailable))
		return
	}
	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	signature := strings.TrimSpace(r.Header.Get(stripeSignatureHeader))
	if signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "missing webhook signature", http.StatusBadRequest))
		return
	}
	if err := h.membership.HandleWebhook(ctx, payload, signature); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
