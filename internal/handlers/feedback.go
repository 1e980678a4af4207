package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/auth"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/httpx"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
)

// FeedbackHandlers records ratings of towing results.
type FeedbackHandlers struct {
	authn    *auth.Authenticator
	feedback services.FeedbackService
	limiter  rateLimiter
}

// NewFeedbackHandlers constructs the feedback handlers. perMinute bounds submissions per
// caller; zero disables the limit.
func NewFeedbackHandlers(authn *auth.Authenticator, feedback services.FeedbackService, perMinute int) *FeedbackHandlers {
	return &FeedbackHandlers{
		authn:    authn,
		feedback: feedback,
		limiter:  newSimpleRateLimiter(perMinute, time.Minute, time.Now),
	}
}

// Routes registers POST /feedback.
func (h *FeedbackHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalUser())
	}
	r.With(rateLimitMiddleware("feedback", h.limiter, h.limiter)).Post("/feedback", h.submit)
}

type feedbackRequest struct {
	Query        string            `json:"query"`
	TowingInfo   domain.TowingInfo `json:"towingInfo"`
	FeedbackText string            `json:"feedbackText"`
	IsHelpful    *bool             `json:"isHelpful"`
}

type feedbackResponse struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
}

func (h *FeedbackHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.feedback == nil {
		httpx.WriteError(ctx, w, httpx.NewError("feedback_service_unavailable", "feedback service is unavailable", http.StatusServiceUnavailable))
		return
	}
	var req feedbackRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	saved, err := h.feedback.Submit(ctx, services.FeedbackCommand{
		UserUID:      auth.UID(ctx),
		Query:        req.Query,
		TowingInfo:   req.TowingInfo,
		FeedbackText: req.FeedbackText,
		IsHelpful:    req.IsHelpful,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, feedbackResponse{ID: saved.ID, CreatedAt: formatTime(saved.CreatedAt)})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
