package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/auth"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/httpx"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
)

// MeHandlers exposes authenticated profile endpoints for the current user.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the user service.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{authn: authn, users: users}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireUser())
	}
	r.Get("/", h.getProfile)
	r.Get("/searches", h.listSearches)
	r.Put("/pro-status", h.setProStatus)
}

type profilePayload struct {
	UID              string `json:"uid"`
	Email            string `json:"email,omitempty"`
	Name             string `json:"name,omitempty"`
	IsProMember      bool   `json:"isProMember"`
	StripeCustomerID string `json:"stripeCustomerId,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	UpdatedAt        string `json:"updatedAt,omitempty"`
}

type searchParamsPayload struct {
	Query string `json:"query"`
	Year  int    `json:"year,omitempty"`
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Trim  string `json:"trim,omitempty"`
	VIN   string `json:"vin,omitempty"`
}

type searchLogPayload struct {
	ID            string              `json:"id"`
	SearchParams  searchParamsPayload `json:"searchParams"`
	Source        string              `json:"source"`
	WasSuccessful bool                `json:"wasSuccessful"`
	ErrorMessage  string              `json:"errorMessage,omitempty"`
	FullResult    *domain.TowingInfo  `json:"fullResult,omitempty"`
	ScanImagePath string              `json:"scanImagePath,omitempty"`
	CreatedAt     string              `json:"createdAt"`
}

type searchPagePayload struct {
	Items         []searchLogPayload `json:"items"`
	NextPageToken string             `json:"nextPageToken,omitempty"`
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	profile, err := h.users.EnsureProfile(ctx, services.EnsureProfileCommand{
		UID:   identity.UID,
		Email: identity.Email,
		Name:  identity.Name,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProfilePayload(profile))
}

func (h *MeHandlers) listSearches(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	params, err := pagination.Parse(r.URL.Query())
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	page, err := h.users.ListSearches(ctx, identity.UID, params)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := searchPagePayload{Items: make([]searchLogPayload, 0, len(page.Items)), NextPageToken: page.NextPageToken}
	for _, log := range page.Items {
		payload.Items = append(payload.Items, buildSearchLogPayload(log))
	}
	httpx.WriteJSON(w, http.StatusOK, payload)
}

type proStatusRequest struct {
	IsPro *bool `json:"isPro"`
}

func (h *MeHandlers) setProStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req proStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.IsPro == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "isPro is required", http.StatusBadRequest))
		return
	}
	profile, err := h.users.SetProStatus(ctx, identity.UID, *req.IsPro)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildProfilePayload(profile))
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.UID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func buildProfilePayload(profile domain.UserProfile) profilePayload {
	return profilePayload{
		UID:              profile.UID,
		Email:            profile.Email,
		Name:             profile.Name,
		IsProMember:      profile.IsProMember,
		StripeCustomerID: profile.StripeCustomerID,
		CreatedAt:        formatTime(profile.CreatedAt),
		UpdatedAt:        formatTime(profile.UpdatedAt),
	}
}

func buildSearchLogPayload(log domain.SearchLog) searchLogPayload {
	payload := searchLogPayload{
		ID: log.ID,
		SearchParams: searchParamsPayload{
			Query: log.Params.Query,
			Year:  log.Params.Year,
			Make:  log.Params.Make,
			Model: log.Params.Model,
			Trim:  log.Params.Trim,
			VIN:   log.Params.VIN,
		},
		Source:        string(log.Source),
		WasSuccessful: log.WasSuccessful,
		FullResult:    log.FullResult,
		ScanImagePath: log.ScanImagePath,
		CreatedAt:     formatTime(log.CreatedAt),
	}
	if log.ErrorMessage != nil {
		payload.ErrorMessage = *log.ErrorMessage
	}
	return payload
}
