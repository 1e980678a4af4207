package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/auth"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/httpx"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
)

// SearchIDHeader carries the search log id of a lookup response.
const SearchIDHeader = "X-Search-ID"

// TowingHandlers serves towing lookups and vehicle suggestions.
type TowingHandlers struct {
	authn    *auth.Authenticator
	towing   services.TowingService
	vehicles services.VehicleService
	limits   RateLimits
	clock    func() time.Time
}

// TowingOption customises TowingHandlers.
type TowingOption func(*TowingHandlers)

// WithTowingAuthenticator attaches optional Firebase identities to lookups.
func WithTowingAuthenticator(authn *auth.Authenticator) TowingOption {
	return func(h *TowingHandlers) {
		h.authn = authn
	}
}

// WithTowingRateLimits sets per-minute request budgets.
func WithTowingRateLimits(limits RateLimits) TowingOption {
	return func(h *TowingHandlers) {
		h.limits = limits
	}
}

// WithTowingClock overrides the clock used by the rate limiters.
func WithTowingClock(clock func() time.Time) TowingOption {
	return func(h *TowingHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewTowingHandlers constructs the public lookup handlers.
func NewTowingHandlers(towing services.TowingService, vehicles services.VehicleService, opts ...TowingOption) *TowingHandlers {
	h := &TowingHandlers{towing: towing, vehicles: vehicles, clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers /towing and /vehicles endpoints.
func (h *TowingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.OptionalUser())
	}
	lookupLimit := h.limits.Lookup
	r.With(rateLimitMiddleware("towing_lookup",
		newSimpleRateLimiter(lookupLimit, time.Minute, h.clock),
		newSimpleRateLimiter(lookupLimit, time.Minute, h.clock),
	)).Post("/towing/lookup", h.lookup)

	r.Route("/vehicles", func(vr chi.Router) {
		vr.Use(rateLimitMiddleware("vehicles",
			newSimpleRateLimiter(h.limits.Authenticated, time.Minute, h.clock),
			newSimpleRateLimiter(h.limits.Anonymous, time.Minute, h.clock),
		))
		vr.Get("/makes/correct", h.correctMake)
		vr.Get("/models", h.models)
		vr.Get("/trims", h.trims)
	})
}

type lookupRequest struct {
	Query string `json:"query"`
	Year  int    `json:"year"`
	Make  string `json:"make"`
	Model string `json:"model"`
	Trim  string `json:"trim"`
	VIN   string `json:"vin"`
}

func (h *TowingHandlers) lookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.towing == nil {
		httpx.WriteError(ctx, w, httpx.NewError("towing_service_unavailable", "towing service is unavailable", http.StatusServiceUnavailable))
		return
	}
	var req lookupRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	result, err := h.towing.Lookup(ctx, services.LookupCommand{
		UserUID: auth.UID(ctx),
		Query:   req.Query,
		Year:    req.Year,
		Make:    req.Make,
		Model:   req.Model,
		Trim:    req.Trim,
		VIN:     req.VIN,
		Source:  domain.SearchSourceText,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set(SearchIDHeader, result.SearchID)
	httpx.WriteJSON(w, http.StatusOK, result.Info)
}

type correctMakeResponse struct {
	Input         string `json:"input"`
	CorrectedMake string `json:"correctedMake"`
}

type optionsResponse struct {
	Options []string `json:"options"`
}

func (h *TowingHandlers) correctMake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vehicles == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vehicle_service_unavailable", "vehicle service is unavailable", http.StatusServiceUnavailable))
		return
	}
	input := strings.TrimSpace(r.URL.Query().Get("make"))
	if input == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "make is required", http.StatusBadRequest))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, correctMakeResponse{Input: input, CorrectedMake: h.vehicles.CorrectMake(ctx, input)})
}

func (h *TowingHandlers) models(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vehicles == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vehicle_service_unavailable", "vehicle service is unavailable", http.StatusServiceUnavailable))
		return
	}
	year, manufacturer, ok := yearAndMake(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, optionsResponse{Options: h.vehicles.Models(ctx, year, manufacturer)})
}

func (h *TowingHandlers) trims(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vehicles == nil {
		httpx.WriteError(ctx, w, httpx.NewError("vehicle_service_unavailable", "vehicle service is unavailable", http.StatusServiceUnavailable))
		return
	}
	year, manufacturer, ok := yearAndMake(w, r)
	if !ok {
		return
	}
	model := strings.TrimSpace(r.URL.Query().Get("model"))
	if model == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "model is required", http.StatusBadRequest))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, optionsResponse{Options: h.vehicles.Trims(ctx, year, manufacturer, model)})
}

// yearAndMake reads the shared suggestion parameters. Year is optional.
func yearAndMake(w http.ResponseWriter, r *http.Request) (int, string, bool) {
	ctx := r.Context()
	query := r.URL.Query()
	year := 0
	if raw := strings.TrimSpace(query.Get("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1886 || parsed > 2100 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "year must be a four digit model year", http.StatusBadRequest))
			return 0, "", false
		}
		year = parsed
	}
	manufacturer := strings.TrimSpace(query.Get("make"))
	if manufacturer == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "make is required", http.StatusBadRequest))
		return 0, "", false
	}
	return year, manufacturer, true
}
