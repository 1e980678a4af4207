package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

func newTowingRouter(towingSvc services.TowingService, vehicles services.VehicleService, limits RateLimits) http.Handler {
	h := NewTowingHandlers(towingSvc, vehicles, WithTowingAuthenticator(testAuthenticator()), WithTowingRateLimits(limits))
	return NewRouter(WithPublicRoutes(h.Routes))
}

func TestTowingLookupReturnsInfoAndSearchID(t *testing.T) {
	svc := &stubTowingService{result: services.LookupResult{
		SearchID: "search-1",
		Info:     domain.TowingInfo{Drivetrain: "AWD", TowingSafetyLevel: domain.TowingDollyRequired},
	}}
	router := newTowingRouter(svc, &stubVehicleService{}, RateLimits{})

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/towing/lookup", strings.NewReader(`{"year":2020,"make":"Subaru","model":"Outback"}`)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get(SearchIDHeader) != "search-1" {
		t.Fatalf("expected search id header, got %q", rr.Header().Get(SearchIDHeader))
	}
	var info domain.TowingInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.TowingSafetyLevel != domain.TowingDollyRequired {
		t.Fatalf("unexpected info %+v", info)
	}
	cmd := svc.commands[0]
	if cmd.UserUID != "user-1" || cmd.Year != 2020 || cmd.Make != "Subaru" || cmd.Source != domain.SearchSourceText {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestTowingLookupAnonymousWithBadToken(t *testing.T) {
	svc := &stubTowingService{}
	router := newTowingRouter(svc, &stubVehicleService{}, RateLimits{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/towing/lookup", strings.NewReader(`{"query":"2019 Ford F-150"}`))
	req.Header.Set("Authorization", "Bearer expired")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected anonymous lookup to succeed, got %d", rr.Code)
	}
	if svc.commands[0].UserUID != "" {
		t.Fatalf("expected anonymous command, got %q", svc.commands[0].UserUID)
	}
}

func TestTowingLookupErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: query is empty", towing.ErrInvalidQuery), http.StatusBadRequest, "invalid_query"},
		{towing.ErrBackendUnavailable, http.StatusServiceUnavailable, "backend_unavailable"},
		{&towing.MalformedResponseError{Reason: "no json"}, http.StatusBadGateway, "malformed_response"},
		{towing.ErrUnrecognizedVehicle, http.StatusUnprocessableEntity, "unrecognized_vehicle"},
		{towing.ErrExtractionNotFound, http.StatusUnprocessableEntity, "extraction_not_found"},
		{errors.New("surprise"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			router := newTowingRouter(&stubTowingService{err: tc.err}, &stubVehicleService{}, RateLimits{})
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/towing/lookup", strings.NewReader(`{"query":"x"}`)))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestTowingLookupRejectsInvalidBodies(t *testing.T) {
	router := newTowingRouter(&stubTowingService{}, &stubVehicleService{}, RateLimits{})
	for _, body := range []string{"", "not json", strings.Repeat("a", maxJSONBodySize+10)} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/towing/lookup", strings.NewReader(body)))
		if rr.Code != http.StatusBadRequest && rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected client error for %.10q, got %d", body, rr.Code)
		}
	}
}

func TestTowingLookupRateLimited(t *testing.T) {
	router := newTowingRouter(&stubTowingService{}, &stubVehicleService{}, RateLimits{Lookup: 1})
	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/towing/lookup", strings.NewReader(`{"query":"2020 Honda Civic"}`))
		req.RemoteAddr = "203.0.113.7:4000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", code)
	}
}

func TestVehicleSuggestionEndpoints(t *testing.T) {
	vehicles := &stubVehicleService{}
	router := newTowingRouter(&stubTowingService{}, vehicles, RateLimits{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/vehicles/models?year=2021&make=Honda", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("models: expected 200, got %d", rr.Code)
	}
	var options optionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &options); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(options.Options) != 2 || vehicles.year != 2021 || vehicles.manufacturer != "Honda" {
		t.Fatalf("unexpected options %+v", options)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/vehicles/trims?year=2021&make=Honda&model=Civic", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"options":[]`) {
		t.Fatalf("trims: unexpected response %d %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/vehicles/makes/correct?make=chevy", nil))
	var corrected correctMakeResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &corrected); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if corrected.Input != "chevy" || corrected.CorrectedMake != "Chevrolet" {
		t.Fatalf("unexpected correction %+v", corrected)
	}

	for _, path := range []string{
		"/api/v1/vehicles/models?year=abc&make=Honda",
		"/api/v1/vehicles/models?year=2021",
		"/api/v1/vehicles/trims?make=Honda",
		"/api/v1/vehicles/makes/correct",
	} {
		rr = httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rr.Code)
		}
	}
}
