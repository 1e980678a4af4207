package handlers

import (
	"context"
	"net/http"
	"sync"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/auth"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
	"github.com/kbkonsulting/Safe2Tow/internal/services"
)

const testBearer = "Bearer good-token"

type stubVerifier struct{}

func (stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	if idToken != "good-token" {
		return nil, errInvalidToken
	}
	return &firebaseauth.Token{
		UID:    "user-1",
		Claims: map[string]any{"email": "driver@example.com", "name": "Sam Driver"},
	}, nil
}

type tokenError string

func (e tokenError) Error() string { return string(e) }

const errInvalidToken = tokenError("invalid token")

func testAuthenticator() *auth.Authenticator {
	return auth.NewAuthenticator(stubVerifier{})
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", testBearer)
	return req
}

type stubTowingService struct {
	mu       sync.Mutex
	commands []services.LookupCommand
	result   services.LookupResult
	err      error
}

func (s *stubTowingService) Lookup(_ context.Context, cmd services.LookupCommand) (services.LookupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return s.result, s.err
}

type stubVehicleService struct {
	year         int
	manufacturer string
}

func (s *stubVehicleService) CorrectMake(_ context.Context, input string) string {
	if input == "chevy" {
		return "Chevrolet"
	}
	return input
}

func (s *stubVehicleService) Models(_ context.Context, year int, manufacturer string) []string {
	s.year, s.manufacturer = year, manufacturer
	return []string{"Civic", "Accord"}
}

func (s *stubVehicleService) Trims(context.Context, int, string, string) []string {
	return []string{}
}

type stubFeedbackService struct {
	cmd services.FeedbackCommand
	err error
}

func (s *stubFeedbackService) Submit(_ context.Context, cmd services.FeedbackCommand) (domain.Feedback, error) {
	s.cmd = cmd
	if s.err != nil {
		return domain.Feedback{}, s.err
	}
	return domain.Feedback{ID: "fb-1", Query: cmd.Query}, nil
}

type stubUserService struct {
	profile  domain.UserProfile
	ensured  services.EnsureProfileCommand
	page     domain.Page[domain.SearchLog]
	params   pagination.Params
	proErr   error
	proValue *bool
}

func (s *stubUserService) EnsureProfile(_ context.Context, cmd services.EnsureProfileCommand) (domain.UserProfile, error) {
	s.ensured = cmd
	profile := s.profile
	profile.UID = cmd.UID
	return profile, nil
}

func (s *stubUserService) GetProfile(_ context.Context, uid string) (domain.UserProfile, error) {
	return s.profile, nil
}

func (s *stubUserService) ListSearches(_ context.Context, _ string, page pagination.Params) (domain.Page[domain.SearchLog], error) {
	s.params = page
	return s.page, nil
}

func (s *stubUserService) SetProStatus(_ context.Context, uid string, isPro bool) (domain.UserProfile, error) {
	if s.proErr != nil {
		return domain.UserProfile{}, s.proErr
	}
	s.proValue = &isPro
	return domain.UserProfile{UID: uid, IsProMember: isPro}, nil
}

type stubScanService struct {
	authErr    error
	authorized []string
	scanned    bool
	cmd        services.ScanCommand
	result     services.ScanResult
	err        error
}

func (s *stubScanService) Authorize(_ context.Context, uid string) error {
	s.authorized = append(s.authorized, uid)
	return s.authErr
}

func (s *stubScanService) Scan(_ context.Context, cmd services.ScanCommand) (services.ScanResult, error) {
	s.scanned = true
	s.cmd = cmd
	return s.result, s.err
}

type stubMembershipService struct {
	mu         sync.Mutex
	intents    []services.PaymentIntentCommand
	upgrades   []services.UpgradeCommand
	webhookErr error
	signature  string
}

func (s *stubMembershipService) CreatePaymentIntent(_ context.Context, cmd services.PaymentIntentCommand) (services.PaymentIntentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents = append(s.intents, cmd)
	return services.PaymentIntentResult{
		PaymentIntentID:  "pi_1",
		ClientSecret:     "pi_1_secret",
		StripeCustomerID: "cus_1",
		Amount:           999,
		Currency:         "usd",
	}, nil
}

func (s *stubMembershipService) Upgrade(_ context.Context, cmd services.UpgradeCommand) (domain.UserProfile, error) {
	s.upgrades = append(s.upgrades, cmd)
	return domain.UserProfile{UID: cmd.UID, IsProMember: true}, nil
}

func (s *stubMembershipService) HandleWebhook(_ context.Context, _ []byte, signature string) error {
	s.signature = signature
	return s.webhookErr
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

type stubMaintenanceService struct {
	result services.PurgeResult
	err    error
	calls  int
}

func (s *stubMaintenanceService) PurgeSearchLogs(context.Context) (services.PurgeResult, error) {
	s.calls++
	return s.result, s.err
}
