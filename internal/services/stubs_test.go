package services

import (
	"context"
	"sync"
	"time"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/payments"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/storage"
	"github.com/kbkonsulting/Safe2Tow/internal/towing"
)

type repoErr struct {
	notFound bool
}

func (e repoErr) Error() string {
	if e.notFound {
		return "not found"
	}
	return "repository failure"
}
func (e repoErr) IsNotFound() bool    { return e.notFound }
func (e repoErr) IsConflict() bool    { return false }
func (e repoErr) IsUnavailable() bool { return !e.notFound }

type stubUserRepository struct {
	mu       sync.Mutex
	profiles map[string]domain.UserProfile
	err      error

	customerCalls int
	upgradeCalls  int
}

func newStubUsers(profiles ...domain.UserProfile) *stubUserRepository {
	repo := &stubUserRepository{profiles: map[string]domain.UserProfile{}}
	for _, p := range profiles {
		repo.profiles[p.UID] = p
	}
	return repo
}

func (s *stubUserRepository) FindByID(_ context.Context, uid string) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.UserProfile{}, s.err
	}
	p, ok := s.profiles[uid]
	if !ok {
		return domain.UserProfile{}, repoErr{notFound: true}
	}
	return p, nil
}

func (s *stubUserRepository) CreateIfNotExists(_ context.Context, profile domain.UserProfile) (domain.UserProfile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.UserProfile{}, false, s.err
	}
	if existing, ok := s.profiles[profile.UID]; ok {
		return existing, false, nil
	}
	s.profiles[profile.UID] = profile
	return profile, true, nil
}

func (s *stubUserRepository) SetStripeCustomerID(_ context.Context, uid, customerID string) (domain.UserProfile, error) {
	return s.update(uid, func(p *domain.UserProfile) {
		s.customerCalls++
		p.StripeCustomerID = customerID
	})
}

func (s *stubUserRepository) UpgradeToPro(_ context.Context, uid, customerID string) (domain.UserProfile, error) {
	return s.update(uid, func(p *domain.UserProfile) {
		s.upgradeCalls++
		p.IsProMember = true
		if customerID != "" {
			p.StripeCustomerID = customerID
		}
	})
}

func (s *stubUserRepository) SetProStatus(_ context.Context, uid string, isPro bool) (domain.UserProfile, error) {
	return s.update(uid, func(p *domain.UserProfile) { p.IsProMember = isPro })
}

func (s *stubUserRepository) update(uid string, fn func(*domain.UserProfile)) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.UserProfile{}, s.err
	}
	p, ok := s.profiles[uid]
	if !ok {
		return domain.UserProfile{}, repoErr{notFound: true}
	}
	fn(&p)
	s.profiles[uid] = p
	return p, nil
}

type stubSearchLogs struct {
	mu      sync.Mutex
	logs    []domain.SearchLog
	err     error
	ctxErr  error
	page    domain.Page[domain.SearchLog]
	params  pagination.Params
	cutoff  time.Time
	deleted int
}

func (s *stubSearchLogs) Insert(ctx context.Context, log domain.SearchLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return s.err
	}
	s.logs = append(s.logs, log)
	return nil
}

func (s *stubSearchLogs) ListByUser(_ context.Context, _ string, page pagination.Params) (domain.Page[domain.SearchLog], error) {
	s.params = page
	return s.page, s.err
}

func (s *stubSearchLogs) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.cutoff = cutoff
	return s.deleted, s.err
}

func (s *stubSearchLogs) inserted() []domain.SearchLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SearchLog(nil), s.logs...)
}

type stubAdvisor struct {
	info    domain.TowingInfo
	err     error
	queries []string
}

func (s *stubAdvisor) Lookup(_ context.Context, query string) (domain.TowingInfo, error) {
	s.queries = append(s.queries, query)
	return s.info, s.err
}

type stubPublisher struct {
	events []domain.SearchEvent
	err    error
}

func (s *stubPublisher) PublishSearchCompleted(_ context.Context, event domain.SearchEvent) (string, error) {
	s.events = append(s.events, event)
	return "msg-1", s.err
}

type stubVision struct {
	kind        domain.CodeKind
	vin         string
	vehicle     domain.VehicleIdentification
	err         error
	extractions int
}

func (s *stubVision) ExtractVIN(context.Context, towing.Image) (string, error) {
	s.extractions++
	return s.vin, s.err
}

func (s *stubVision) IdentifyVehicle(context.Context, towing.Image) (domain.VehicleIdentification, error) {
	return s.vehicle, s.err
}

func (s *stubVision) ClassifyCode(context.Context, towing.Image) (domain.CodeKind, error) {
	return s.kind, s.err
}

type stubPlates struct {
	vin string
	err error
}

func (s *stubPlates) DecodePlate(context.Context, towing.Image) (string, error) {
	return s.vin, s.err
}

type stubTowing struct {
	commands []LookupCommand
	result   LookupResult
	err      error
}

func (s *stubTowing) Lookup(_ context.Context, cmd LookupCommand) (LookupResult, error) {
	s.commands = append(s.commands, cmd)
	return s.result, s.err
}

type stubArchive struct {
	objects []storage.ScanObject
	err     error
}

func (s *stubArchive) StoreScan(_ context.Context, scan storage.ScanObject) (storage.ArchivedScan, error) {
	s.objects = append(s.objects, scan)
	if s.err != nil {
		return storage.ArchivedScan{}, s.err
	}
	return storage.ArchivedScan{ID: "scan-1", Bucket: "bucket", Path: "scans/" + scan.UID + "/scan-1.jpg"}, nil
}

type stubFeedbackRepository struct {
	items []domain.Feedback
	err   error
}

func (s *stubFeedbackRepository) Insert(_ context.Context, feedback domain.Feedback) error {
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, feedback)
	return nil
}

type stubProvider struct {
	customerID string
	customers  []payments.CustomerRequest
	intents    []payments.IntentRequest
	intent     domain.PaymentIntent
	fetched    domain.PaymentIntent
	getErr     error
	event      payments.WebhookEvent
	webhookErr error
}

func (s *stubProvider) CreateCustomer(_ context.Context, req payments.CustomerRequest) (string, error) {
	s.customers = append(s.customers, req)
	return s.customerID, nil
}

func (s *stubProvider) CreatePaymentIntent(_ context.Context, req payments.IntentRequest) (domain.PaymentIntent, error) {
	s.intents = append(s.intents, req)
	intent := s.intent
	intent.CustomerID = req.CustomerID
	intent.Amount = req.Amount
	intent.Currency = req.Currency
	intent.Metadata = req.Metadata
	return intent, nil
}

func (s *stubProvider) GetPaymentIntent(context.Context, string) (domain.PaymentIntent, error) {
	return s.fetched, s.getErr
}

func (s *stubProvider) ParseWebhook([]byte, string) (payments.WebhookEvent, error) {
	return s.event, s.webhookErr
}

type capturedEvent struct {
	name   string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, capturedEvent{name: event, fields: fields})
}

func (r *eventRecorder) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.name == name {
			return true
		}
	}
	return false
}
