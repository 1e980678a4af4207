package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
)

func newTestUserService(t *testing.T, users *stubUserRepository, logs *stubSearchLogs, toggle bool, rec *eventRecorder) UserService {
	t.Helper()
	svc, err := NewUserService(UserServiceDeps{
		Users:        users,
		SearchLogs:   logs,
		Clock:        func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
		DevProToggle: toggle,
		Logger:       rec.log,
	})
	if err != nil {
		t.Fatalf("NewUserService: %v", err)
	}
	return svc
}

func TestEnsureProfileCreatesOnce(t *testing.T) {
	users := newStubUsers()
	rec := &eventRecorder{}
	svc := newTestUserService(t, users, &stubSearchLogs{}, false, rec)

	first, err := svc.EnsureProfile(context.Background(), EnsureProfileCommand{UID: "u1", Email: " a@example.com ", Name: "Ann"})
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if first.Email != "a@example.com" || first.IsProMember || first.CreatedAt.IsZero() {
		t.Fatalf("unexpected profile %+v", first)
	}
	if !rec.has("user_profile_created") {
		t.Fatalf("expected creation to be logged")
	}

	users.profiles["u1"] = domain.UserProfile{UID: "u1", Email: "a@example.com", IsProMember: true}
	second, err := svc.EnsureProfile(context.Background(), EnsureProfileCommand{UID: "u1", Email: "other@example.com"})
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if !second.IsProMember || second.Email != "a@example.com" {
		t.Fatalf("existing profile must be returned untouched, got %+v", second)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	svc := newTestUserService(t, newStubUsers(), &stubSearchLogs{}, false, &eventRecorder{})
	if _, err := svc.GetProfile(context.Background(), "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := svc.GetProfile(context.Background(), " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestListSearchesClampsPageSize(t *testing.T) {
	logs := &stubSearchLogs{page: domain.Page[domain.SearchLog]{Items: []domain.SearchLog{{ID: "s1"}}, NextPageToken: "next"}}
	svc := newTestUserService(t, newStubUsers(), logs, false, &eventRecorder{})

	page, err := svc.ListSearches(context.Background(), "u1", pagination.Params{PageSize: 500})
	if err != nil {
		t.Fatalf("ListSearches: %v", err)
	}
	if logs.params.PageSize != pagination.MaxPageSize {
		t.Fatalf("expected clamped page size, got %d", logs.params.PageSize)
	}
	if len(page.Items) != 1 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page %+v", page)
	}

	if _, err := svc.ListSearches(context.Background(), "u1", pagination.Params{}); err != nil {
		t.Fatalf("ListSearches: %v", err)
	}
	if logs.params.PageSize != pagination.DefaultPageSize {
		t.Fatalf("expected default page size, got %d", logs.params.PageSize)
	}
}

func TestSetProStatusRequiresToggle(t *testing.T) {
	users := newStubUsers(domain.UserProfile{UID: "u1"})
	disabled := newTestUserService(t, users, &stubSearchLogs{}, false, &eventRecorder{})
	if _, err := disabled.SetProStatus(context.Background(), "u1", true); !errors.Is(err, ErrFeatureDisabled) {
		t.Fatalf("expected feature disabled, got %v", err)
	}

	enabled := newTestUserService(t, users, &stubSearchLogs{}, true, &eventRecorder{})
	profile, err := enabled.SetProStatus(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("SetProStatus: %v", err)
	}
	if !profile.IsProMember {
		t.Fatalf("expected pro member")
	}
	if _, err := enabled.SetProStatus(context.Background(), "ghost", true); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}
