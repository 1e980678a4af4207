package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
)

// EnsureProfileCommand carries the identity claims used to seed a new profile.
type EnsureProfileCommand struct {
	UID   string
	Email string
	Name  string
}

// UserServiceDeps bundles collaborators required to construct a user service.
type UserServiceDeps struct {
	Users      repositories.UserRepository
	SearchLogs repositories.SearchLogRepository
	Clock      func() time.Time
	// DevProToggle enables SetProStatus outside of the payment flow.
	DevProToggle bool
	Logger       Logger
}

type userService struct {
	users        repositories.UserRepository
	searchLogs   repositories.SearchLogRepository
	clock        func() time.Time
	devProToggle bool
	logger       Logger
}

var _ UserService = (*userService)(nil)

// NewUserService constructs the profile service.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service: user repository is required")
	}
	if deps.SearchLogs == nil {
		return nil, errors.New("user service: search log repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &userService{
		users:        deps.Users,
		searchLogs:   deps.SearchLogs,
		clock:        func() time.Time { return clock().UTC() },
		devProToggle: deps.DevProToggle,
		logger:       logger,
	}, nil
}

// EnsureProfile returns the stored profile, creating a free one on first sign-in.
func (s *userService) EnsureProfile(ctx context.Context, cmd EnsureProfileCommand) (domain.UserProfile, error) {
	uid := strings.TrimSpace(cmd.UID)
	if uid == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.clock()
	profile, created, err := s.users.CreateIfNotExists(ctx, domain.UserProfile{
		UID:       uid,
		Email:     strings.TrimSpace(cmd.Email),
		Name:      strings.TrimSpace(cmd.Name),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.UserProfile{}, err
	}
	if created {
		s.logger(ctx, "user_profile_created", map[string]any{"uid": uid})
	}
	return profile, nil
}

func (s *userService) GetProfile(ctx context.Context, uid string) (domain.UserProfile, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	profile, err := s.users.FindByID(ctx, uid)
	if err != nil {
		return domain.UserProfile{}, mapUserError(err)
	}
	return profile, nil
}

func (s *userService) ListSearches(ctx context.Context, uid string, page pagination.Params) (domain.Page[domain.SearchLog], error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.Page[domain.SearchLog]{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if page.PageSize <= 0 {
		page.PageSize = pagination.DefaultPageSize
	}
	page.PageSize = min(page.PageSize, pagination.MaxPageSize)
	return s.searchLogs.ListByUser(ctx, uid, page)
}

// SetProStatus flips membership directly. It is a development aid and only works when the
// toggle is enabled.
func (s *userService) SetProStatus(ctx context.Context, uid string, isPro bool) (domain.UserProfile, error) {
	if !s.devProToggle {
		return domain.UserProfile{}, ErrFeatureDisabled
	}
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.UserProfile{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	profile, err := s.users.SetProStatus(ctx, uid, isPro)
	if err != nil {
		return domain.UserProfile{}, mapUserError(err)
	}
	s.logger(ctx, "user_pro_status_set", map[string]any{"uid": uid, "isPro": isPro})
	return profile, nil
}

func mapUserError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrUserNotFound, err)
	}
	return err
}
