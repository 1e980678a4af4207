package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	"github.com/kbkonsulting/Safe2Tow/internal/platform/textutil"
	"github.com/kbkonsulting/Safe2Tow/internal/repositories"
)

const (
	maxFeedbackText  = 2000
	maxFeedbackQuery = 200
)

// FeedbackCommand is a rating of a previously returned towing result.
type FeedbackCommand struct {
	UserUID      string
	Query        string
	TowingInfo   domain.TowingInfo
	FeedbackText string
	IsHelpful    *bool
}

// FeedbackServiceDeps bundles collaborators required to construct a feedback service.
type FeedbackServiceDeps struct {
	Feedback    repositories.FeedbackRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type feedbackService struct {
	repo   repositories.FeedbackRepository
	policy *bluemonday.Policy
	clock  func() time.Time
	newID  func() string
}

var _ FeedbackService = (*feedbackService)(nil)

// NewFeedbackService constructs the feedback service.
func NewFeedbackService(deps FeedbackServiceDeps) (FeedbackService, error) {
	if deps.Feedback == nil {
		return nil, errors.New("feedback service: feedback repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	return &feedbackService{
		repo:   deps.Feedback,
		policy: bluemonday.StrictPolicy(),
		clock:  func() time.Time { return clock().UTC() },
		newID:  newID,
	}, nil
}

// Submit stores feedback. Free text is stripped of markup, whitespace-collapsed and truncated.
// A submission needs a query and at least one of text or a helpful flag.
func (s *feedbackService) Submit(ctx context.Context, cmd FeedbackCommand) (domain.Feedback, error) {
	query := textutil.Truncate(textutil.CollapseSpace(s.policy.Sanitize(cmd.Query)), maxFeedbackQuery)
	if query == "" {
		return domain.Feedback{}, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	text := textutil.Truncate(textutil.CollapseSpace(s.policy.Sanitize(cmd.FeedbackText)), maxFeedbackText)
	if text == "" && cmd.IsHelpful == nil {
		return domain.Feedback{}, fmt.Errorf("%w: feedback text or helpful flag is required", ErrInvalidInput)
	}

	feedback := domain.Feedback{
		ID:           s.newID(),
		Query:        query,
		TowingInfo:   cmd.TowingInfo,
		FeedbackText: text,
		CreatedAt:    s.clock(),
	}
	if cmd.IsHelpful != nil {
		helpful := *cmd.IsHelpful
		feedback.IsHelpful = &helpful
	}
	if uid := strings.TrimSpace(cmd.UserUID); uid != "" {
		feedback.UserUID = &uid
	}
	if err := s.repo.Insert(ctx, feedback); err != nil {
		return domain.Feedback{}, err
	}
	return feedback, nil
}
