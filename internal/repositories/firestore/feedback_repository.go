package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	"github.com/kbkonsulting/Safe2Tow/internal/domain"
	pfirestore "github.com/kbkonsulting/Safe2Tow/internal/platform/firestore"
)

const feedbackCollection = "feedback"

// FeedbackRepository persists feedback/{ulid} documents.
type FeedbackRepository struct {
	feedback *pfirestore.Collection[domain.Feedback]
	now      func() time.Time
}

// NewFeedbackRepository constructs a Firestore-backed feedback repository.
func NewFeedbackRepository(provider *pfirestore.Provider, opts ...Option) (*FeedbackRepository, error) {
	if provider == nil {
		return nil, errors.New("feedback repository requires firestore provider")
	}
	o := applyOptions(opts)
	return &FeedbackRepository{
		feedback: pfirestore.NewCollection(provider, feedbackCollection, feedbackCodec()),
		now:      o.now,
	}, nil
}

// Insert stores feedback, assigning an ID and timestamp when absent.
func (r *FeedbackRepository) Insert(ctx context.Context, feedback domain.Feedback) error {
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = r.now().UTC()
	}
	if strings.TrimSpace(feedback.ID) == "" {
		feedback.ID = ulid.MustNew(ulid.Timestamp(feedback.CreatedAt), ulid.DefaultEntropy()).String()
	}
	return r.feedback.Create(ctx, feedback.ID, feedback)
}

type feedbackDocument struct {
	UserUID      *string        `firestore:"userUid"`
	Query        string         `firestore:"query"`
	TowingInfo   map[string]any `firestore:"towingInfo"`
	FeedbackText string         `firestore:"feedbackText"`
	IsHelpful    *bool          `firestore:"isHelpful"`
	CreatedAt    time.Time      `firestore:"createdAt"`
}

func feedbackCodec() pfirestore.Codec[domain.Feedback] {
	return pfirestore.Codec[domain.Feedback]{
		Encode: func(fb domain.Feedback) (any, error) {
			info, err := towingInfoToMap(&fb.TowingInfo)
			if err != nil {
				return nil, err
			}
			return feedbackDocument{
				UserUID:      fb.UserUID,
				Query:        fb.Query,
				TowingInfo:   info,
				FeedbackText: fb.FeedbackText,
				IsHelpful:    fb.IsHelpful,
				CreatedAt:    fb.CreatedAt.UTC(),
			}, nil
		},
		Decode: func(snap *firestore.DocumentSnapshot) (domain.Feedback, error) {
			var doc feedbackDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.Feedback{}, err
			}
			info, err := towingInfoFromMap(doc.TowingInfo)
			if err != nil {
				return domain.Feedback{}, err
			}
			fb := domain.Feedback{
				ID:           snap.Ref.ID,
				UserUID:      doc.UserUID,
				Query:        doc.Query,
				FeedbackText: doc.FeedbackText,
				IsHelpful:    doc.IsHelpful,
				CreatedAt:    doc.CreatedAt,
			}
			if info != nil {
				fb.TowingInfo = *info
			}
			return fb, nil
		},
	}
}
