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
	"github.com/kbkonsulting/Safe2Tow/internal/platform/pagination"
)

const searchCollection = "searches"

// SearchLogRepository persists searches/{ulid} documents.
type SearchLogRepository struct {
	searches *pfirestore.Collection[domain.SearchLog]
	now      func() time.Time
}

// NewSearchLogRepository constructs a Firestore-backed search log repository.
func NewSearchLogRepository(provider *pfirestore.Provider, opts ...Option) (*SearchLogRepository, error) {
	if provider == nil {
		return nil, errors.New("search log repository requires firestore provider")
	}
	o := applyOptions(opts)
	return &SearchLogRepository{
		searches: pfirestore.NewCollection(provider, searchCollection, searchLogCodec()),
		now:      o.now,
	}, nil
}

// Insert appends log, assigning an ID and timestamp when absent.
func (r *SearchLogRepository) Insert(ctx context.Context, log domain.SearchLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.now().UTC()
	}
	if strings.TrimSpace(log.ID) == "" {
		log.ID = ulid.MustNew(ulid.Timestamp(log.CreatedAt), ulid.DefaultEntropy()).String()
	}
	return r.searches.Create(ctx, log.ID, log)
}

// ListByUser returns uid's searches newest first.
func (r *SearchLogRepository) ListByUser(ctx context.Context, uid string, page pagination.Params) (domain.Page[domain.SearchLog], error) {
	if strings.TrimSpace(uid) == "" {
		return domain.Page[domain.SearchLog]{}, errors.New("user id is required")
	}
	size := page.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	docs, err := r.searches.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userUid", "==", uid).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if page.Cursor != nil {
			q = q.StartAfter(page.Cursor.CreatedAt, page.Cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.Page[domain.SearchLog]{}, err
	}

	result := domain.Page[domain.SearchLog]{Items: make([]domain.SearchLog, 0, min(len(docs), size))}
	for i, doc := range docs {
		if i == size {
			last := result.Items[len(result.Items)-1]
			result.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
			break
		}
		result.Items = append(result.Items, doc.Data)
	}
	return result, nil
}

// DeleteOlderThan removes every search created before cutoff.
func (r *SearchLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return r.searches.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", "<", cutoff.UTC())
	})
}

type searchParamsDocument struct {
	Query string `firestore:"query,omitempty"`
	Year  int    `firestore:"year,omitempty"`
	Make  string `firestore:"make,omitempty"`
	Model string `firestore:"model,omitempty"`
	Trim  string `firestore:"trim,omitempty"`
	VIN   string `firestore:"vin,omitempty"`
}

type searchDocument struct {
	UserUID       *string              `firestore:"userUid"`
	SearchParams  searchParamsDocument `firestore:"searchParams"`
	Source        string               `firestore:"source"`
	WasSuccessful bool                 `firestore:"wasSuccessful"`
	ErrorMessage  *string              `firestore:"errorMessage"`
	FullResult    map[string]any       `firestore:"fullResult"`
	ScanImagePath string               `firestore:"scanImagePath,omitempty"`
	PolicyVersion string               `firestore:"policyVersion,omitempty"`
	CreatedAt     time.Time            `firestore:"createdAt"`
}

func searchLogCodec() pfirestore.Codec[domain.SearchLog] {
	return pfirestore.Codec[domain.SearchLog]{
		Encode: func(log domain.SearchLog) (any, error) {
			return encodeSearchLog(log)
		},
		Decode: func(snap *firestore.DocumentSnapshot) (domain.SearchLog, error) {
			var doc searchDocument
			if err := snap.DataTo(&doc); err != nil {
				return domain.SearchLog{}, err
			}
			return decodeSearchLog(snap.Ref.ID, doc)
		},
	}
}

func encodeSearchLog(log domain.SearchLog) (searchDocument, error) {
	result, err := towingInfoToMap(log.FullResult)
	if err != nil {
		return searchDocument{}, err
	}
	return searchDocument{
		UserUID: log.UserUID,
		SearchParams: searchParamsDocument{
			Query: log.Params.Query,
			Year:  log.Params.Year,
			Make:  log.Params.Make,
			Model: log.Params.Model,
			Trim:  log.Params.Trim,
			VIN:   log.Params.VIN,
		},
		Source:        string(log.Source),
		WasSuccessful: log.WasSuccessful,
		ErrorMessage:  log.ErrorMessage,
		FullResult:    result,
		ScanImagePath: log.ScanImagePath,
		PolicyVersion: log.PolicyVersion,
		CreatedAt:     log.CreatedAt.UTC(),
	}, nil
}

func decodeSearchLog(id string, doc searchDocument) (domain.SearchLog, error) {
	result, err := towingInfoFromMap(doc.FullResult)
	if err != nil {
		return domain.SearchLog{}, err
	}
	return domain.SearchLog{
		ID:      id,
		UserUID: doc.UserUID,
		Params: domain.SearchParams{
			Query: doc.SearchParams.Query,
			Year:  doc.SearchParams.Year,
			Make:  doc.SearchParams.Make,
			Model: doc.SearchParams.Model,
			Trim:  doc.SearchParams.Trim,
			VIN:   doc.SearchParams.VIN,
		},
		Source:        domain.SearchSource(doc.Source),
		WasSuccessful: doc.WasSuccessful,
		ErrorMessage:  doc.ErrorMessage,
		FullResult:    result,
		ScanImagePath: doc.ScanImagePath,
		PolicyVersion: doc.PolicyVersion,
		CreatedAt:     doc.CreatedAt,
	}, nil
}
