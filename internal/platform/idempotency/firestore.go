package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/kbkonsulting/Safe2Tow/internal/platform/firestore"
)

const collectionName = "idempotency_keys"

type keyDocument struct {
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"response_status"`
	Headers     map[string][]string `firestore:"response_headers"`
	Body        []byte              `firestore:"response_body"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (d keyDocument) record() Record {
	return Record(d)
}

// FirestoreStore keeps records in the idempotency_keys collection, keyed by the SHA-256 of
// the scoped key.
type FirestoreStore struct {
	provider *pfirestore.Provider
	keys     *pfirestore.Collection[keyDocument]
}

func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{
		provider: provider,
		keys:     pfirestore.NewCollection(provider, collectionName, pfirestore.StructCodec[keyDocument]()),
	}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	var (
		state  State
		record Record
	)
	err := s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := s.keys.Doc(ctx, documentID(key))
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil && !pfirestore.IsNotFound(pfirestore.WrapError("idempotency.get", err)) {
			return err
		}
		if err == nil {
			doc, err := s.keys.Decode(snap)
			if err != nil {
				return err
			}
			if now.Before(doc.Data.ExpiresAt) {
				if doc.Data.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				record = doc.Data.record()
				state = StatePending
				if record.Completed {
					state = StateCompleted
				}
				return nil
			}
		}
		fresh := keyDocument{Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
		state, record = StateNew, fresh.record()
		return tx.Set(ref, fresh)
	})
	return state, record, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key string, record Record) error {
	record.Completed = true
	return s.keys.Set(ctx, documentID(key), keyDocument(record))
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.keys.Doc(ctx, documentID(key))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !pfirestore.IsNotFound(pfirestore.WrapError("idempotency.release", err)) {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}

func (s *FirestoreStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return s.keys.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expires_at", "<=", now)
	})
}
