//go:build integration

package firestore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/kbkonsulting/Safe2Tow/internal/platform/config"
	pfirestore "github.com/kbkonsulting/Safe2Tow/internal/platform/firestore"
)

type logEntry struct {
	Query     string    `firestore:"query"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// Run with: FIRESTORE_EMULATOR_HOST=127.0.0.1:8080 go test -tags integration ./internal/platform/firestore
func TestCollectionAgainstEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "safe2tow-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coll := pfirestore.NewCollection(provider, fmt.Sprintf("it_logs_%d", time.Now().UnixNano()), pfirestore.StructCodec[logEntry]())
	now := time.Now().UTC().Truncate(time.Millisecond)

	if err := coll.Create(ctx, "old", logEntry{Query: "2012 Honda Civic", CreatedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("create old: %v", err)
	}
	if err := coll.Create(ctx, "new", logEntry{Query: "2020 Subaru Outback", CreatedAt: now}); err != nil {
		t.Fatalf("create new: %v", err)
	}
	if err := coll.Create(ctx, "new", logEntry{Query: "dupe"}); !pfirestore.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
	if _, err := coll.Get(ctx, "missing"); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := coll.Doc(ctx, "new")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc, err := coll.Decode(snap)
		if err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{{Path: "query", Value: doc.Data.Query + " Touring"}})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	deleted, err := coll.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("createdAt", "<", now.Add(-24*time.Hour))
	})
	if err != nil || deleted != 1 {
		t.Fatalf("expected one purge, got %d (%v)", deleted, err)
	}

	docs, err := coll.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 1 || docs[0].Data.Query != "2020 Subaru Outback Touring" {
		t.Fatalf("unexpected remaining docs %+v", docs)
	}
}
