package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot plus its server timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// Codec converts between the domain value and the stored document shape.
type Codec[T any] struct {
	Encode func(T) (any, error)
	Decode func(*firestore.DocumentSnapshot) (T, error)
}

// StructCodec stores T directly using its firestore struct tags.
func StructCodec[T any]() Codec[T] {
	return Codec[T]{
		Encode: func(v T) (any, error) { return v, nil },
		Decode: func(snap *firestore.DocumentSnapshot) (T, error) {
			var v T
			err := snap.DataTo(&v)
			return v, err
		},
	}
}

// QueryBuilder narrows a collection query.
type QueryBuilder func(q firestore.Query) firestore.Query

// Collection gives typed access to one top-level collection.
type Collection[T any] struct {
	provider *Provider
	name     string
	codec    Codec[T]
}

// NewCollection binds a typed collection helper to provider.
func NewCollection[T any](provider *Provider, name string, codec Codec[T]) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name), codec: codec}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string { return c.name }

// Create writes a new document and fails with a conflict if id already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	doc, payload, err := c.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	_, err = doc.Create(ctx, payload)
	return WrapError(c.op("create"), err)
}

// Set upserts the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) error {
	doc, payload, err := c.prepare(ctx, id, value)
	if err != nil {
		return err
	}
	_, err = doc.Set(ctx, payload, opts...)
	return WrapError(c.op("set"), err)
}

// Update applies field updates to an existing document.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) error {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = doc.Update(ctx, updates, preconds...)
	return WrapError(c.op("update"), err)
}

// Get fetches and decodes a document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decode(snap)
}

// Query runs build over the collection and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	q := coll.Query
	if build != nil {
		q = build(q)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := c.decode(snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// DeleteWhere deletes every document matched by build using a bulk writer and returns the
// number of deletions enqueued.
func (c *Collection[T]) DeleteWhere(ctx context.Context, build QueryBuilder) (int, error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	q := client.Collection(c.name).Query.Select()
	if build != nil {
		q = build(q)
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	writer := client.BulkWriter(ctx)
	deleted := 0
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			writer.End()
			return deleted, WrapError(c.op("delete_where"), err)
		}
		if _, err := writer.Delete(snap.Ref); err != nil {
			writer.End()
			return deleted, WrapError(c.op("delete_where"), err)
		}
		deleted++
	}
	writer.End()
	return deleted, nil
}

// Doc returns the reference for id.
func (c *Collection[T]) Doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("doc"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Decode converts a snapshot read elsewhere, e.g. inside a transaction.
func (c *Collection[T]) Decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	return c.decode(snap)
}

// Encode converts value to its stored shape.
func (c *Collection[T]) Encode(value T) (any, error) {
	return c.codec.Encode(value)
}

func (c *Collection[T]) prepare(ctx context.Context, id string, value T) (*firestore.DocumentRef, any, error) {
	doc, err := c.Doc(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	payload, err := c.codec.Encode(value)
	if err != nil {
		return nil, nil, fmt.Errorf("firestore: encode %s/%s: %w", c.name, id, err)
	}
	return doc, payload, nil
}

func (c *Collection[T]) decode(snap *firestore.DocumentSnapshot) (Document[T], error) {
	value, err := c.codec.Decode(snap)
	if err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       value,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c.provider == nil || c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider and collection name are required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
