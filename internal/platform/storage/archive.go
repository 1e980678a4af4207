// Package storage archives scan images to Cloud Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"
)

// ErrEmptyObject is returned when an archive request carries no bytes.
var ErrEmptyObject = errors.New("storage: object data is empty")

// ObjectAttrs describe the stored object.
type ObjectAttrs struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectWriter persists a single object.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object string, data []byte, attrs ObjectAttrs) error
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	client *gcs.Client
}

// NewGCSWriter constructs a writer backed by the provided Cloud Storage client.
func NewGCSWriter(client *gcs.Client) (*GCSWriter, error) {
	if client == nil {
		return nil, errors.New("storage writer: client is required")
	}
	return &GCSWriter{client: client}, nil
}

// WriteObject uploads data, refusing to overwrite an existing object.
func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object string, data []byte, attrs ObjectAttrs) error {
	if w == nil || w.client == nil {
		return errors.New("storage writer: client is not initialised")
	}
	handle := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	writer := handle.NewWriter(ctx)
	writer.ContentType = attrs.ContentType
	writer.Metadata = attrs.Metadata
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage writer: write %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage writer: close %s: %w", object, err)
	}
	return nil
}

// ScanObject is an uploaded scan image to archive.
type ScanObject struct {
	UID      string
	Data     []byte
	MIMEType string
	Mode     string
}

// ArchivedScan reports where a scan image was stored.
type ArchivedScan struct {
	ID     string
	Bucket string
	Path   string
}

// URI renders the gs:// location.
func (s ArchivedScan) URI() string {
	return "gs://" + s.Bucket + "/" + s.Path
}

// Archive stores scan images under scans/{uid}/{yyyy}/{mm}/{ulid}.{ext}.
type Archive struct {
	writer ObjectWriter
	bucket string
	prefix string
	now    func() time.Time
}

// ArchiveOption customises archive behaviour.
type ArchiveOption func(*Archive)

// WithPrefix nests every object under prefix.
func WithPrefix(prefix string) ArchiveOption {
	return func(a *Archive) {
		a.prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ArchiveOption {
	return func(a *Archive) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewArchive constructs a scan archive writing to bucket.
func NewArchive(writer ObjectWriter, bucket string, opts ...ArchiveOption) (*Archive, error) {
	if writer == nil {
		return nil, errors.New("storage archive: writer is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage archive: bucket is required")
	}
	archive := &Archive{
		writer: writer,
		bucket: bucket,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(archive)
		}
	}
	return archive, nil
}

// StoreScan writes the image and returns its location.
func (a *Archive) StoreScan(ctx context.Context, scan ScanObject) (ArchivedScan, error) {
	if len(scan.Data) == 0 {
		return ArchivedScan{}, ErrEmptyObject
	}
	created := a.now().UTC()
	id := ulid.MustNew(ulid.Timestamp(created), ulid.DefaultEntropy()).String()
	path, err := BuildScanPath(ScanPathParams{
		Prefix:    a.prefix,
		UID:       scan.UID,
		ID:        id,
		CreatedAt: created,
		MIMEType:  scan.MIMEType,
	})
	if err != nil {
		return ArchivedScan{}, err
	}

	metadata := map[string]string{"uid": strings.TrimSpace(scan.UID)}
	if mode := strings.TrimSpace(scan.Mode); mode != "" {
		metadata["mode"] = mode
	}
	contentType := strings.TrimSpace(scan.MIMEType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.writer.WriteObject(ctx, a.bucket, path, scan.Data, ObjectAttrs{
		ContentType: contentType,
		Metadata:    metadata,
	}); err != nil {
		return ArchivedScan{}, err
	}
	return ArchivedScan{ID: id, Bucket: a.bucket, Path: path}, nil
}
