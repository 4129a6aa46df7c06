// Package export copies a merged dataset to secondary destinations. The
// dataset file is already durable when exporters run, so their failures are
// logged and counted but never fail the crawl.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/dataset"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/record"
)

// Artifact describes one merged dataset.
type Artifact struct {
	RunID   uuid.UUID
	Mode    string
	Summary dataset.Summary
	// Records is the batch that was merged, not the whole file.
	Records []*record.Record
}

// Sink is one export destination.
type Sink interface {
	Name() string
	Export(ctx context.Context, a Artifact) error
}

// Exporter runs every sink in order.
type Exporter struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.Logger
}

// New builds an Exporter. A non-positive timeout leaves sinks unbounded.
func New(logger *zap.Logger, timeout time.Duration, sinks ...Sink) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{sinks: sinks, timeout: timeout, logger: logger.Named("export")}
}

// Export hands a to each sink and returns how many failed.
func (e *Exporter) Export(ctx context.Context, a Artifact) int {
	if e == nil {
		return 0
	}
	failed := 0
	for _, sink := range e.sinks {
		sctx, cancel := ctx, context.CancelFunc(func() {})
		if e.timeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, e.timeout)
		}
		err := sink.Export(sctx, a)
		cancel()
		if err != nil {
			failed++
			metrics.ObserveExportFailure(sink.Name())
			e.logger.Warn("export failed",
				zap.String("sink", sink.Name()),
				zap.String("path", a.Summary.Path),
				zap.Error(err))
			continue
		}
		e.logger.Debug("exported", zap.String("sink", sink.Name()), zap.String("path", a.Summary.Path))
	}
	return failed
}

// Len reports the number of configured sinks.
func (e *Exporter) Len() int {
	if e == nil {
		return 0
	}
	return len(e.sinks)
}

// BlobStore is implemented by the local, memory and gcs stores.
type BlobStore interface {
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
}

// BlobSink copies the dataset file to <run id>/<file name> in a store.
type BlobSink struct {
	name  string
	store BlobStore
}

// NewBlobSink names the sink after its backend ("gcs", "local").
func NewBlobSink(name string, store BlobStore) *BlobSink {
	return &BlobSink{name: name, store: store}
}

// Name implements Sink.
func (s *BlobSink) Name() string { return s.name }

// Export streams the dataset file to the store.
func (s *BlobSink) Export(ctx context.Context, a Artifact) error {
	f, err := os.Open(a.Summary.Path)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer func() { _ = f.Close() }()

	object := path.Join(a.RunID.String(), filepath.Base(a.Summary.Path))
	if _, err := s.store.PutObject(ctx, object, "application/json", f); err != nil {
		return fmt.Errorf("put %s: %w", object, err)
	}
	return nil
}

// RecordMirror is implemented by postgres.RecordStore.
type RecordMirror interface {
	UpsertRecords(ctx context.Context, runID uuid.UUID, records []*record.Record) (int, error)
}

// MirrorSink upserts the merged batch into a database.
type MirrorSink struct {
	mirror RecordMirror
}

// NewMirrorSink wraps mirror.
func NewMirrorSink(mirror RecordMirror) *MirrorSink {
	return &MirrorSink{mirror: mirror}
}

// Name implements Sink.
func (*MirrorSink) Name() string { return "postgres" }

// Export implements Sink.
func (s *MirrorSink) Export(ctx context.Context, a Artifact) error {
	_, err := s.mirror.UpsertRecords(ctx, a.RunID, a.Records)
	return err
}

// Publisher is implemented by the pubsub and memory publishers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is the message announcing a merged dataset.
type Notification struct {
	RunID    string `json:"run_id"`
	Mode     string `json:"mode"`
	Path     string `json:"path"`
	Digest   string `json:"digest,omitempty"`
	Existing int    `json:"existing"`
	Added    int    `json:"added"`
	Updated  int    `json:"updated"`
	Skipped  int    `json:"skipped"`
	Total    int    `json:"total"`
}

// NotifySink publishes a Notification per merge.
type NotifySink struct {
	publisher Publisher
	topic     string
}

// NewNotifySink publishes to topic.
func NewNotifySink(publisher Publisher, topic string) *NotifySink {
	return &NotifySink{publisher: publisher, topic: topic}
}

// Name implements Sink.
func (*NotifySink) Name() string { return "pubsub" }

// Export implements Sink.
func (s *NotifySink) Export(ctx context.Context, a Artifact) error {
	_, err := s.publisher.Publish(ctx, s.topic, NotificationFor(a))
	return err
}

// NotificationFor summarizes a.
func NotificationFor(a Artifact) Notification {
	return Notification{
		RunID:    a.RunID.String(),
		Mode:     a.Mode,
		Path:     a.Summary.Path,
		Digest:   a.Summary.Digest,
		Existing: a.Summary.Existing,
		Added:    a.Summary.Added,
		Updated:  a.Summary.Updated,
		Skipped:  a.Summary.Skipped,
		Total:    a.Summary.Total,
	}
}
