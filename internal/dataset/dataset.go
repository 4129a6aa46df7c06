// Package dataset persists records as one JSON array and merges new batches
// into it keyed by entity name.
package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/record"
)

// Hasher digests the bytes written to disk.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Summary reports the outcome of a merge.
type Summary struct {
	Path     string
	Existing int
	Added    int
	Updated  int
	Skipped  int
	Total    int
	Digest   string
}

// Merger upserts record batches into dataset files.
type Merger struct {
	hasher   Hasher
	defaults *record.Record
	logger   *zap.Logger
}

// Option customizes a Merger.
type Option func(*Merger)

// WithDefaults fills fields missing from newly appended records with the
// values in defaults, so every entity is written with the full field set
// even when a field could not be read on its first visit. Records that update
// an existing entity are not filled; their absent fields keep stored data.
func WithDefaults(defaults *record.Record) Option {
	return func(m *Merger) { m.defaults = defaults }
}

// New builds a Merger. hasher may be nil, leaving Summary.Digest empty.
func New(hasher Hasher, logger *zap.Logger, opts ...Option) *Merger {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Merger{hasher: hasher, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads the dataset at path. A missing file is reported with an error
// wrapping fs.ErrNotExist; an empty file is an empty dataset.
func Load(path string) ([]*record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []*record.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	return slices.DeleteFunc(records, func(r *record.Record) bool { return r == nil }), nil
}

// Encode renders records as a 4-space indented JSON array without HTML
// escaping.
func Encode(records []*record.Record) ([]byte, error) {
	if records == nil {
		records = []*record.Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// Merge upserts incoming into the dataset at path. Records already present
// (same name) have each incoming field overwritten in place; new names are
// appended in arrival order. Records without a usable name are skipped. The
// file is replaced atomically.
func (m *Merger) Merge(ctx context.Context, path string, incoming []*record.Record) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	existing, err := Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Summary{}, err
	}

	sum := Summary{Path: path, Existing: len(existing)}
	merged := make([]*record.Record, 0, len(existing)+len(incoming))
	index := make(map[string]int, len(existing)+len(incoming))
	for _, rec := range existing {
		key, ok := rec.Key()
		if !ok {
			// keyless rows from older files are kept as they are
			merged = append(merged, rec)
			continue
		}
		if i, dup := index[key]; dup {
			merged[i].Update(rec)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, rec)
	}

	for _, rec := range incoming {
		key, ok := rec.Key()
		if !ok {
			sum.Skipped++
			m.logger.Warn("dropping record without a usable name", zap.Strings("fields", rec.Fields()))
			continue
		}
		if i, ok := index[key]; ok {
			merged[i].Update(rec)
			sum.Updated++
			continue
		}
		index[key] = len(merged)
		merged = append(merged, m.fill(rec.Clone()))
		sum.Added++
	}
	sum.Total = len(merged)

	data, err := Encode(merged)
	if err != nil {
		return Summary{}, err
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return Summary{}, err
	}
	if m.hasher != nil {
		digest, err := m.hasher.Hash(data)
		if err != nil {
			return Summary{}, fmt.Errorf("hash dataset: %w", err)
		}
		sum.Digest = digest
	}

	metrics.ObserveMerge(sum.Added, sum.Updated, sum.Skipped)
	m.logger.Info("dataset merged",
		zap.String("path", path),
		zap.Int("existing", sum.Existing),
		zap.Int("added", sum.Added),
		zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("total", sum.Total),
	)
	return sum, nil
}

func (m *Merger) fill(rec *record.Record) *record.Record {
	if m.defaults == nil {
		return rec
	}
	for _, field := range m.defaults.Fields() {
		if rec.Has(field) {
			continue
		}
		v, _ := m.defaults.Get(field)
		rec.Set(field, v)
	}
	return rec
}

// WriteFileAtomic writes data to a temp file beside path, syncs it, and
// renames it over path.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dataset dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace dataset: %w", err)
	}
	return nil
}
