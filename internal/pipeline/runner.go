// Package pipeline drives one crawl run: collect, crawl, merge, export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/dataset"
	"github.com/JakeFAU/directory-crawler/internal/detail"
	"github.com/JakeFAU/directory-crawler/internal/export"
	"github.com/JakeFAU/directory-crawler/internal/listing"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/progress"
	"github.com/JakeFAU/directory-crawler/internal/record"
	"github.com/JakeFAU/directory-crawler/internal/throttle"
)

// Mode selects which pages a run visits.
type Mode string

// Run modes.
const (
	// ModeListing builds records from the listing cards alone.
	ModeListing Mode = "listing"
	// ModeDetail collects references from the listing and crawls each one.
	ModeDetail Mode = "detail"
	// ModeSingle crawls one detail page.
	ModeSingle Mode = "single"
)

// ParseMode validates s.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeListing, ModeDetail, ModeSingle:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Collector reads the listing page.
type Collector interface {
	CollectReferences(ctx context.Context) ([]listing.EntityReference, error)
	CollectRecords(ctx context.Context) ([]*record.Record, error)
}

// DetailCrawler reads one detail page.
type DetailCrawler interface {
	CrawlDetail(ctx context.Context, ref listing.EntityReference) *record.Record
	OnFieldMissing(fn detail.FieldObserver)
}

// Merger persists records.
type Merger interface {
	Merge(ctx context.Context, path string, incoming []*record.Record) (dataset.Summary, error)
}

// Exporter copies a merged dataset elsewhere.
type Exporter interface {
	Export(ctx context.Context, a export.Artifact) int
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Config controls a Runner.
type Config struct {
	Mode Mode
	// OutputPath is the dataset file merged into.
	OutputPath string
	// EntityURL is the page crawled in single mode.
	EntityURL string
	// InterEntityDelay follows every detail crawl.
	InterEntityDelay time.Duration
	// CheckpointEvery merges after that many detail records; 0 merges once.
	CheckpointEvery int
	// MaxEntities caps detail crawls; 0 means no cap.
	MaxEntities int
}

// Deps are the collaborators of a Runner. Collector is unused in single mode
// and Detail is unused in listing mode.
type Deps struct {
	Collector Collector
	Detail    DetailCrawler
	Merger    Merger
	Exporter  Exporter
	Pauser    throttle.Pauser
	Events    progress.Emitter
	Clock     Clock
	Logger    *zap.Logger
}

// Result summarizes a run.
type Result struct {
	RunID uuid.UUID
	Mode  Mode
	// Visited counts entities attempted (cards in listing mode).
	Visited int
	// Empty counts detail pages skipped for lack of a name.
	Empty int
	// Merged aggregates every merge of the run; Total and Digest describe
	// the file after the last one.
	Merged         dataset.Summary
	ExportFailures int
	Duration       time.Duration
	// Interrupted is set when ctx ended before every entity was visited.
	Interrupted bool
}

// Runner executes crawl runs. It is not safe for concurrent use: the engine
// behind its collaborators is a single page.
type Runner struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
}

// New validates cfg against deps.
func New(cfg Config, deps Deps) (*Runner, error) {
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}
	if cfg.OutputPath == "" {
		return nil, errors.New("output path is required")
	}
	if deps.Merger == nil {
		return nil, errors.New("merger is required")
	}
	if cfg.Mode != ModeSingle && deps.Collector == nil {
		return nil, fmt.Errorf("%s mode requires a listing collector", cfg.Mode)
	}
	if cfg.Mode != ModeListing && deps.Detail == nil {
		return nil, fmt.Errorf("%s mode requires a detail crawler", cfg.Mode)
	}
	if cfg.Mode == ModeSingle && cfg.EntityURL == "" {
		return nil, errors.New("single mode requires an entity url")
	}
	if deps.Pauser == nil {
		deps.Pauser = throttle.Timer{}
	}
	if deps.Events == nil {
		deps.Events = progress.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, deps: deps, log: deps.Logger.Named("pipeline")}, nil
}

// Run performs one crawl under runID. When ctx ends mid-crawl the records
// gathered so far are still merged and ctx's error is returned.
func (r *Runner) Run(ctx context.Context, runID uuid.UUID) (Result, error) {
	run := &run{Runner: r, id: runID, started: r.deps.Clock.Now()}
	run.res = Result{RunID: runID, Mode: r.cfg.Mode}
	log := r.log.With(zap.String("run_id", runID.String()), zap.String("mode", string(r.cfg.Mode)))
	run.log = log

	run.emit(progress.Event{Stage: progress.StageRunStart})
	log.Info("run started", zap.String("output", r.cfg.OutputPath))

	var err error
	switch r.cfg.Mode {
	case ModeListing:
		err = run.listing(ctx)
	case ModeDetail:
		err = run.details(ctx)
	case ModeSingle:
		err = run.single(ctx)
	}

	run.res.Duration = r.deps.Clock.Now().Sub(run.started)
	metrics.ObserveRunDuration(run.res.Duration)
	if err != nil {
		run.emit(progress.Event{Stage: progress.StageRunError, Dur: run.res.Duration, Note: err.Error()})
		log.Error("run failed", zap.Error(err), zap.Duration("elapsed", run.res.Duration))
		return run.res, err
	}
	run.emit(progress.Event{Stage: progress.StageRunDone, Dur: run.res.Duration})
	log.Info("run finished",
		zap.Int("visited", run.res.Visited),
		zap.Int("empty", run.res.Empty),
		zap.Int("added", run.res.Merged.Added),
		zap.Int("updated", run.res.Merged.Updated),
		zap.Int("total", run.res.Merged.Total),
		zap.Duration("elapsed", run.res.Duration))
	return run.res, nil
}

type run struct {
	*Runner
	id      uuid.UUID
	started time.Time
	res     Result
	log     *zap.Logger
	// merged holds every record handed to the merger, for exporters.
	merged []*record.Record
}

func (r *run) listing(ctx context.Context) error {
	records, err := r.deps.Collector.CollectRecords(ctx)
	if err != nil && !isInterrupt(err) {
		return fmt.Errorf("collect listing: %w", err)
	}
	r.res.Visited = len(records)
	for _, rec := range records {
		name, _ := rec.Key()
		r.emit(progress.Event{Stage: progress.StageEntityDone, URL: listingEntityURL(name), Fields: rec.Len()})
		metrics.ObserveEntity("ok")
	}
	return r.finish(ctx, records, err)
}

func (r *run) details(ctx context.Context) error {
	refs, err := r.deps.Collector.CollectReferences(ctx)
	if err != nil {
		return fmt.Errorf("collect references: %w", err)
	}
	if limit := r.cfg.MaxEntities; limit > 0 && len(refs) > limit {
		r.log.Info("capping references", zap.Int("found", len(refs)), zap.Int("max", limit))
		refs = refs[:limit]
	}
	r.log.Info("crawling detail pages", zap.Int("references", len(refs)))
	return r.crawl(ctx, refs)
}

func (r *run) single(ctx context.Context) error {
	return r.crawl(ctx, []listing.EntityReference{{URL: r.cfg.EntityURL}})
}

// crawl visits refs in order, pausing between them and checkpointing when
// configured.
func (r *run) crawl(ctx context.Context, refs []listing.EntityReference) error {
	r.deps.Detail.OnFieldMissing(func(url, field string, err error) {
		evt := progress.Event{Stage: progress.StageFieldMissing, URL: url, Field: field}
		if err != nil {
			evt.Note = err.Error()
		}
		r.emit(evt)
	})
	defer r.deps.Detail.OnFieldMissing(nil)

	var (
		pending []*record.Record
		stopErr error
	)
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		r.res.Visited++
		log := r.log.With(zap.String("url", ref.URL), zap.Int("index", i+1), zap.Int("of", len(refs)))
		r.emit(progress.Event{Stage: progress.StageEntityStart, URL: ref.URL})
		start := r.deps.Clock.Now()
		rec := r.deps.Detail.CrawlDetail(ctx, ref)
		took := r.deps.Clock.Now().Sub(start)
		if err := ctx.Err(); err != nil {
			// a partial record would be merged as if the page had been read in full
			log.Warn("entity interrupted, discarding its partial record")
			stopErr = err
			break
		}

		if rec == nil || rec.Len() == 0 {
			r.res.Empty++
			metrics.ObserveEntity("skipped")
			r.emit(progress.Event{Stage: progress.StageEntityEmpty, URL: ref.URL, Dur: took})
			log.Warn("no record extracted")
		} else {
			pending = append(pending, rec)
			metrics.ObserveEntity("ok")
			r.emit(progress.Event{Stage: progress.StageEntityDone, URL: ref.URL, Fields: rec.Len(), Dur: took})
		}

		if every := r.cfg.CheckpointEvery; every > 0 && len(pending) >= every {
			if err := r.merge(ctx, pending); err != nil {
				return err
			}
			pending = nil
		}
		if i < len(refs)-1 {
			if err := r.deps.Pauser.Pause(ctx, r.cfg.InterEntityDelay); err != nil {
				stopErr = err
				break
			}
		}
	}
	return r.finish(ctx, pending, stopErr)
}

// finish merges what is left and runs exporters. Both outlive an interrupt
// so collected records are not lost.
func (r *run) finish(ctx context.Context, pending []*record.Record, stopErr error) error {
	if stopErr != nil {
		r.res.Interrupted = true
		r.log.Warn("run interrupted, saving collected records", zap.Int("pending", len(pending)), zap.Error(stopErr))
	}
	if len(pending) > 0 || r.res.Merged.Path == "" {
		if err := r.merge(ctx, pending); err != nil {
			return err
		}
	}
	if r.deps.Exporter != nil {
		r.res.ExportFailures = r.deps.Exporter.Export(context.WithoutCancel(ctx), export.Artifact{
			RunID:   r.id,
			Mode:    string(r.cfg.Mode),
			Summary: r.res.Merged,
			Records: r.merged,
		})
	}
	if stopErr != nil {
		return fmt.Errorf("crawl interrupted after %d entities: %w", r.res.Visited, stopErr)
	}
	return nil
}

func (r *run) merge(ctx context.Context, batch []*record.Record) error {
	sum, err := r.deps.Merger.Merge(context.WithoutCancel(ctx), r.cfg.OutputPath, batch)
	if err != nil {
		return fmt.Errorf("merge dataset: %w", err)
	}
	agg := &r.res.Merged
	if agg.Path == "" {
		agg.Existing = sum.Existing
	}
	agg.Path = sum.Path
	agg.Added += sum.Added
	agg.Updated += sum.Updated
	agg.Skipped += sum.Skipped
	agg.Total = sum.Total
	agg.Digest = sum.Digest
	r.merged = append(r.merged, batch...)
	r.log.Debug("checkpoint merged", zap.Int("batch", len(batch)), zap.Int("total", sum.Total))
	return nil
}

func (r *run) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(r.id)
	evt.TS = r.deps.Clock.Now()
	evt.Mode = string(r.cfg.Mode)
	r.deps.Events.Emit(evt)
}

// listingEntityURL gives listing cards, which carry no link, a stable
// per-entity identifier for progress events.
func listingEntityURL(name string) string {
	return "listing:" + name
}

func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
