package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes Hub buffering. Zero values select the defaults.
type Config struct {
	// Buffer is the queue capacity (default 256).
	Buffer int
	// BatchSize flushes as soon as this many events are queued (default 64).
	BatchSize int
	// FlushEvery flushes partial batches periodically (default 250ms).
	FlushEvery time.Duration
	// SinkTimeout bounds every Consume call (default 5s).
	SinkTimeout time.Duration
	Logger      *zap.Logger
}

const (
	defaultBuffer      = 256
	defaultBatchSize   = 64
	defaultFlushEvery  = 250 * time.Millisecond
	defaultSinkTimeout = 5 * time.Second
	dropWarnInterval   = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = defaultFlushEvery
	}
	if c.SinkTimeout <= 0 {
		c.SinkTimeout = defaultSinkTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Hub batches events on a background goroutine and hands each batch to every
// sink in order. Emit never blocks.
type Hub struct {
	cfg   Config
	sinks []Sink
	queue chan Event
	quit  chan struct{}
	done  chan struct{}
	log   *zap.Logger

	dropped  atomic.Int64
	lastWarn atomic.Int64
	closing  atomic.Bool
	once     sync.Once
	closeCtx context.Context
}

// NewHub starts a Hub feeding sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:   cfg,
		sinks: append([]Sink(nil), sinks...),
		queue: make(chan Event, cfg.Buffer),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   cfg.Logger.Named("progress"),
	}
	go h.loop()
	return h
}

// Emit queues evt. Invalid events are discarded; when the queue is full the
// event is dropped and a throttled warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closing.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.log.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.queue <- evt:
	default:
		h.dropped.Add(1)
		now := time.Now().UnixNano()
		last := h.lastWarn.Load()
		if now-last >= dropWarnInterval.Nanoseconds() && h.lastWarn.CompareAndSwap(last, now) {
			h.log.Warn("progress events dropped", zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
}

// Close flushes queued events, closes the sinks and waits for the background
// goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.closing.Store(true)
		h.closeCtx = ctx
		close(h.quit)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close progress hub: %w", ctx.Err())
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.BatchSize)
	for {
		select {
		case evt := <-h.queue:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.BatchSize {
				batch = h.flush(batch)
			}
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.quit:
			for drained := false; !drained; {
				select {
				case evt := <-h.queue:
					batch = append(batch, evt)
				default:
					drained = true
				}
			}
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

// flush delivers batch and returns it emptied for reuse.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.log.Warn("progress sink failed", zap.Int("events", len(out)), zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.log.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
