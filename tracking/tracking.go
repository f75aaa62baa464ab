// Package tracking turns page-view impressions and conversions into batched
// counter increments.
//
// Recording never blocks the request path: events are folded into an
// in-memory per-variant delta map and a background loop flushes the map to
// the Sink in one call, on a ticker or as soon as the batch fills. A failed
// flush is logged and dropped; counters are best effort and never retried.
package tracking

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Delta is the pending counter change for one variant.
type Delta struct {
	Impressions int64
	Conversions int64
}

// Sink applies a batch of deltas atomically.
type Sink interface {
	IncrementCounters(ctx context.Context, deltas map[string]Delta) error
}

// Options configures a Recorder.
type Options struct {
	// BatchSize triggers an early flush once this many events are pending.
	// Default: 100.
	BatchSize int
	// MaxPending drops events beyond this many unflushed ones. Default: 10000.
	MaxPending int
	// FlushInterval is the periodic flush cadence. Default: 5s.
	FlushInterval time.Duration
	// FlushTimeout bounds one Sink call. Default: 10s.
	FlushTimeout time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxPending <= 0 {
		o.MaxPending = 10_000
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Recorder buffers deltas and flushes them to a Sink.
type Recorder struct {
	sink    Sink
	opts    Options
	mu      sync.Mutex
	pending map[string]Delta
	count   int
	dropped atomic.Int64
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewRecorder starts the flush loop. Call Close to flush and stop it.
func NewRecorder(sink Sink, opts Options) *Recorder {
	opts.defaults()
	r := &Recorder{
		sink:    sink,
		opts:    opts,
		pending: make(map[string]Delta),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Impression records one view of variantID.
func (r *Recorder) Impression(variantID string) {
	r.add(variantID, Delta{Impressions: 1})
}

// Conversion records one conversion of variantID.
func (r *Recorder) Conversion(variantID string) {
	r.add(variantID, Delta{Conversions: 1})
}

// Dropped returns how many events were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Recorder) add(id string, d Delta) {
	if id == "" {
		return
	}
	r.mu.Lock()
	if r.count >= r.opts.MaxPending {
		r.mu.Unlock()
		r.dropped.Add(1)
		return
	}
	cur := r.pending[id]
	cur.Impressions += d.Impressions
	cur.Conversions += d.Conversions
	r.pending[id] = cur
	r.count++
	full := r.count >= r.opts.BatchSize
	r.mu.Unlock()

	if full {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Flush pushes everything pending to the sink now.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.pending
	n := r.count
	r.pending = make(map[string]Delta)
	r.count = 0
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.FlushTimeout)
	defer cancel()
	if err := r.sink.IncrementCounters(ctx, batch); err != nil {
		r.opts.Logger.Error("tracking: flush failed, batch dropped", "variants", len(batch), "events", n, "error", err)
		return err
	}
	r.opts.Logger.Debug("tracking: flushed", "variants", len(batch), "events", n)
	return nil
}

// Close flushes remaining events and stops the background loop. Safe to call
// more than once.
func (r *Recorder) Close() error {
	r.once.Do(func() { close(r.stop) })
	<-r.done
	return nil
}

func (r *Recorder) flushLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			r.Flush(context.Background())
			return
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.kick:
			r.Flush(context.Background())
		}
	}
}
