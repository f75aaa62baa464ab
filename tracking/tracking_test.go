package tracking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu      sync.Mutex
	totals  map[string]Delta
	batches int
	err     error
	flushed chan struct{}
}

func newMemSink() *memSink {
	return &memSink{totals: make(map[string]Delta), flushed: make(chan struct{}, 16)}
}

func (s *memSink) IncrementCounters(_ context.Context, deltas map[string]Delta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	if s.err != nil {
		return s.err
	}
	for id, d := range deltas {
		cur := s.totals[id]
		cur.Impressions += d.Impressions
		cur.Conversions += d.Conversions
		s.totals[id] = cur
	}
	select {
	case s.flushed <- struct{}{}:
	default:
	}
	return nil
}

func (s *memSink) get(id string) Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[id]
}

func TestRecorderAggregatesAndFlushesOnClose(t *testing.T) {
	// WHAT: events fold into one delta per variant and Close flushes what is pending.
	// WHY: shutdown must not lose counted traffic.
	sink := newMemSink()
	r := NewRecorder(sink, Options{FlushInterval: time.Hour})

	for i := 0; i < 7; i++ {
		r.Impression("var_a")
	}
	r.Conversion("var_a")
	r.Impression("var_b")
	r.Impression("")
	r.Close()
	r.Close()

	if got := sink.get("var_a"); got != (Delta{Impressions: 7, Conversions: 1}) {
		t.Fatalf("var_a: got %+v", got)
	}
	if got := sink.get("var_b"); got.Impressions != 1 {
		t.Fatalf("var_b: got %+v", got)
	}
	if sink.batches != 1 {
		t.Fatalf("batches: got %d, want 1", sink.batches)
	}
}

func TestRecorderFlushesWhenBatchFills(t *testing.T) {
	sink := newMemSink()
	r := NewRecorder(sink, Options{BatchSize: 5, FlushInterval: time.Hour})
	defer r.Close()

	for i := 0; i < 5; i++ {
		r.Impression("var_a")
	}
	select {
	case <-sink.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("full batch not flushed")
	}
	if got := sink.get("var_a").Impressions; got != 5 {
		t.Fatalf("impressions: got %d, want 5", got)
	}
}

func TestRecorderDropsBeyondMaxPending(t *testing.T) {
	sink := newMemSink()
	r := NewRecorder(sink, Options{BatchSize: 1000, MaxPending: 3, FlushInterval: time.Hour})
	for i := 0; i < 5; i++ {
		r.Impression("var_a")
	}
	r.Close()

	if got := r.Dropped(); got != 2 {
		t.Fatalf("dropped: got %d, want 2", got)
	}
	if got := sink.get("var_a").Impressions; got != 3 {
		t.Fatalf("impressions: got %d, want 3", got)
	}
}

func TestRecorderFailedFlushIsDropped(t *testing.T) {
	// WHAT: a failing sink loses that batch and the next batch starts clean.
	// WHY: counters are best effort; retrying would double count on partial failure.
	sink := newMemSink()
	sink.err = errors.New("disk full")
	r := NewRecorder(sink, Options{FlushInterval: time.Hour})
	defer r.Close()

	r.Impression("var_a")
	if err := r.Flush(context.Background()); err == nil {
		t.Fatal("expected flush error")
	}

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()
	r.Impression("var_a")
	if err := r.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := sink.get("var_a").Impressions; got != 1 {
		t.Fatalf("impressions: got %d, want 1", got)
	}
}
