package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type token struct{ v atomic.Int64 }

func (t *token) detect(context.Context) (int64, error) { return t.v.Load(), nil }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func start(t *testing.T, w *Watcher, action func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.OnChange(ctx, action)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestOnChangeFiresPerChange(t *testing.T) {
	// WHAT: the baseline token never fires; each later change fires once.
	var tok token
	tok.v.Store(7)
	var reloads atomic.Int32
	w := New(tok.detect, Options{Interval: 5 * time.Millisecond, Logger: quiet})
	start(t, w, func() error { reloads.Add(1); return nil })

	eventually(t, func() bool { return w.Stats().Checks >= 3 })
	if reloads.Load() != 0 {
		t.Fatal("baseline fired")
	}

	tok.v.Store(8)
	eventually(t, func() bool { return w.Version() == 8 })
	tok.v.Store(9)
	eventually(t, func() bool { return w.Version() == 9 })
	if got := reloads.Load(); got != 2 {
		t.Fatalf("reloads = %d, want 2", got)
	}
}

func TestOnChangeDebounce(t *testing.T) {
	var tok token
	var reloads atomic.Int32
	w := New(tok.detect, Options{Interval: 5 * time.Millisecond, Debounce: 80 * time.Millisecond, Logger: quiet})
	start(t, w, func() error { reloads.Add(1); return nil })
	eventually(t, func() bool { return w.Stats().Checks >= 1 })

	for i := int64(1); i <= 4; i++ {
		tok.v.Store(i)
		time.Sleep(10 * time.Millisecond)
	}
	if reloads.Load() != 0 {
		t.Fatal("fired inside the debounce window")
	}
	eventually(t, func() bool { return w.Version() == 4 })
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads = %d, want 1", got)
	}
}

func TestOnChangeRetriesFailedAction(t *testing.T) {
	// WHY: a failed reload must not be forgotten or the page server keeps a stale snapshot.
	var tok token
	var calls atomic.Int32
	w := New(tok.detect, Options{Interval: 5 * time.Millisecond, Logger: quiet})
	start(t, w, func() error {
		if calls.Add(1) == 1 {
			return errors.New("source unavailable")
		}
		return nil
	})
	eventually(t, func() bool { return w.Stats().Checks >= 1 })

	tok.v.Store(1)
	eventually(t, func() bool { return w.Version() == 1 })
	if calls.Load() < 2 || w.Stats().Errors < 1 {
		t.Fatalf("calls=%d stats=%+v", calls.Load(), w.Stats())
	}
}

func TestDetectorErrorsAreCounted(t *testing.T) {
	w := New(func(context.Context) (int64, error) { return 0, errors.New("locked") },
		Options{Interval: 5 * time.Millisecond, Logger: quiet})
	start(t, w, func() error { return nil })
	eventually(t, func() bool { return w.Stats().Errors >= 2 })
	if w.Stats().Reloads != 0 {
		t.Fatal("reloaded on detector error")
	}
}

func TestPrimeFixesBaselineBeforeStart(t *testing.T) {
	// WHAT: a change made between Prime and the OnChange goroutine starting still fires.
	// WHY: otherwise a publish racing the watcher start becomes the baseline and is never seen.
	var tok token
	tok.v.Store(3)
	var reloads atomic.Int32
	w := New(tok.detect, Options{Interval: 5 * time.Millisecond, Logger: quiet})
	if err := w.Prime(context.Background()); err != nil {
		t.Fatal(err)
	}
	tok.v.Store(4)
	start(t, w, func() error { reloads.Add(1); return nil })

	eventually(t, func() bool { return w.Version() == 4 })
	if got := reloads.Load(); got != 1 {
		t.Fatalf("reloads = %d, want 1", got)
	}
}

func TestPrimeErrorLeavesZeroBaseline(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	var tok token
	tok.v.Store(5)
	detect := func(ctx context.Context) (int64, error) {
		if fail.Load() {
			return 0, errors.New("locked")
		}
		return tok.detect(ctx)
	}
	var reloads atomic.Int32
	w := New(detect, Options{Interval: 5 * time.Millisecond, Logger: quiet})
	if err := w.Prime(context.Background()); err == nil {
		t.Fatal("Prime error swallowed")
	}
	fail.Store(false)
	start(t, w, func() error { reloads.Add(1); return nil })

	eventually(t, func() bool { return w.Version() == 5 })
	if reloads.Load() != 1 {
		t.Fatalf("reloads = %d, want 1", reloads.Load())
	}
}
