package lease

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/lander/dbopen"
)

func setup(t *testing.T, ttl time.Duration) (*Lease, *time.Time) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	l := New(db, "engine_cycle", Options{TTL: ttl})
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestTryAcquireExclusive(t *testing.T) {
	// WHAT: a live lease excludes other holders, is re-entrant for its holder, and frees on Release.
	// WHY: two overlapping cycles would both promote and double-generate variants.
	l, _ := setup(t, time.Minute)
	ctx := context.Background()

	if ok, err := l.TryAcquire(ctx, "a"); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if ok, _ := l.TryAcquire(ctx, "b"); ok {
		t.Fatal("second holder acquired a live lease")
	}
	if ok, _ := l.TryAcquire(ctx, "a"); !ok {
		t.Fatal("holder could not re-acquire its own lease")
	}
	holder, _, err := l.Holder(ctx)
	if err != nil || holder != "a" {
		t.Fatalf("Holder: got %q, %v", holder, err)
	}

	if err := l.Release(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if holder, _, _ := l.Holder(ctx); holder != "a" {
		t.Fatal("release by non-holder freed the lease")
	}
	if err := l.Release(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.TryAcquire(ctx, "b"); !ok {
		t.Fatal("lease not free after release")
	}
}

func TestExpiredLeaseIsTakenOver(t *testing.T) {
	l, now := setup(t, time.Minute)
	ctx := context.Background()

	l.TryAcquire(ctx, "crashed")
	*now = now.Add(61 * time.Second)

	if holder, _, _ := l.Holder(ctx); holder != "" {
		t.Fatalf("expired lease reported as held by %q", holder)
	}
	if ok, _ := l.TryAcquire(ctx, "b"); !ok {
		t.Fatal("expired lease not acquirable")
	}
	if err := l.Extend(ctx, "crashed"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Extend by old holder: got %v, want ErrNotHeld", err)
	}
}

func TestExtend(t *testing.T) {
	l, now := setup(t, time.Minute)
	ctx := context.Background()

	l.TryAcquire(ctx, "a")
	*now = now.Add(50 * time.Second)
	if err := l.Extend(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(50 * time.Second)
	if ok, _ := l.TryAcquire(ctx, "b"); ok {
		t.Fatal("extended lease was taken over")
	}
}

func TestRunBusy(t *testing.T) {
	l, _ := setup(t, time.Minute)
	ctx := context.Background()
	l.TryAcquire(ctx, "other")

	called := false
	err := l.Run(ctx, "me", func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrHeld) {
		t.Fatalf("got %v, want ErrHeld", err)
	}
	if called {
		t.Fatal("fn ran without the lease")
	}
}

func TestRunReleasesAndPropagates(t *testing.T) {
	l, _ := setup(t, time.Minute)
	ctx := context.Background()
	boom := errors.New("boom")

	var inside atomic.Value
	err := l.Run(ctx, "me", func(ctx context.Context) error {
		h, _, _ := l.Holder(ctx)
		inside.Store(h)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if inside.Load() != "me" {
		t.Fatalf("holder during fn: got %v", inside.Load())
	}
	if h, _, _ := l.Holder(ctx); h != "" {
		t.Fatalf("lease still held by %q after Run", h)
	}
}
