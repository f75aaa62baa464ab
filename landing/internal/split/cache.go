package split

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/snapshot"
	"github.com/hazyhaar/lander/landing/internal/store"
)

// Defaults for CacheOptions.
const (
	DefaultTTL          = 5 * time.Minute
	DefaultRetryBackoff = 30 * time.Second
	DefaultFetchTimeout = 5 * time.Second
)

// Refresh outcomes passed to CacheOptions.OnRefresh.
const (
	RefreshOK       = "ok"
	RefreshNotFound = "not_found"
	RefreshError    = "error"
)

// Entry is one assignable variant.
type Entry struct {
	ID      string
	Slot    store.Slot
	Weight  int
	Content content.Content
}

// View is an immutable, pre-ordered rendering of one snapshot. Requests
// share it without locking; a refresh swaps in a new View.
type View struct {
	ExperimentID string
	Active       bool
	Entries      []Entry
	Total        int
	FetchedAt    time.Time
	index        map[string]int
}

func newView(s *snapshot.Snapshot, at time.Time) *View {
	v := &View{FetchedAt: at, index: map[string]int{}}
	if s == nil {
		return v
	}
	v.ExperimentID, v.Active = s.ExperimentID, s.Active
	for id, vc := range s.Variants {
		v.Entries = append(v.Entries, Entry{ID: id, Slot: vc.Slot, Weight: vc.Weight, Content: vc.Content})
		if vc.Weight > 0 {
			v.Total += vc.Weight
		}
	}
	slices.SortFunc(v.Entries, func(a, b Entry) int {
		if c := cmp.Compare(a.Slot.Rank(), b.Slot.Rank()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	for i, e := range v.Entries {
		v.index[e.ID] = i
	}
	return v
}

// Servable reports whether visitors should be assigned from v.
func (v *View) Servable() bool {
	return v != nil && v.Active && len(v.Entries) > 0
}

// Lookup finds an entry by variant id.
func (v *View) Lookup(id string) (Entry, bool) {
	i, ok := v.index[id]
	if !ok {
		return Entry{}, false
	}
	return v.Entries[i], true
}

// CacheOptions configure a Cache.
type CacheOptions struct {
	// TTL is the freshness window of a fetched snapshot.
	TTL time.Duration
	// RetryBackoff is how long a failed refresh keeps serving the stale view
	// before the next attempt.
	RetryBackoff time.Duration
	FetchTimeout time.Duration
	Logger       *slog.Logger
	// OnRefresh observes every fetch attempt.
	OnRefresh func(outcome string)
}

// Cache holds the last known-good snapshot view. Concurrent refreshes
// collapse into one fetch; a failed fetch keeps the previous view.
type Cache struct {
	src       snapshot.Source
	opts      CacheOptions
	now       func() time.Time
	cur       atomic.Pointer[View]
	nextCheck atomic.Int64
	group     singleflight.Group
}

// NewCache returns a Cache reading from src.
func NewCache(src snapshot.Source, opts CacheOptions) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = min(DefaultRetryBackoff, opts.TTL)
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache{src: src, opts: opts, now: time.Now}
}

// Get returns the current view, refreshing it first when stale. Until a
// fetch succeeds it returns an empty view with a zero FetchedAt, which is
// not servable.
func (c *Cache) Get(ctx context.Context) *View {
	cur := c.cur.Load()
	if cur != nil && c.now().UnixNano() < c.nextCheck.Load() {
		return cur
	}
	v, _, _ := c.group.Do("snapshot", func() (any, error) {
		return c.refresh(ctx), nil
	})
	return v.(*View)
}

// Invalidate forces the next Get to refetch.
func (c *Cache) Invalidate() {
	c.nextCheck.Store(0)
}

func (c *Cache) refresh(ctx context.Context) *View {
	// A cancelled visitor request must not fail the fetch other requests wait on.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
	defer cancel()

	now := c.now()
	s, err := c.src.Load(ctx)
	switch {
	case err == nil:
		v := newView(s, now)
		c.cur.Store(v)
		c.nextCheck.Store(now.Add(c.opts.TTL).UnixNano())
		c.observe(RefreshOK)
		return v
	case errors.Is(err, snapshot.ErrNotFound):
		v := newView(nil, now)
		c.cur.Store(v)
		c.nextCheck.Store(now.Add(c.opts.TTL).UnixNano())
		c.observe(RefreshNotFound)
		return v
	default:
		c.nextCheck.Store(now.Add(c.opts.RetryBackoff).UnixNano())
		c.observe(RefreshError)
		stale := c.cur.Load()
		attrs := []any{"error", err}
		if stale == nil {
			// Cold start: park an empty view so the backoff applies to it.
			stale = newView(nil, time.Time{})
			c.cur.CompareAndSwap(nil, stale)
		} else if !stale.FetchedAt.IsZero() {
			attrs = append(attrs, "stale_age", now.Sub(stale.FetchedAt).String())
		}
		c.opts.Logger.Warn("split: snapshot refresh failed", attrs...)
		return stale
	}
}

func (c *Cache) observe(outcome string) {
	if c.opts.OnRefresh != nil {
		c.opts.OnRefresh(outcome)
	}
}
