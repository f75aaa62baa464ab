package split

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/snapshot"
	"github.com/hazyhaar/lander/landing/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	snap  *snapshot.Snapshot
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeSource) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeSource) set(s *snapshot.Snapshot, err error) {
	f.mu.Lock()
	f.snap, f.err = s, err
	f.mu.Unlock()
}

func testSnapshot(active bool) *snapshot.Snapshot {
	return &snapshot.Snapshot{
		ExperimentID: "exp_1",
		Active:       active,
		Variants: map[string]snapshot.VariantConfig{
			"champ": {Slot: store.SlotChampion, Weight: 70, Content: content.Content{Fields: map[string]string{"cta": "A"}}},
			"chall": {Slot: store.SlotChallenger, Weight: 20, Content: content.Content{Fields: map[string]string{"cta": "B"}}},
			"expl":  {Slot: store.SlotExplorer, Weight: 10, Content: content.Content{Fields: map[string]string{"cta": "C"}}},
		},
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time      { return c.t }
func (c *clock) add(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Unix(1_700_000_000, 0)} }

func cacheWith(src snapshot.Source, c *clock) *Cache {
	cache := NewCache(src, CacheOptions{TTL: 5 * time.Minute, RetryBackoff: 30 * time.Second})
	cache.now = c.now
	return cache
}

func TestViewOrdering(t *testing.T) {
	v := newView(testSnapshot(true), time.Now())
	var got []string
	for _, e := range v.Entries {
		got = append(got, e.ID)
	}
	if len(got) != 3 || got[0] != "champ" || got[1] != "chall" || got[2] != "expl" {
		t.Fatalf("order = %v", got)
	}
	if v.Total != 100 {
		t.Fatalf("total = %d", v.Total)
	}
}

func TestCacheTTL(t *testing.T) {
	// WHAT: the snapshot is fetched once per freshness window.
	src := &fakeSource{snap: testSnapshot(true)}
	c := newClock()
	cache := cacheWith(src, c)
	ctx := context.Background()

	cache.Get(ctx)
	c.add(4 * time.Minute)
	cache.Get(ctx)
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("fetches within window = %d, want 1", n)
	}
	c.add(2 * time.Minute)
	cache.Get(ctx)
	if n := src.calls.Load(); n != 2 {
		t.Fatalf("fetches after window = %d, want 2", n)
	}
	cache.Invalidate()
	cache.Get(ctx)
	if n := src.calls.Load(); n != 3 {
		t.Fatalf("fetches after invalidate = %d, want 3", n)
	}
}

func TestCacheStaleWhileError(t *testing.T) {
	// WHAT: a failed refresh keeps serving the last good view, and retries after the backoff.
	// WHY: the engine must never be a single point of failure for page delivery.
	src := &fakeSource{snap: testSnapshot(true)}
	c := newClock()
	cache := cacheWith(src, c)
	ctx := context.Background()

	good := cache.Get(ctx)
	src.set(nil, errors.New("bucket down"))
	c.add(6 * time.Minute)
	if got := cache.Get(ctx); got != good {
		t.Fatal("stale view not served on error")
	}
	c.add(10 * time.Second)
	cache.Get(ctx)
	if n := src.calls.Load(); n != 2 {
		t.Fatalf("retried inside backoff: %d fetches", n)
	}
	src.set(testSnapshot(false), nil)
	c.add(30 * time.Second)
	if got := cache.Get(ctx); got == good || got.Active {
		t.Fatal("recovered snapshot not picked up")
	}
}

func TestCacheNoSnapshot(t *testing.T) {
	ctx := context.Background()
	if v := cacheWith(&fakeSource{err: errors.New("down")}, newClock()).Get(ctx); v == nil || v.Servable() || !v.FetchedAt.IsZero() {
		t.Fatalf("view without any success = %+v", v)
	}
	if v := cacheWith(&fakeSource{err: snapshot.ErrNotFound}, newClock()).Get(ctx); v == nil || v.Servable() {
		t.Fatalf("not-found view = %+v", v)
	}
}

func TestCacheCollapsesConcurrentRefresh(t *testing.T) {
	src := &fakeSource{snap: testSnapshot(true), delay: 50 * time.Millisecond}
	cache := NewCache(src, CacheOptions{})
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cache.Get(context.Background())
		}()
	}
	wg.Wait()
	if n := src.calls.Load(); n > 2 {
		t.Fatalf("concurrent fetches = %d", n)
	}
}

func TestCacheColdErrorBacksOff(t *testing.T) {
	// WHAT: when the very first fetch fails, later requests inside the backoff do not refetch.
	// WHY: a down source at boot must not make every page request wait on a fetch.
	src := &fakeSource{err: errors.New("bucket down"), delay: 20 * time.Millisecond}
	c := newClock()
	cache := cacheWith(src, c)
	ctx := context.Background()

	for range 10 {
		if v := cache.Get(ctx); v.Servable() {
			t.Fatal("servable view without a snapshot")
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("fetches inside backoff = %d, want 1", n)
	}

	src.set(testSnapshot(true), nil)
	c.add(31 * time.Second)
	if v := cache.Get(ctx); !v.Servable() {
		t.Fatal("snapshot not picked up after backoff")
	}
	if n := src.calls.Load(); n != 2 {
		t.Fatalf("fetches = %d, want 2", n)
	}
}

func TestMiddlewarePassesThroughWhileSourceDown(t *testing.T) {
	src := &fakeSource{err: errors.New("bucket down")}
	s := newSplitter(src, Options{})
	var served atomic.Int32
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); ok {
			t.Error("assignment without a snapshot")
		}
		served.Add(1)
	}))
	for range 5 {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}
	if served.Load() != 5 || src.calls.Load() != 1 {
		t.Fatalf("served=%d fetches=%d", served.Load(), src.calls.Load())
	}
}

func TestPick(t *testing.T) {
	v := newView(testSnapshot(true), time.Now())
	tests := []struct {
		r    float64
		want string
	}{
		{0, "champ"},
		{69.9, "champ"},
		{70, "champ"},
		{70.5, "chall"},
		{90, "chall"},
		{95, "expl"},
		{99.999, "expl"},
		{150, "champ"},
	}
	for _, tt := range tests {
		if e, _ := Pick(v.Entries, tt.r); e.ID != tt.want {
			t.Errorf("Pick(%v) = %s, want %s", tt.r, e.ID, tt.want)
		}
	}
	if _, ok := Pick(nil, 0); ok {
		t.Fatal("Pick on empty returned ok")
	}
}

func newSplitter(src snapshot.Source, opts Options) *Splitter {
	return New(NewCache(src, CacheOptions{}), opts)
}

func TestDistribution(t *testing.T) {
	// WHAT: fresh draws follow the 70/20/10 weights.
	s := newSplitter(&fakeSource{snap: testSnapshot(true)}, Options{})
	counts := map[string]int{}
	const n = 20_000
	for range n {
		a, ok := s.Assign(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
		if !ok {
			t.Fatal("not assigned")
		}
		counts[a.VariantID]++
	}
	for id, want := range map[string]float64{"champ": 0.7, "chall": 0.2, "expl": 0.1} {
		got := float64(counts[id]) / n
		if got < want-0.02 || got > want+0.02 {
			t.Errorf("%s share = %.3f, want %.2f", id, got, want)
		}
	}
}

func TestStickyCookie(t *testing.T) {
	// WHAT: a valid cookie keeps the visitor on its variant without a new draw or cookie.
	draws := 0
	s := newSplitter(&fakeSource{snap: testSnapshot(true)}, Options{Float64: func() float64 { draws++; return 0.95 }})

	w := httptest.NewRecorder()
	first, _ := s.Assign(w, httptest.NewRequest("GET", "/", nil))
	cookies := w.Result().Cookies()
	if first.VariantID != "expl" || len(cookies) != 1 {
		t.Fatalf("first assignment %+v cookies %v", first, cookies)
	}
	c := cookies[0]
	if c.Name != DefaultCookieName || c.Value != "expl" || !c.HttpOnly || c.SameSite != http.SameSiteLaxMode ||
		c.MaxAge != int(DefaultCookieMaxAge.Seconds()) || c.Secure {
		t.Fatalf("cookie = %+v", c)
	}

	for range 5 {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/", nil)
		r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "expl"})
		a, _ := s.Assign(w, r)
		if a.VariantID != "expl" || !a.Sticky {
			t.Fatalf("repeat assignment %+v", a)
		}
		if len(w.Result().Cookies()) != 0 {
			t.Fatal("cookie rewritten on sticky hit")
		}
	}
	if draws != 1 {
		t.Fatalf("draws = %d, want 1", draws)
	}
}

func TestUnknownCookieRedraws(t *testing.T) {
	s := newSplitter(&fakeSource{snap: testSnapshot(true)}, Options{Float64: func() float64 { return 0 }})
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "killed-variant"})
	r.Header.Set("X-Forwarded-Proto", "https")
	a, _ := s.Assign(w, r)
	if a.VariantID != "champ" || a.Sticky {
		t.Fatalf("assignment %+v", a)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != "champ" || !cookies[0].Secure {
		t.Fatalf("cookies = %+v", cookies)
	}
}

func TestMiddleware(t *testing.T) {
	var impressions []string
	s := newSplitter(&fakeSource{snap: testSnapshot(true)}, Options{
		Float64:  func() float64 { return 0.8 },
		OnAssign: func(a Assignment) { impressions = append(impressions, a.VariantID) },
	})
	var seen Assignment
	var header string
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		header = r.Header.Get(HeaderVariant) + "/" + r.Header.Get(HeaderExperiment)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	if seen.VariantID != "chall" || seen.Content.Get("cta") != "B" || header != "chall/exp_1" {
		t.Fatalf("assignment %+v header %q", seen, header)
	}
	if len(impressions) != 1 || impressions[0] != "chall" {
		t.Fatalf("impressions = %v", impressions)
	}
}

func TestMiddlewarePassThrough(t *testing.T) {
	// WHAT: inactive or missing snapshots leave the request untouched.
	for name, src := range map[string]*fakeSource{
		"inactive": {snap: testSnapshot(false)},
		"missing":  {err: snapshot.ErrNotFound},
		"failing":  {err: errors.New("down")},
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			h := newSplitter(src, Options{}).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				if _, ok := FromContext(r.Context()); ok || r.Header.Get(HeaderVariant) != "" {
					t.Fatal("request was assigned")
				}
			}))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
			if !called || len(w.Result().Cookies()) != 0 {
				t.Fatalf("called=%v cookies=%v", called, w.Result().Cookies())
			}
		})
	}
}
