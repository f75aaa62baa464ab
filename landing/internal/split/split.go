// Package split assigns page visitors to variants of the running experiment.
// It reads only the published snapshot, through a Cache, and keeps each
// visitor on one variant with a sticky cookie.
package split

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/lander/landing/internal/content"
	"github.com/hazyhaar/lander/landing/internal/store"
)

// Defaults for Options.
const (
	DefaultCookieName   = "lander_variant"
	DefaultCookieMaxAge = 30 * 24 * time.Hour
)

// Request headers set on assigned requests.
const (
	HeaderVariant    = "X-Lander-Variant"
	HeaderExperiment = "X-Lander-Experiment"
)

// Assignment is the variant a request was served.
type Assignment struct {
	ExperimentID string
	VariantID    string
	Slot         store.Slot
	Content      content.Content
	// Sticky is true when the visitor's cookie picked the variant.
	Sticky bool
}

type ctxKey struct{}

// WithAssignment stores a in ctx.
func WithAssignment(ctx context.Context, a Assignment) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the assignment attached by Splitter.Middleware.
func FromContext(ctx context.Context) (Assignment, bool) {
	a, ok := ctx.Value(ctxKey{}).(Assignment)
	return a, ok
}

// Pick walks entries subtracting weights from r until the remainder drops
// to zero or below. r is a uniform draw in [0, total). When rounding leaves
// a remainder, the first entry is returned.
func Pick(entries []Entry, r float64) (Entry, bool) {
	if len(entries) == 0 {
		return Entry{}, false
	}
	for _, e := range entries {
		if e.Weight <= 0 {
			continue
		}
		r -= float64(e.Weight)
		if r <= 0 {
			return e, true
		}
	}
	return entries[0], true
}

// Options configure a Splitter.
type Options struct {
	CookieName   string
	CookieMaxAge time.Duration
	// OnAssign is called for every assignment, i.e. every impression. It
	// runs on the request path and must not block.
	OnAssign func(Assignment)
	// Float64 returns a uniform draw in [0, 1).
	Float64 func() float64
	Logger  *slog.Logger
}

// Splitter assigns requests to variants.
type Splitter struct {
	cache *Cache
	opts  Options
}

// New returns a Splitter serving from cache.
func New(cache *Cache, opts Options) *Splitter {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.CookieMaxAge <= 0 {
		opts.CookieMaxAge = DefaultCookieMaxAge
	}
	if opts.Float64 == nil {
		opts.Float64 = rand.Float64
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Splitter{cache: cache, opts: opts}
}

// Assign picks the variant for r and refreshes its sticky cookie on w. It
// returns false when there is nothing to assign.
func (s *Splitter) Assign(w http.ResponseWriter, r *http.Request) (Assignment, bool) {
	view := s.cache.Get(r.Context())
	if !view.Servable() {
		return Assignment{}, false
	}

	sticky := false
	var entry Entry
	if c, err := r.Cookie(s.opts.CookieName); err == nil {
		entry, sticky = view.Lookup(c.Value)
	}
	if !sticky {
		var ok bool
		entry, ok = Pick(view.Entries, s.opts.Float64()*float64(view.Total))
		if !ok {
			return Assignment{}, false
		}
		http.SetCookie(w, &http.Cookie{
			Name:     s.opts.CookieName,
			Value:    entry.ID,
			Path:     "/",
			MaxAge:   int(s.opts.CookieMaxAge.Seconds()),
			Expires:  time.Now().Add(s.opts.CookieMaxAge),
			HttpOnly: true,
			Secure:   isHTTPS(r),
			SameSite: http.SameSiteLaxMode,
		})
	}

	a := Assignment{
		ExperimentID: view.ExperimentID,
		VariantID:    entry.ID,
		Slot:         entry.Slot,
		Content:      entry.Content,
		Sticky:       sticky,
	}
	if s.opts.OnAssign != nil {
		s.opts.OnAssign(a)
	}
	return a, true
}

// Middleware attaches the assignment to the request context and headers.
// Requests pass through untouched when no experiment is servable.
func (s *Splitter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := s.Assign(w, r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		r = r.WithContext(WithAssignment(r.Context(), a))
		r.Header.Set(HeaderVariant, a.VariantID)
		r.Header.Set(HeaderExperiment, a.ExperimentID)
		next.ServeHTTP(w, r)
	})
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
