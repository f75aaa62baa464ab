// Package shield provides the HTTP middleware lander puts in front of its
// public pages, tracking beacons and admin routes.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.PublicStack(shield.NewRateLimiter(20, 40))...)
package shield

import "net/http"

// DefaultMaxBody caps request bodies on every stack.
const DefaultMaxBody int64 = 64 * 1024

// PublicStack returns the middleware for visitor-facing routes (landing page
// and tracking beacons). The rate limiter runs last and only when rl is
// non-nil.
func PublicStack(rl *RateLimiter) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		SecurityHeaders(PageHeaders()),
		MaxBody(DefaultMaxBody),
		TraceID,
	}
	if rl != nil {
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// AdminStack returns the middleware for operator routes. Admin routes sit
// behind a secret, so they are not rate limited.
func AdminStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		SecurityHeaders(AdminHeaders()),
		MaxBody(DefaultMaxBody),
		TraceID,
	}
}
