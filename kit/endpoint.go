// Package kit carries the transport-agnostic plumbing shared by the lander
// HTTP and MCP surfaces: request-scoped context values and the Endpoint
// abstraction both transports call into.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is a transport-agnostic operation.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Logging logs every call of the endpoint with its duration and outcome.
func Logging(logger *slog.Logger, name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			call := CallFrom(ctx)
			attrs := []any{
				"endpoint", name,
				"transport", call.Transport,
				"duration", time.Since(start),
			}
			if call.TraceID != "" {
				attrs = append(attrs, "trace_id", call.TraceID)
			}
			if err != nil {
				logger.WarnContext(ctx, "endpoint failed", append(attrs, "error", err)...)
			} else {
				logger.DebugContext(ctx, "endpoint done", attrs...)
			}
			return resp, err
		}
	}
}
