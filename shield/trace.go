package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/lander/horosafe"
	"github.com/hazyhaar/lander/kit"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestID = 64

type loggerKey struct{}

// RequestLogger returns the per-request logger TraceID attached to ctx, or
// slog.Default() outside a traced request.
func RequestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// TraceID tags each request with an id and records it, with the client IP,
// as the kit.Call in the request context. A well-formed id sent by a proxy
// in X-Request-ID is kept so log lines join up across hops; anything else is
// replaced by a fresh random one.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if len(id) > maxRequestID || horosafe.ValidateIdentifier(id) != nil {
			id = newRequestID()
		}
		w.Header().Set(RequestIDHeader, id)

		call := kit.Call{Transport: kit.TransportHTTP, TraceID: id, Remote: ExtractIP(r)}
		logger := slog.Default().With("trace_id", id, "method", r.Method, "path", r.URL.Path)
		ctx := kit.WithCall(r.Context(), call)
		ctx = context.WithValue(ctx, loggerKey{}, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
