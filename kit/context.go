package kit

import "context"

// Transports an endpoint can be reached through.
const (
	TransportHTTP      = "http"
	TransportMCP       = "mcp"
	TransportScheduler = "scheduler"
)

// Call describes the request an endpoint is serving.
type Call struct {
	Transport string
	TraceID   string
	Remote    string
}

type callKey struct{}

// WithCall attaches c to ctx.
func WithCall(ctx context.Context, c Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the call attached to ctx. Transport defaults to http.
func CallFrom(ctx context.Context) Call {
	c, _ := ctx.Value(callKey{}).(Call)
	if c.Transport == "" {
		c.Transport = TransportHTTP
	}
	return c
}

// WithTransport sets only the transport of the call in ctx.
func WithTransport(ctx context.Context, transport string) context.Context {
	c := CallFrom(ctx)
	c.Transport = transport
	return WithCall(ctx, c)
}
