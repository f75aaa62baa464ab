package landing

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/lander/idgen"
	"github.com/hazyhaar/lander/kit"
)

// RegisterMCP registers the operator tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerRunCycleTool(srv)
	e.registerVariantsTool(srv)
	e.registerEventsTool(srv)
	e.registerSnapshotTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (e *Engine) endpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Logging(e.logger, name)(ep)
}

// --- run_cycle ---

type runCycleRequest struct{}

func (e *Engine) registerRunCycleTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "lander_run_cycle",
		Description: "Run one engine cycle now: analyze, promote, kill, generate, publish, notify. " +
			"Returns the cycle report. Fails if another cycle is in flight.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	ep := e.endpoint("run_cycle", func(ctx context.Context, _ any) (any, error) {
		res, err := e.RunCycle(ctx)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	kit.AddTool[runCycleRequest](srv, tool, ep)
}

// --- variants ---

type variantsRequest struct {
	IncludeKilled bool `json:"include_killed"`
}

func (e *Engine) registerVariantsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lander_variants",
		Description: "List the running experiment's variants with counters, confidence and content.",
		InputSchema: inputSchema(map[string]any{
			"include_killed": map[string]any{"type": "boolean", "description": "Include retired variants (default false)"},
		}, nil),
	}
	ep := e.endpoint("variants", func(ctx context.Context, req any) (any, error) {
		r := req.(variantsRequest)
		return e.Variants(ctx, r.IncludeKilled)
	})
	kit.AddTool[variantsRequest](srv, tool, ep)
}

// --- events ---

type eventsRequest struct {
	ExperimentID string `json:"experiment_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

func (e *Engine) registerEventsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lander_events",
		Description: "List audit events (started, promoted, killed, generated, stopped), newest first.",
		InputSchema: inputSchema(map[string]any{
			"experiment_id": map[string]any{"type": "string", "description": "Restrict to one experiment"},
			"limit":         map[string]any{"type": "integer", "description": "Max events (default 100)"},
		}, nil),
	}
	ep := e.endpoint("events", func(ctx context.Context, req any) (any, error) {
		r := req.(eventsRequest)
		if r.ExperimentID != "" && !idgen.Experiment.Valid(r.ExperimentID) {
			return nil, errors.New("invalid experiment_id")
		}
		events, err := e.Events(ctx, r.ExperimentID, r.Limit)
		if err != nil {
			return nil, err
		}
		if events == nil {
			events = []*Event{}
		}
		return events, nil
	})
	kit.AddTool[eventsRequest](srv, tool, ep)
}

// --- snapshot ---

type snapshotRequest struct{}

func (e *Engine) registerSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "lander_snapshot",
		Description: "Return the last published snapshot: the variants, weights and copy visitors are served.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	ep := e.endpoint("snapshot", func(ctx context.Context, _ any) (any, error) {
		return e.Snapshot(ctx)
	})
	kit.AddTool[snapshotRequest](srv, tool, ep)
}
