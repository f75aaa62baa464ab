package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// AddTool exposes endpoint as an MCP tool. The call arguments decode into a
// fresh T, the zero value when absent, and the endpoint receives that T as
// its request. The response is returned as one JSON text content.
//
// Endpoint failures become tool results with IsError set, so the calling
// model reads the message; the protocol error return is never used.
func AddTool[T any](srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args T
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return toolError(fmt.Errorf("%s: invalid arguments: %w", tool.Name, err)), nil
			}
		}
		resp, err := endpoint(WithTransport(ctx, TransportMCP), args)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("%s: encode result: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}
