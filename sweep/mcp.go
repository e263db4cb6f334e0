package sweep

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedsweep/idgen"
	"github.com/hazyhaar/feedsweep/kit"
)

// RegisterMCP registers the campaign tools on an MCP server.
func (r *Runner) RegisterMCP(srv *mcp.Server) {
	r.registerRunTool(srv)
	r.registerStatusTool(srv)
}

// toolMiddleware is the chain every campaign tool runs behind.
func (r *Runner) toolMiddleware(name string) kit.Middleware {
	return kit.Chain(
		kit.RequestIDs(idgen.NanoID(12)),
		kit.Logging(r.logger, name),
	)
}

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

// --- run ---

func (r *Runner) registerRunTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name: "feedsweep_run_campaign",
		Description: "Run one campaign on the logged-in account and wait for its result. " +
			"kind=unlike retracts every like; kind=like likes `count` random posts matching `query`; " +
			"kind=delete removes own posts with no replies, reposts or likes.",
		InputSchema: inputSchema(map[string]any{
			"kind":  map[string]any{"type": "string", "enum": []string{string(Unlike), string(Like), string(Delete)}},
			"count": map[string]any{"type": "integer", "minimum": 0, "maximum": MaxCount, "description": "Successes to stop at (required for like)"},
			"query": map[string]any{"type": "string", "description": "Search text (like only)"},
			"tabs":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Profile tabs (delete only), default Posts"},
		}, []string{"kind"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		res, err := r.Run(ctx, *req.(*Request))
		if err != nil && res == nil {
			return nil, err
		}
		return res, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var q Request
		if err := json.Unmarshal(req.Params.Arguments, &q); err != nil {
			return nil, err
		}
		if err := q.Validate(); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &q}, nil
	}

	kit.RegisterMCPTool(srv, tool, r.toolMiddleware(tool.Name)(endpoint), decode)
}

// --- status ---

type statusReq struct {
	RunID string `json:"run_id"`
}

func (r *Runner) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "feedsweep_campaign_status",
		Description: "Status, counters and recent events of a campaign. Without run_id, the running campaign.",
		InputSchema: inputSchema(map[string]any{
			"run_id": map[string]any{"type": "string"},
		}, nil),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		id := req.(*statusReq).RunID
		if id == "" {
			active, ok := r.Active()
			if !ok {
				return map[string]any{"running": false}, nil
			}
			id = active
		}
		st, ok := r.Status(id)
		if !ok {
			return nil, fmt.Errorf("unknown run %q", id)
		}
		return st, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var q statusReq
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &q); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &q}, nil
	}

	kit.RegisterMCPTool(srv, tool, r.toolMiddleware(tool.Name)(endpoint), decode)
}
