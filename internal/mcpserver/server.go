// Package mcpserver exposes the RAG Agent's tool surface (C7:
// corpus_search, web_search, web_extract) over the Model Context Protocol,
// so an external MCP client can drive the same in-corpus search and web
// tools the in-process agent uses (SPEC_FULL.md §2 domain stack).
//
// Grounded on the teacher's internal/mcp (a client-side manager launching
// stdio MCP servers); this package is the inverse role — it serves tools —
// so it is new code built directly against the official SDK rather than an
// adaptation of the teacher's client launcher.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scholiabot/core/internal/observability"
	"github.com/scholiabot/core/internal/tools"
)

// Implementation identifies this server to MCP clients during initialize.
var Implementation = &mcp.Implementation{Name: "scholiabot-core", Version: "0.1.0"}

// New builds an MCP server exposing every tool currently registered in reg
// (typically ragagent.BuildTools's corpus_search/web_search/web_extract
// set). Each tool's existing llm.ToolSchema becomes the MCP tool's declared
// input schema; dispatch is delegated to reg.Dispatch unchanged, so the
// MCP surface and the in-process agent loop always see identical behavior.
func New(reg tools.Registry) *mcp.Server {
	server := mcp.NewServer(Implementation, nil)
	for _, schema := range reg.Schemas() {
		name := schema.Name
		tool := &mcp.Tool{
			Name:        name,
			Description: schema.Description,
			InputSchema: schema.Parameters,
		}
		server.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			raw, err := json.Marshal(req.Params.Arguments)
			if err != nil {
				return nil, err
			}
			payload, err := reg.Dispatch(ctx, name, raw)
			if err != nil {
				observability.LoggerWithTrace(ctx).Warn().Err(err).Str("tool", name).Msg("mcpserver_dispatch_failed")
				return &mcp.CallToolResult{
					IsError: true,
					Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				}, nil
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: string(payload)}},
			}, nil
		})
	}
	return server
}

// ServeStdio runs server over stdio until ctx is cancelled or the client
// disconnects, the transport external MCP clients (e.g. a desktop agent
// shell) use to launch this process as a subordinate tool server.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
