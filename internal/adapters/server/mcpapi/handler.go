// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/datetrack/internal/adapters/server/common"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing read-only report tools.
func NewHandler(cfg Config, reports common.ReportReader) (*Handler, error) {
	if reports == nil {
		return nil, fmt.Errorf("report service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerChangesTool(mcpSrv, reports)
	registerStatsTool(mcpSrv, reports)
	registerStateTool(mcpSrv, reports)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "datetrack"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	if !strings.HasPrefix(cfg.EndpointPath, "/") {
		cfg.EndpointPath = "/" + cfg.EndpointPath
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerChangesTool registers the `datetrack.changes` tool.
func registerChangesTool(srv *mcpserver.MCPServer, reports common.ReportReader) {
	srv.AddTool(
		mcp.NewTool(
			"datetrack.changes",
			mcp.WithDescription("List recorded phase-date changes from the ledger, oldest first."),
			mcp.WithString("from", mcp.Description("Earliest change date, YYYY-MM-DD")),
			mcp.WithString("to", mcp.Description("Latest change date, YYYY-MM-DD")),
			mcp.WithArray("groups", mcp.Description("Restrict to these groups"), mcp.WithStringItems()),
			mcp.WithNumber("phase", mcp.Description("Restrict to one phase number")),
			mcp.WithString("user", mcp.Description("Restrict to one user display value")),
			mcp.WithNumber("limit", mcp.Description("Return only the most recent N matches")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			changes, err := reports.Changes(ctx, common.ChangesRequest{
				From:   req.GetString("from", ""),
				To:     req.GetString("to", ""),
				Groups: req.GetStringSlice("groups", nil),
				Phase:  req.GetInt("phase", 0),
				User:   req.GetString("user", ""),
				Limit:  req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(changes)
			if err != nil {
				return nil, fmt.Errorf("encode changes result: %w", err)
			}
			return result, nil
		},
	)
}

// registerStatsTool registers the `datetrack.stats` tool.
func registerStatsTool(srv *mcpserver.MCPServer, reports common.ReportReader) {
	srv.AddTool(
		mcp.NewTool(
			"datetrack.stats",
			mcp.WithDescription("Count changes by user, group, phase, and marketplace for one period."),
			mcp.WithString("period", mcp.Description("YYYY-Www, YYYY-MM, or YYYY-MM-DD..YYYY-MM-DD; defaults to the previous week")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			stats, err := reports.Stats(ctx, common.StatsRequest{Period: req.GetString("period", "")})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(stats)
			if err != nil {
				return nil, fmt.Errorf("encode stats result: %w", err)
			}
			return result, nil
		},
	)
}

// registerStateTool registers the `datetrack.state` tool.
func registerStateTool(srv *mcpserver.MCPServer, reports common.ReportReader) {
	srv.AddTool(
		mcp.NewTool(
			"datetrack.state",
			mcp.WithDescription("Summarize the persisted tracker state."),
			mcp.WithString("group", mcp.Description("Restrict to one group")),
			mcp.WithString("view", mcp.Description("summary or full"), mcp.Enum("summary", "full")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			state, err := reports.State(ctx, common.StateRequest{
				Group: req.GetString("group", ""),
				Full:  req.GetString("view", "summary") == "full",
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			result, err := mcp.NewToolResultJSON(state)
			if err != nil {
				return nil, fmt.Errorf("encode state result: %w", err)
			}
			return result, nil
		},
	)
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
