// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes dispatchd operator tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/recordservice"
)

// LifecycleURI is the resource describing every table's status lifecycle.
const LifecycleURI = "dispatchd://lifecycle"

// Server wraps the MCP server with dispatchd tools.
type Server struct {
	mcp       *server.MCPServer
	svc       *recordservice.Service
	lifecycle string
}

// New creates a new MCP server with all tools registered. lifecycle maps
// table to status to the handler names run on entering that status.
func New(svc *recordservice.Service, lifecycle map[string]map[string][]string) *Server {
	s := &Server{svc: svc, lifecycle: RenderLifecycle(lifecycle)}

	s.mcp = server.NewMCPServer(
		"dispatchd",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("List the polled tables with their status values."),
	), s.listTables)

	s.mcp.AddTool(mcp.NewTool("list_records",
		mcp.WithDescription("List records of a table, optionally only those in one status."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Logical table name (e.g. intake)")),
		mcp.WithString("status", mcp.Description("Only records with this exact status")),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50, max 200)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
	), s.listRecords)

	s.mcp.AddTool(mcp.NewTool("get_record",
		mcp.WithDescription("Read one record with its fields and engine metadata."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Logical table name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Record id")),
	), s.getRecord)

	s.mcp.AddTool(mcp.NewTool("pending_changes",
		mcp.WithDescription("Preview the records the next cycle of a table would process. "+
			"Read-only; nothing is sent or written."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Logical table name")),
	), s.pendingChanges)

	s.mcp.AddTool(mcp.NewTool("run_cycle",
		mcp.WithDescription("Run one reconciliation cycle of a table now. This sends messages "+
			"and writes records exactly like a scheduled poll. Check pending_changes first."),
		mcp.WithString("table", mcp.Required(), mcp.Description("Logical table name")),
	), s.runCycle)

	// Resource: status lifecycle.
	s.mcp.AddResource(
		mcp.NewResource(LifecycleURI, "Status Lifecycle",
			mcp.WithResourceDescription("Statuses of every table and the actions run on entering each one."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLifecycleResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func toolError(table string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrUnknownTable):
		return mcp.NewToolResultError(fmt.Sprintf("unknown table: %s", table))
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("record not found")
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func (s *Server) listTables(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tables, err := s.svc.ListTables(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tables)
}

func (s *Server) listRecords(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := req.RequireString("table")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, total, err := s.svc.ListRecords(ctx, table,
		req.GetString("status", ""),
		req.GetInt("limit", 0),
		req.GetInt("offset", 0))
	if err != nil {
		return toolError(table, err), nil
	}
	return jsonResult(map[string]any{"records": items, "total": total})
}

func (s *Server) getRecord(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := req.RequireString("table")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, err := s.svc.GetRecord(ctx, table, id)
	if err != nil {
		return toolError(table, err), nil
	}
	return jsonResult(rec)
}

func (s *Server) pendingChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := req.RequireString("table")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.svc.PendingChanges(ctx, table)
	if err != nil {
		return toolError(table, err), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("no pending changes"), nil
	}
	return jsonResult(items)
}

type outcomeView struct {
	RecordID string   `json:"record_id"`
	TicketID string   `json:"ticket_id,omitempty"`
	Status   any      `json:"status"`
	Advanced bool     `json:"advanced"`
	Errors   []string `json:"errors,omitempty"`
}

func (s *Server) runCycle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := req.RequireString("table")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	report, err := s.svc.RunCycle(ctx, table)
	if err != nil {
		return toolError(table, err), nil
	}
	outcomes := make([]outcomeView, len(report.Outcomes))
	for i, o := range report.Outcomes {
		outcomes[i] = outcomeView{
			RecordID: o.RecordID,
			TicketID: o.TicketID,
			Status:   o.Status,
			Advanced: o.Advanced,
			Errors:   o.ErrorMessages(),
		}
	}
	return jsonResult(map[string]any{
		"table":    report.Table,
		"detected": report.Detected,
		"advanced": report.Advanced(),
		"failed":   report.Failed(),
		"outcomes": outcomes,
	})
}

func (s *Server) readLifecycleResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      LifecycleURI,
			MIMEType: "text/markdown",
			Text:     s.lifecycle,
		},
	}, nil
}
