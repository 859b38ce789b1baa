package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/dispatchd/internal/actions"
	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/fields"
	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/recordservice"
	"github.com/starford/dispatchd/internal/testutil"
)

func testServer(t *testing.T) (*Server, *fields.Store, *testutil.Messenger) {
	t.Helper()

	tr, err := fields.NewTranslator(map[string]fields.Schema{
		actions.TableIntake:         {Table: "Intake", Columns: map[string]string{"status": "Status", "ticketID": "Ticket ID"}},
		actions.TableReimbursements: {Table: "Reimbursements", Columns: map[string]string{"status": "Status", "ticketID": "Ticket ID"}},
		actions.TableVolunteers:     {Table: "Volunteers", Columns: map[string]string{"status": "Status"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	store := fields.NewStore(testutil.TestStore(t), tr)
	messenger := testutil.NewMessenger()
	a := actions.New(store, messenger, actions.NewChannels(nil, "C0ALL"), nil)
	reconciler := engine.NewReconciler(store, engine.NewProcessor(store, nil), nil, a.Tables(false)...)

	srv := New(recordservice.NewService(store, reconciler), a.Lifecycle())
	return srv, store, messenger
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no "call tool" test helper, so we call the handlers directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_tables":
		result, err = srv.listTables(ctx, req)
	case "list_records":
		result, err = srv.listRecords(ctx, req)
	case "get_record":
		result, err = srv.getRecord(ctx, req)
	case "pending_changes":
		result, err = srv.pendingChanges(ctx, req)
	case "run_cycle":
		result, err = srv.runCycle(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func seed(t *testing.T, store *fields.Store, table string, f models.Fields) models.Record {
	t.Helper()
	r, err := store.Create(context.Background(), table, f)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestListTables(t *testing.T) {
	srv, _, _ := testServer(t)

	r := callTool(t, srv, "list_tables", nil)
	var tables []recordservice.TableInfo
	if err := json.Unmarshal([]byte(resultText(r)), &tables); err != nil {
		t.Fatalf("decode: %v (%q)", err, resultText(r))
	}
	if len(tables) != 3 || tables[2].Name != "volunteers" {
		t.Errorf("tables = %+v", tables)
	}
}

func TestListAndGetRecord(t *testing.T) {
	srv, store, _ := testServer(t)
	rec := seed(t, store, "intake", models.Fields{"status": "Needs Triage", "ticketID": "T-1"})
	seed(t, store, "intake", models.Fields{"status": "Complete", "ticketID": "T-2"})

	r := callTool(t, srv, "list_records", map[string]interface{}{"table": "intake", "status": "Needs Triage"})
	if !strings.Contains(resultText(r), `"total": 1`) {
		t.Errorf("list = %s", resultText(r))
	}

	r = callTool(t, srv, "get_record", map[string]interface{}{"table": "intake", "id": rec.ID})
	var got recordservice.RecordDetail
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatal(err)
	}
	if got.TicketID != "T-1" || !got.Pending {
		t.Errorf("record = %+v", got)
	}
}

func TestGetRecordMissing(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "get_record", map[string]interface{}{"table": "intake", "id": "recnope"})
	if !r.IsError {
		t.Error("expected error for missing record")
	}
}

func TestUnknownTable(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "pending_changes", map[string]interface{}{"table": "payroll"})
	if !r.IsError || !strings.Contains(resultText(r), "unknown table") {
		t.Errorf("result = %+v", r)
	}
}

func TestRequiredArguments(t *testing.T) {
	srv, _, _ := testServer(t)
	for _, tool := range []string{"list_records", "get_record", "pending_changes", "run_cycle"} {
		if r := callTool(t, srv, tool, map[string]interface{}{}); !r.IsError {
			t.Errorf("%s without table should fail", tool)
		}
	}
}

func TestPendingChangesThenRunCycle(t *testing.T) {
	srv, store, messenger := testServer(t)
	seed(t, store, "intake", models.Fields{"status": "Seeking Volunteer", "ticketID": "T-9"})

	r := callTool(t, srv, "pending_changes", map[string]interface{}{"table": "intake"})
	if !strings.Contains(resultText(r), "T-9") {
		t.Fatalf("pending = %s", resultText(r))
	}
	if len(messenger.Calls()) != 0 {
		t.Fatal("preview must not send messages")
	}

	r = callTool(t, srv, "run_cycle", map[string]interface{}{"table": "intake"})
	if !strings.Contains(resultText(r), `"advanced": 1`) {
		t.Errorf("cycle = %s", resultText(r))
	}
	if posts := messenger.CallsOf("post"); len(posts) != 1 || posts[0].Target != "C0ALL" {
		t.Errorf("posts = %+v", posts)
	}

	r = callTool(t, srv, "pending_changes", map[string]interface{}{"table": "intake"})
	if resultText(r) != "no pending changes" {
		t.Errorf("pending after cycle = %s", resultText(r))
	}
}

func TestLifecycleResource(t *testing.T) {
	srv, _, _ := testServer(t)

	contents, err := srv.readLifecycleResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	for _, want := range []string{
		"## intake",
		"- **Seeking Volunteer**: PostIntake",
		"- **Needs Triage**: no actions",
		"## reimbursements",
		"- **New**: CompleteLinkedIntake",
		"lastSeenStatus",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("lifecycle missing %q", want)
		}
	}
}
