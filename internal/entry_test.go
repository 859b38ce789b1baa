package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/dispatchd/internal/api"
	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/storage"
	"github.com/starford/dispatchd/internal/testutil"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "dispatchd.db")
	cfg.Messaging.Token = "xoxb-test"
	cfg.Messaging.Neighborhoods = map[string]string{"Bushwick": "C0BUSH"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

// seedIntake writes a record the way an external editor would, using store column names.
func seedIntake(t *testing.T, cfg *Config, f models.Fields) string {
	t.Helper()
	db, err := storage.Open(cfg.SQLite.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	r, err := db.Create(context.Background(), cfg.Tables.Intake.Name, f)
	if err != nil {
		t.Fatal(err)
	}
	return r.ID
}

func pollOnce(t *testing.T, cfg *Config, m *testutil.Messenger, dryRun bool) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := PollOnce(context.Background(), "intake", dryRun,
		WithConfig(cfg),
		WithMessenger(m),
		WithOutput(&out),
		WithLogOutput(io.Discard))
	return out.String(), err
}

func TestNewApplication_RequiresConfig(t *testing.T) {
	if _, err := newApplication(nil); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestPollOnce_PostsAndAdvances(t *testing.T) {
	cfg := testConfig(t)
	seedIntake(t, cfg, models.Fields{
		"Status":       "Seeking Volunteer",
		"Ticket ID":    "T-100",
		"Neighborhood": "Bushwick",
		"Request":      "Groceries for two",
	})
	m := testutil.NewMessenger()

	out, err := pollOnce(t, cfg, m, false)
	if err != nil {
		t.Fatalf("PollOnce: %v", err)
	}

	var report api.CycleResponse
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report.Detected != 1 || len(report.Outcomes) != 1 || !report.Outcomes[0].Advanced {
		t.Fatalf("unexpected report: %+v", report)
	}

	posts := m.CallsOf("post")
	if len(posts) != 1 || posts[0].Target != "C0BUSH" {
		t.Fatalf("posts = %+v", posts)
	}
	if !strings.Contains(posts[0].Text, "T-100") {
		t.Errorf("post text missing ticket id: %q", posts[0].Text)
	}

	// The second cycle sees nothing new.
	out, err = pollOnce(t, cfg, m, false)
	if err != nil {
		t.Fatalf("second PollOnce: %v", err)
	}
	report = api.CycleResponse{}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatal(err)
	}
	if report.Detected != 0 {
		t.Errorf("second cycle detected %d records", report.Detected)
	}
	if len(m.CallsOf("post")) != 1 {
		t.Errorf("second cycle posted again")
	}
}

func TestPollOnce_DryRunHasNoSideEffects(t *testing.T) {
	cfg := testConfig(t)
	id := seedIntake(t, cfg, models.Fields{"Status": "Seeking Volunteer", "Ticket ID": "T-1", "Neighborhood": "Bushwick"})
	m := testutil.NewMessenger()

	for i := 0; i < 2; i++ {
		out, err := pollOnce(t, cfg, m, true)
		if err != nil {
			t.Fatalf("dry run: %v", err)
		}
		var pending []map[string]any
		if err := json.Unmarshal([]byte(out), &pending); err != nil {
			t.Fatalf("decode pending: %v\n%s", err, out)
		}
		if len(pending) != 1 || pending[0]["id"] != id {
			t.Fatalf("pending = %v", pending)
		}
	}
	if len(m.Calls()) != 0 {
		t.Errorf("dry run sent messages: %+v", m.Calls())
	}
}

func TestPollOnce_FailedRecordsReturnError(t *testing.T) {
	cfg := testConfig(t)
	seedIntake(t, cfg, models.Fields{"Status": "Seeking Volunteer", "Ticket ID": "T-2", "Neighborhood": "Bushwick"})
	m := testutil.NewMessenger()
	m.Fail["post"] = errors.New("channel_not_found")

	out, err := pollOnce(t, cfg, m, false)
	if err == nil || !strings.Contains(err.Error(), "1 of 1 records failed") {
		t.Fatalf("expected failure summary, got %v", err)
	}
	var report api.CycleResponse
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("report should still be printed: %v\n%s", err, out)
	}
	if report.Failed != 1 || len(report.Outcomes) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	o := report.Outcomes[0]
	if len(o.Errors) != 1 || !strings.Contains(o.Errors[0], "channel_not_found") {
		t.Errorf("failed outcome should carry its error text: %+v", o)
	}
	if len(o.Codes) != 1 || o.Codes[0] != "EXTERNAL_FAILURE" {
		t.Errorf("codes = %v, want EXTERNAL_FAILURE", o.Codes)
	}
	if strings.Contains(out, `"duration"`) || !strings.Contains(out, `"duration_ms"`) {
		t.Errorf("duration should print in milliseconds: %s", out)
	}
}

func TestPollOnce_UnknownTable(t *testing.T) {
	cfg := testConfig(t)
	err := PollOnce(context.Background(), "payroll", false,
		WithConfig(cfg),
		WithMessenger(testutil.NewMessenger()),
		WithOutput(io.Discard),
		WithLogOutput(io.Discard))
	if !errors.Is(err, apperr.ErrUnknownTable) {
		t.Fatalf("err = %v, want ErrUnknownTable", err)
	}
}
