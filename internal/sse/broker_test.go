package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/dispatchd/internal/engine"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "ticket.processed", Data: map[string]string{"record_id": "rec1"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: ticket.processed") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"record_id":"rec1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishReport_CycleThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	report := engine.Report{Table: "intake", Detected: 2, Outcomes: []engine.Outcome{
		{Table: "intake", RecordID: "rec1", TicketID: "T-1", Status: "Complete", Advanced: true, Written: true},
		{Table: "intake", RecordID: "rec2", Status: "Assigned / In Progress", Errors: []error{errors.New("boom")}},
	}}
	// First report per table triggers cycle.completed; the second is throttled.
	b.PublishReport(report)
	b.PublishReport(engine.Report{Table: "intake"})
	b.PublishReport(engine.Report{Table: "volunteers"})

	var processed, failed, cycles int
	for _, s := range drain(ch) {
		switch {
		case strings.HasPrefix(s, "event: ticket.processed"):
			processed++
			if !strings.Contains(s, `"ticket_id":"T-1"`) {
				t.Errorf("missing ticket id in %q", s)
			}
		case strings.HasPrefix(s, "event: ticket.failed"):
			failed++
			if !strings.Contains(s, `"errors":["boom"]`) {
				t.Errorf("missing errors in %q", s)
			}
		case strings.HasPrefix(s, "event: cycle.completed"):
			cycles++
		}
	}

	if processed != 1 || failed != 1 {
		t.Errorf("ticket events = %d processed, %d failed; want 1, 1", processed, failed)
	}
	if cycles != 2 {
		t.Errorf("cycle events = %d, want 2 (one per table, throttled)", cycles)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "cycle.completed", Data: map[string]string{"table": "intake"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: cycle.completed") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "cycle.completed", Data: map[string]string{"table": "intake"}})
	b.PublishReport(engine.Report{Table: "intake"})
}
