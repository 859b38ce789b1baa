// Package sse implements a Server-Sent Events broker for real-time updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/dispatchd/internal/engine"
)

// Event types emitted by the broker.
const (
	EventTicketProcessed = "ticket.processed"
	EventTicketFailed    = "ticket.failed"
	EventCycleCompleted  = "cycle.completed"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ticketEvent struct {
	Table    string   `json:"table"`
	RecordID string   `json:"record_id"`
	TicketID string   `json:"ticket_id,omitempty"`
	Status   any      `json:"status"`
	Advanced bool     `json:"advanced"`
	Written  bool     `json:"written"`
	Errors   []string `json:"errors,omitempty"`
}

type cycleEvent struct {
	Table      string `json:"table"`
	Detected   int    `json:"detected"`
	Advanced   int    `json:"advanced"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + per-table cycle throttle timestamps). Public methods communicate with this loop
// through channels, so no mutexes are required.
type Broker struct {
	cycleMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	reportCh      chan engine.Report
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker. cycle.completed is sent at most once per
// cycleThrottle for each table.
func NewBroker(cycleThrottle time.Duration) *Broker {
	if cycleThrottle <= 0 {
		cycleThrottle = 2 * time.Second
	}

	b := &Broker{
		cycleMin:      cycleThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		reportCh:      make(chan engine.Report, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	lastCycle := make(map[string]time.Time)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case report := <-b.reportCh:
			for _, o := range report.Outcomes {
				typ := EventTicketProcessed
				if o.Failed() {
					typ = EventTicketFailed
				}
				broadcast(Event{Type: typ, Data: ticketEvent{
					Table:    o.Table,
					RecordID: o.RecordID,
					TicketID: o.TicketID,
					Status:   o.Status,
					Advanced: o.Advanced,
					Written:  o.Written,
					Errors:   o.ErrorMessages(),
				}})
			}

			now := time.Now()
			if now.Sub(lastCycle[report.Table]) >= b.cycleMin {
				lastCycle[report.Table] = now
				broadcast(Event{Type: EventCycleCompleted, Data: cycleEvent{
					Table:      report.Table,
					Detected:   report.Detected,
					Advanced:   report.Advanced(),
					Failed:     report.Failed(),
					DurationMS: report.Duration.Milliseconds(),
				}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishReport publishes one event per processed ticket and a throttled
// cycle.completed event. It has the engine.Observer signature.
func (b *Broker) PublishReport(report engine.Report) {
	if b.closed.Load() {
		return
	}
	select {
	case b.reportCh <- report:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
