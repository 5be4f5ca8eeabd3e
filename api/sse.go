package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clxtag/logging"
	"clxtag/mirror"
)

// SSE event names.
const (
	eventConnected   = "connected"
	eventValueChange = "value-change"
)

const keepaliveInterval = 30 * time.Second

// sseEvent is an internal event for the hub.
type sseEvent struct {
	Type string
	PLC  string
	Tag  string
	Data any
}

type sseClient struct {
	id     string
	events chan sseEvent
}

// EventHub fans mirrored tag activity out to Server-Sent Events clients.
// It is a mirror.Sink: register it with the Fanout and serve it through
// the router's /events endpoint.
type EventHub struct {
	clients    map[string]*sseClient
	register   chan *sseClient
	unregister chan *sseClient
	broadcast  chan sseEvent
	mu         sync.RWMutex
	done       chan struct{}
	stopOnce   sync.Once
	nextID     atomic.Uint64
}

// NewEventHub starts a hub.
func NewEventHub() *EventHub {
	hub := &EventHub{
		clients:    make(map[string]*sseClient),
		register:   make(chan *sseClient),
		unregister: make(chan *sseClient),
		broadcast:  make(chan sseEvent, 256),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

func (h *EventHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.events)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.events <- event:
				default:
					logging.DebugLog("api-sse", "client %s buffer full, dropping %s event", client.id, event.Type)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.events)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Name identifies the hub among the mirror sinks.
func (h *EventHub) Name() string { return "sse" }

// Publish broadcasts msg as a value-change event. It never blocks.
func (h *EventHub) Publish(_ context.Context, msg mirror.Message) error {
	h.Broadcast(sseEvent{Type: eventValueChange, PLC: msg.PLC, Tag: msg.Tag, Data: msg})
	return nil
}

// Broadcast queues an event for every client, dropping it when the hub is
// saturated.
func (h *EventHub) Broadcast(event sseEvent) {
	select {
	case h.broadcast <- event:
	default:
		logging.DebugLog("api-sse", "broadcast channel full, dropping %s event", event.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop disconnects every client. It is safe to call more than once.
func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// join registers a client, failing once the hub has stopped.
func (h *EventHub) join(c *sseClient) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *EventHub) leave(c *sseClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func splitFilter(s string) map[string]bool {
	if s == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out[part] = true
		}
	}
	return out
}

// handleSSE serves GET /events. Optional filters: plc, plcs (comma list),
// tags (comma list).
func (h *handlers) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	plcsFilter := splitFilter(q.Get("plcs"))
	if p := q.Get("plc"); p != "" {
		if plcsFilter == nil {
			plcsFilter = make(map[string]bool)
		}
		plcsFilter[p] = true
	}
	tagFilter := splitFilter(q.Get("tags"))

	client := &sseClient{
		id:     fmt.Sprintf("api-%d", h.events.nextID.Add(1)),
		events: make(chan sseEvent, 64),
	}
	if !h.events.join(client) {
		http.Error(w, "event stream closed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	fmt.Fprintf(w, "event: %s\ndata: {\"id\":%q}\n\n", eventConnected, client.id)
	flusher.Flush()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.events.leave(client)
			return

		case event, ok := <-client.events:
			if !ok {
				return
			}
			if plcsFilter != nil && !plcsFilter[event.PLC] {
				continue
			}
			if tagFilter != nil && !tagFilter[event.Tag] {
				continue
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}
