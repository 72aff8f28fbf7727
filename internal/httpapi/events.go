package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/chaz8081/sandgarden/internal/core"
	"github.com/chaz8081/sandgarden/internal/syncutil"
)

type sseMessage struct {
	id    uint64
	event string
	data  string
}

// Hub fans core events out to Server-Sent Events clients. Each client has a
// bounded queue; a client that falls behind loses events rather than
// stalling the broadcaster.
type Hub struct {
	core      *core.Core
	buffer    int
	keepAlive time.Duration
	clock     clockwork.Clock

	seq atomic.Uint64

	mu      syncutil.Mutex
	clients map[uuid.UUID]chan sseMessage

	closeOnce sync.Once
	done      chan struct{}
}

// NewHub creates a hub serving snapshots of c.
func NewHub(c *core.Core, buffer int, keepAlive time.Duration, clock clockwork.Clock) *Hub {
	return &Hub{
		core:      c,
		buffer:    buffer,
		keepAlive: keepAlive,
		clock:     clock,
		clients:   make(map[uuid.UUID]chan sseMessage),
		done:      make(chan struct{}),
	}
}

// Clients returns the number of connected SSE clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close ends every stream. Later connections are refused.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Broadcast implements core.Observer.
func (h *Hub) Broadcast(ev core.Event) {
	event, data, ok := renderEvent(ev)
	if !ok {
		return
	}
	msg := sseMessage{id: h.seq.Add(1), event: event, data: data}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			slog.Debug("[HTTP] SSE client backlog full, dropping event", "client", id, "event", event)
		}
	}
}

// ServeHTTP streams events to one client, starting with a "state" event.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	select {
	case <-h.done:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	id, ch := h.register()
	defer h.unregister(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	initial := sseMessage{id: h.seq.Add(1), event: "state", data: stateEvent(h.core.Snapshot())}
	if err := writeMessage(w, initial); err != nil {
		return
	}
	flusher.Flush()

	ticker := h.clock.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case msg := <-ch:
			if err := writeMessage(w, msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.Chan():
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Hub) register() (uuid.UUID, chan sseMessage) {
	id := uuid.New()
	ch := make(chan sseMessage, h.buffer)
	h.mu.Lock()
	h.clients[id] = ch
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("[HTTP] SSE client connected", "client", id, "clients", n)
	return id, ch
}

func (h *Hub) unregister(id uuid.UUID) {
	h.mu.Lock()
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()
	slog.Info("[HTTP] SSE client disconnected", "client", id, "clients", n)
}

func writeMessage(w io.Writer, msg sseMessage) error {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\nevent: %s\n", msg.id, msg.event)
	for _, line := range strings.Split(msg.data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stateEvent(st core.State) string {
	return mustJSON(map[string]any{
		"speed":         st.SpeedMultiplier,
		"pattern":       st.Pattern,
		"mode":          boolInt(st.AutoMode),
		"run":           boolInt(st.Running),
		"ledEffect":     st.LedEffect,
		"ledBrightness": st.LedBrightness,
	})
}

// renderEvent maps a core event to its SSE name and payload. WiFi status
// is BLE only.
func renderEvent(ev core.Event) (string, string, bool) {
	st := ev.State
	var payload any
	switch ev.Kind {
	case core.EventSpeed:
		payload = map[string]any{"speed": st.SpeedMultiplier}
	case core.EventPattern:
		payload = map[string]any{"pattern": st.Pattern}
	case core.EventMode:
		payload = map[string]any{"mode": boolInt(st.AutoMode)}
	case core.EventRun:
		payload = map[string]any{"run": boolInt(st.Running)}
	case core.EventLedEffect:
		payload = map[string]any{"ledEffect": st.LedEffect}
	case core.EventLedColor:
		payload = map[string]any{"r": st.LedColor.R, "g": st.LedColor.G, "b": st.LedColor.B}
	case core.EventLedBrightness:
		payload = map[string]any{"ledBrightness": st.LedBrightness}
	case core.EventStatus, core.EventTelemetry:
		return ev.Kind.String(), ev.Message, true
	default:
		return "", "", false
	}
	return ev.Kind.String(), mustJSON(payload), true
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("httpapi: marshal %T: %v", v, err))
	}
	return string(b)
}
