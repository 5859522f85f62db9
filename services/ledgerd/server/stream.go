package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"arrayledger/core/events"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// Hub fans committed ledger events out to websocket subscribers. It is an
// events.Emitter so it can be handed to the ledger directly. A subscriber
// that falls subscriberBuffer events behind is disconnected.
type Hub struct {
	mu     sync.Mutex
	next   uint64
	subs   map[uint64]chan eventView
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan eventView)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(ev events.Event) {
	if h == nil || ev == nil {
		return
	}
	rendered := ev.Event()
	if rendered == nil {
		return
	}
	view := viewEvent(rendered)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- view:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function must be
// called once the subscriber is done; the channel is closed when the
// subscriber is dropped or the hub shuts down.
func (h *Hub) Subscribe() (<-chan eventView, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan eventView, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			close(existing)
			delete(h.subs, id)
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// StreamEvents upgrades to a websocket and writes every committed event as a
// JSON text message. The optional "type" query parameter keeps only events
// whose type starts with the given prefix.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	filter := strings.TrimSpace(r.URL.Query().Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Inbound messages are not expected; CloseRead handles control frames
	// and cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, filter string) error {
	updates, cancel := s.hub.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber dropped")
			}
			if filter != "" && !strings.HasPrefix(update.Type, filter) {
				continue
			}
			if err := writeEvent(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, update eventView) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
