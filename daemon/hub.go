package daemon

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	msconsole "github.com/msconsole/msconsole-go"
	"github.com/msconsole/msconsole-go/supervisor"
)

const writeWait = 10 * time.Second

// hub fans control-plane events out to websocket subscribers: every
// forwarded chat stream event and every backend state transition.
type hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// subscriber is one websocket connection. Writes are serialized by a
// per-connection mutex.
type subscriber struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// frame is the envelope every subscriber receives.
type frame struct {
	Kind     string          `json:"kind"`
	Event    json.RawMessage `json:"event,omitempty"`
	State    string          `json:"state,omitempty"`
	ExitCode *int            `json:"exit_code,omitempty"`
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			// The API binds loopback only; any local origin is fine
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[*subscriber]struct{}),
	}
}

// handleSubscribe upgrades the request and keeps the connection registered
// until the peer goes away.
func (h *hub) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("event subscriber connected", "remote", conn.RemoteAddr().String())

	// Drain reads so pings and close frames are processed
	go func() {
		defer h.drop(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *hub) drop(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		_ = sub.conn.Close()
		h.logger.Debug("event subscriber disconnected")
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.conn.Close()
	}
}

// broadcastEvent forwards one chat stream event to all subscribers.
func (h *hub) broadcastEvent(ev msconsole.Event) {
	payload, err := msconsole.MarshalEvent(ev)
	if err != nil {
		h.logger.Error("failed to marshal stream event", "error", err)
		return
	}
	h.broadcast(frame{Kind: "stream_event", Event: payload})
}

// broadcastState forwards a supervisor state transition to all subscribers.
func (h *hub) broadcastState(_, next supervisor.State) {
	h.broadcast(frame{Kind: "backend_state", State: next.String()})
}

func (h *hub) broadcast(f frame) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.writeMu.Lock()
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := sub.conn.WriteJSON(f)
		sub.writeMu.Unlock()

		if err != nil {
			// Dead subscribers are dropped, not retried
			h.drop(sub)
		}
	}
}
