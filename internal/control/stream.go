package control

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API listens on loopback; the extension origin is not known ahead.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hub pushes a status snapshot to each stream client on connect and after
// every change the runtime signals. Closing the hub ends every stream.
type hub struct {
	agent  Agent
	logger hclog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func newHub(agent Agent, logger hclog.Logger) *hub {
	return &hub{agent: agent, logger: logger, done: make(chan struct{})}
}

func (h *hub) close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	changes, cancel := h.agent.Subscribe()
	defer cancel()

	// Client messages are ignored; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.logger.Debug("stream client connected", "remote", r.RemoteAddr)
	ctx := r.Context()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(h.agent.Status(ctx)); err != nil {
			h.logger.Debug("stream write failed", "error", err)
			return
		}
		select {
		case <-changes:
		case <-closed:
			h.logger.Debug("stream client disconnected", "remote", r.RemoteAddr)
			return
		case <-ctx.Done():
			return
		case <-h.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "agent shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}
	}
}
