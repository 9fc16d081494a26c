package eventbus

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsFrame is the wire envelope sent to connected UI clients, grounded on
// internal/gateway/ws_control_plane.go's wsFrame shape (event name +
// JSON payload), trimmed to the fields an event-bus subscriber needs.
type wsFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload Event  `json:"payload"`
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 45 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSPublisher upgrades incoming HTTP connections to websockets and fans
// out every Bus event to all connected clients (spec.md §6: "the
// UI/observability publish-subscribe bus"), grounded on
// internal/gateway/ws_control_plane.go's upgrader configuration.
type WSPublisher struct {
	bus      *Bus
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSPublisher builds a WSPublisher fanning out events from bus.
func NewWSPublisher(bus *Bus, logger *slog.Logger) *WSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSPublisher{
		bus:    bus,
		logger: logger.With("component", "eventbus_ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and streams every bus event to it
// until the connection closes.
func (p *WSPublisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := p.bus.Subscribe()
	defer p.bus.Unsubscribe(sub)

	// Drain client-sent frames (pings/close) on a separate goroutine so a
	// half-closed connection is detected without blocking the writer.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			frame := wsFrame{Type: "event", Event: string(evt.Kind), Payload: evt}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(frame); err != nil {
				p.logger.Debug("websocket write failed, closing", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

