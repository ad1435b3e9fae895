package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darshan-rambhia/hublens/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 32
)

// statusFrame is the wire format pushed to websocket clients.
type statusFrame struct {
	Type      events.EventType `json:"type"`
	Instance  string           `json:"instance"`
	System    string           `json:"system,omitempty"`
	Message   string           `json:"message,omitempty"`
	Payload   any              `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

func frameOf(e events.Event) statusFrame {
	return statusFrame{
		Type:      e.Type,
		Instance:  e.Instance,
		System:    e.System,
		Message:   e.Message,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
	}
}

// handleStatusSocket streams status, alert and removal events. The current
// status of every instance is sent on connect. Slow clients drop frames
// rather than block publishers.
// @Summary Status stream
// @Description Websocket carrying status, alert and instance-removed frames
// @Success 101
// @Router /ws/status [get]
func (s *Server) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	frames := make(chan statusFrame, wsBuffer)
	unsubscribe := s.bus.Subscribe(func(e events.Event) {
		select {
		case frames <- frameOf(e):
		default:
			slog.Debug("websocket client lagging, dropping frame", "type", e.Type)
		}
	}, events.StatusChanged, events.AlertNew, events.InstanceRemoved)
	defer unsubscribe()

	for _, v := range s.views.List() {
		select {
		case frames <- statusFrame{
			Type:      events.StatusChanged,
			Instance:  v.ID(),
			Payload:   v.Dashboard.Cache().CurrentStatus(),
			Timestamp: s.now(),
		}:
		default:
		}
	}

	done := make(chan struct{})
	go s.readPump(conn, done)

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case f := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(f); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// readPump drains client messages so control frames are processed, and
// closes done when the client goes away.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}
	}
}
