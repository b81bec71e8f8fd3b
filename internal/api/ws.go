package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aurora-dev/aurora/internal/core"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS is enforced by the middleware stack; the upgrade itself
	// accepts any origin the middleware let through.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWorkflowSocket streams one workflow's events in publish order.
// The subscription starts with a state snapshot so late subscribers see
// the current position rather than a replay.
func (s *Server) handleWorkflowSocket(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "id"))
	wf, err := s.svc.Workflow(r.Context(), id)
	if err != nil {
		writeError(w, s.log, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	sub := s.bus.SubscribeWorkflow(string(id))
	defer s.bus.Unsubscribe(sub)

	log := s.log.WithWorkflow(string(id))
	log.Debug("websocket client connected")

	// Reader goroutine: consume control frames, surface disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(map[string]interface{}{
		"type":        "snapshot",
		"workflow_id": string(id),
		"data":        stateOf(wf),
	}); err != nil {
		_ = conn.Close()
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	defer func() { _ = conn.Close() }()

	for {
		select {
		case <-done:
			log.Debug("websocket client disconnected")
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bus closed"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("websocket write failed", "error", err.Error())
				return
			}
		}
	}
}
