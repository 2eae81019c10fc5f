// ABOUTME: WebSocket attach endpoint streaming conversation events to UI clients
// ABOUTME: Each connection gets its own broadcaster subscription scoped to one conversation

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The emulator serves local tooling; the browser UI connects from
	// arbitrary dev-server origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleAttach upgrades the connection and streams conversation events until
// the client disconnects or the conversation is deleted.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if s.em.Registry().ConversationByID(conversationID) == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, subID := s.em.Broadcaster().Subscribe(r.Context(), conversationID)
	defer s.em.Broadcaster().Unsubscribe(conversationID, subID)

	s.logger.Debug("client attached",
		"conversation_id", conversationID,
		"subscription_id", subID)

	// Drain the read side so close frames and pongs are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				// Conversation deleted or broadcaster shut down.
				deadline := time.Now().Add(wsWriteTimeout)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "conversation closed"),
					deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				s.logger.Debug("client write failed, detaching",
					"conversation_id", conversationID,
					"error", err)
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
