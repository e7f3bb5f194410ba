package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is what a connected editor sends over the socket.
type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// handlePresenceSocket upgrades the request and bridges the connection into
// the document's presence room. Browsers cannot set an Authorization header
// on a websocket, so the token also comes via the `token` query parameter.
func (s *HTTPServer) handlePresenceSocket(w http.ResponseWriter, r *http.Request, session Session, documentID int64) {
	if s.presence == nil {
		writeError(w, http.StatusServiceUnavailable, "PRESENCE_UNAVAILABLE", "Presence is not configured", nil)
		return
	}
	if _, err := s.service.LoadDocument(r.Context(), session.UserID, documentID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	sub, err := s.presence.Join(ctx, documentID, session.UserID, session.UserName)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "could not join room"})
		return
	}
	defer sub.Leave(ctx)

	roster, err := sub.Roster(ctx)
	if err == nil {
		_ = conn.WriteJSON(map[string]any{"type": "roster", "members": roster, "connId": sub.Member().ConnID})
	}

	// Writer side: room events and periodic membership refresh.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		heartbeat := time.NewTicker(s.presence.HeartbeatInterval())
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if err := sub.Heartbeat(ctx); err != nil {
					s.logger.Warn("presence heartbeat failed", zap.Error(err))
				}
			case event, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := conn.WriteJSON(map[string]any{"type": "event", "event": event}); err != nil {
					return
				}
			}
		}
	}()

	// Reader side: cursor updates and broadcasts from this connection.
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			_ = conn.WriteJSON(map[string]string{"error": "invalid message format"})
			continue
		}
		switch msg.Type {
		case "cursor":
			if err := sub.UpdateCursor(ctx, msg.Payload); err != nil {
				s.logger.Warn("cursor update failed", zap.Error(err))
			}
		case "chat":
			if err := sub.SendChat(ctx, msg.Payload); err != nil {
				s.logger.Warn("chat send failed", zap.Error(err))
			}
		case "broadcast":
			if err := sub.Broadcast(ctx, msg.Payload); err != nil {
				s.logger.Warn("broadcast failed", zap.Error(err))
			}
		case "heartbeat":
			if err := sub.Heartbeat(ctx); err != nil {
				s.logger.Warn("presence heartbeat failed", zap.Error(err))
			}
		default:
			_ = conn.WriteJSON(map[string]string{"error": "unknown message type"})
		}
	}

	_ = sub.Leave(ctx)
	<-writeDone
}
