package server

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser origins are already filtered by the CORS layer; the
	// deployment's auth proxy fronts the socket as well.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsQuestion struct {
	Content string `json:"content"`
}

type wsEvent struct {
	Type    string           `json:"type"` // "fragment", "done", "error"
	Content string           `json:"content,omitempty"`
	Message *messageResponse `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// handleChatSocket streams answers for one chat. Each client frame is a
// question; the reply is a sequence of fragment events ending in a done
// event carrying the persisted assistant message.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	uid := r.Header.Get("X-User-ID")
	if uid == "" {
		uid = r.URL.Query().Get("user_id")
	}
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	chatID := chi.URLParam(r, "id")
	if _, err := s.engine.Store().GetChat(r.Context(), uid, chatID); err != nil {
		writeEngineError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		var q wsQuestion
		if err := conn.ReadJSON(&q); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket read in chat %s: %v", chatID, err)
			}
			return
		}
		if q.Content == "" {
			conn.WriteJSON(wsEvent{Type: "error", Error: "content is required"})
			continue
		}

		msg, err := s.engine.AskStream(r.Context(), uid, chatID, q.Content, func(fragment string) error {
			return conn.WriteJSON(wsEvent{Type: "fragment", Content: fragment})
		})
		if err != nil {
			conn.WriteJSON(wsEvent{Type: "error", Error: err.Error()})
			continue
		}
		resp := toMessageResponse(msg)
		conn.WriteJSON(wsEvent{Type: "done", Message: &resp})
	}
}
