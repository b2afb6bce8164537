package push

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"inbox/internal/domain/message"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// Clients never send payloads; anything larger than a control frame is a protocol error.
	maxReadSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The stream is authenticated by bearer token, not cookies.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades GET /messages/events to a WebSocket carrying PushEvent frames.
type Handler struct {
	Hub *Hub
	// UserID resolves the authenticated caller. The route is expected to sit behind auth middleware.
	UserID func(*http.Request) (string, bool)
}

// ParseScopes reads the repeated scope query parameter. No value means every scope.
// PRE: none
// POST: Returns a non-empty, de-duplicated scope list or an error naming the bad value
func ParseScopes(values []string) ([]message.Scope, error) {
	if len(values) == 0 {
		return message.Scopes, nil
	}
	out := make([]message.Scope, 0, len(values))
	for _, v := range lo.Uniq(values) {
		sc := message.Scope(v)
		if !sc.Valid() {
			return nil, fmt.Errorf("unknown scope %q", v)
		}
		out = append(out, sc)
	}
	return out, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.UserID(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	scopes, err := ParseScopes(r.URL.Query()["scope"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Registered before the handshake completes, so a client whose dial has
	// returned never misses an event published afterwards.
	sub := h.Hub.Subscribe(userID, scopes...)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		sub.Close()
		slog.Warn("push_event", "event", "upgrade_failed", "user_id", userID, "error", err)
		return
	}
	slog.Info("push_event", "event", "subscribed", "user_id", userID, "scopes", scopes)

	done := make(chan struct{})
	go readPump(conn, done)
	writePump(conn, sub, done)

	sub.Close()
	conn.Close()
	slog.Info("push_event", "event", "unsubscribed", "user_id", userID)
}

// readPump drains the connection so control frames are processed; it closes done on any read error.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the hub for falling behind.
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
