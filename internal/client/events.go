package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inbox/internal/contract"
	"inbox/internal/domain/message"
)

// Event is one push notification. It says what changed, never what the new state is.
type Event struct {
	Type          message.EventType
	Scope         message.Scope
	CounterpartID string
}

// Filter selects the stream a subscription listens to.
type Filter struct {
	Scope message.Scope
}

// Unsubscribe stops a subscription and waits for its handler to return.
// Safe to call more than once, but not from inside the handler.
type Unsubscribe func()

// EventSource delivers push events. Each subscription calls its handler from one
// goroutine in delivery order; nothing is promised across subscriptions.
type EventSource interface {
	Subscribe(ctx context.Context, f Filter, handle func(Event)) (Unsubscribe, error)
}

// WebSocketSource subscribes over GET /messages/events.
type WebSocketSource struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
	// Backoff bounds the wait between reconnect attempts.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

var _ EventSource = (*WebSocketSource)(nil)

// NewWebSocketSource creates a source for the server at baseURL (http or https).
func NewWebSocketSource(baseURL, token string) *WebSocketSource {
	return &WebSocketSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		dialer:     websocket.DefaultDialer,
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
	}
}

func (s *WebSocketSource) streamURL(f Filter) (string, error) {
	u, err := url.Parse(s.baseURL + "/messages/events")
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.RawQuery = url.Values{"scope": []string{string(f.Scope)}}.Encode()
	return u.String(), nil
}

func (s *WebSocketSource) dial(ctx context.Context, u string) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := s.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", u, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return conn, nil
}

// Subscribe dials the stream for f and delivers frames to handle until unsubscribed.
// The first dial is synchronous so auth and scope errors surface here. After a dropped
// connection the source reconnects and delivers one event without a counterpart, which
// tells the consumer to refetch everything the stream covers.
func (s *WebSocketSource) Subscribe(ctx context.Context, f Filter, handle func(Event)) (Unsubscribe, error) {
	if !f.Scope.Valid() {
		return nil, fmt.Errorf("unknown scope %q", f.Scope)
	}
	u, err := s.streamURL(f)
	if err != nil {
		return nil, err
	}
	conn, err := s.dial(ctx, u)
	if err != nil {
		return nil, err
	}

	life, cancel := context.WithCancel(context.Background())
	var (
		mu      sync.Mutex
		current = conn
		wg      sync.WaitGroup
	)
	setConn := func(c *websocket.Conn) bool {
		mu.Lock()
		defer mu.Unlock()
		if life.Err() != nil {
			return false
		}
		current = c
		return true
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		backoff := s.MinBackoff
		for {
			mu.Lock()
			active := current
			mu.Unlock()
			readFrames(active, f, handle)
			if life.Err() != nil {
				return
			}
			slog.Warn("push_event", "event", "stream_dropped", "scope", f.Scope)
			for {
				select {
				case <-life.Done():
					return
				case <-time.After(backoff):
				}
				c, err := s.dial(life, u)
				if err == nil {
					if !setConn(c) {
						c.Close()
						return
					}
					backoff = s.MinBackoff
					break
				}
				slog.Warn("push_event", "event", "reconnect_failed", "scope", f.Scope, "error", err)
				backoff = min(backoff*2, s.MaxBackoff)
			}
			handle(Event{Type: message.EventUpdated, Scope: f.Scope})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			cancel()
			current.Close()
			mu.Unlock()
			wg.Wait()
		})
	}, nil
}

// readFrames delivers frames until the connection fails, then closes it.
// Frames that do not decode or validate are logged and skipped.
func readFrames(conn *websocket.Conn, f Filter, handle func(Event)) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame contract.PushEvent
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("push_event", "event", "bad_frame", "scope", f.Scope, "error", err)
			continue
		}
		if err := contract.Validate(frame); err != nil {
			slog.Warn("push_event", "event", "bad_frame", "scope", f.Scope, "error", err)
			continue
		}
		if message.Scope(frame.Scope) != f.Scope {
			continue
		}
		handle(Event{
			Type:          message.EventType(frame.Type),
			Scope:         message.Scope(frame.Scope),
			CounterpartID: frame.CounterpartID,
		})
	}
}
