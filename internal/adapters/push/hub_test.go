package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"inbox/internal/adapters/http/perf"
	"inbox/internal/contract"
	"inbox/internal/domain/message"
)

func inbound(user, counterpart string) message.ChangeEvent {
	return message.ChangeEvent{UserID: user, Type: message.EventInserted, Scope: message.ScopeInbound, CounterpartID: counterpart}
}

func TestHub_PublishRoutesByUserAndScope(t *testing.T) {
	hub := NewHub(4, nil)
	aliceIn := hub.Subscribe("alice", message.ScopeInbound)
	aliceOut := hub.Subscribe("alice", message.ScopeOutbound)
	bobIn := hub.Subscribe("bob", message.ScopeInbound)
	defer aliceIn.Close()
	defer aliceOut.Close()
	defer bobIn.Close()

	hub.Publish(context.Background(), inbound("alice", "bob"))

	select {
	case ev := <-aliceIn.C():
		require.Equal(t, contract.PushEvent{Type: "inserted", Scope: "inbound", CounterpartID: "bob"}, ev)
	default:
		t.Fatal("alice inbound subscriber got nothing")
	}
	require.Len(t, aliceOut.C(), 0)
	require.Len(t, bobIn.C(), 0)
}

func TestHub_MultiScopeSubscription(t *testing.T) {
	hub := NewHub(4, nil)
	sub := hub.Subscribe("alice", message.Scopes...)
	defer sub.Close()

	hub.Publish(context.Background(), inbound("alice", "bob"))
	hub.Publish(context.Background(), message.ChangeEvent{UserID: "alice", Type: message.EventUpdated, Scope: message.ScopeReadState})

	require.Len(t, sub.C(), 2)
	for _, sc := range message.Scopes {
		require.Equal(t, 1, hub.Subscribers("alice", sc))
	}
}

func TestHub_CloseUnregisters(t *testing.T) {
	hub := NewHub(4, nil)
	sub := hub.Subscribe("alice", message.ScopeInbound, message.ScopeOutbound)
	sub.Close()
	sub.Close()

	require.Equal(t, 0, hub.Subscribers("alice", message.ScopeInbound))
	require.Equal(t, 0, hub.Subscribers("alice", message.ScopeOutbound))
	_, ok := <-sub.C()
	require.False(t, ok)

	// Publishing with nobody listening is a no-op.
	hub.Publish(context.Background(), inbound("alice", "bob"))
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub := NewHub(1, nil)
	slow := hub.Subscribe("alice", message.ScopeInbound)
	fast := hub.Subscribe("alice", message.ScopeInbound)

	hub.Publish(context.Background(), inbound("alice", "bob"))
	<-fast.C()
	hub.Publish(context.Background(), inbound("alice", "bob"))

	require.Equal(t, 1, hub.Subscribers("alice", message.ScopeInbound))
	// The queued frame is still delivered before the close.
	_, ok := <-slow.C()
	require.True(t, ok)
	_, ok = <-slow.C()
	require.False(t, ok)

	_, ok = <-fast.C()
	require.True(t, ok)
	fast.Close()
}

func TestHub_RecordsFanout(t *testing.T) {
	c := perf.NewCollector(10)
	hub := NewHub(1, c)
	hub.Publish(context.Background(), inbound("alice", "bob"))

	snap := c.Snapshot(time.Now().Add(-time.Minute), 5)
	require.Len(t, snap.PushFanouts, 1)
	require.Equal(t, "inbound", snap.PushFanouts[0].Path)
}

func TestParseScopes(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    []message.Scope
		wantErr bool
	}{
		{"none means all", nil, message.Scopes, false},
		{"single", []string{"read-state"}, []message.Scope{message.ScopeReadState}, false},
		{"duplicates collapse", []string{"inbound", "inbound"}, []message.Scope{message.ScopeInbound}, false},
		{"unknown", []string{"inbound", "everything"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScopes(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	h := &Handler{Hub: hub, UserID: func(r *http.Request) (string, bool) {
		id := r.Header.Get("X-User")
		return id, id != ""
	}}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/messages/events" + query
}

func TestHandler_StreamsEvents(t *testing.T) {
	hub := NewHub(8, nil)
	srv := newTestServer(t, hub)

	header := http.Header{"X-User": []string{"alice"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?scope=inbound"), header)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return hub.Subscribers("alice", message.ScopeInbound) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 0, hub.Subscribers("alice", message.ScopeOutbound))

	hub.Publish(context.Background(), inbound("alice", "bob"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev contract.PushEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, contract.PushEvent{Type: "inserted", Scope: "inbound", CounterpartID: "bob"}, ev)
}

func TestHandler_UnsubscribesOnDisconnect(t *testing.T) {
	hub := NewHub(8, nil)
	srv := newTestServer(t, hub)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), http.Header{"X-User": []string{"alice"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return hub.Subscribers("alice", message.ScopeReadState) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return hub.Subscribers("alice", message.ScopeReadState) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_Rejections(t *testing.T) {
	hub := NewHub(8, nil)
	srv := newTestServer(t, hub)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "?scope=bogus"), http.Header{"X-User": []string{"alice"}})
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
