package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"inbox/internal/adapters/http/middleware"
	"inbox/internal/adapters/http/perf"
	"inbox/internal/adapters/push"
	"inbox/internal/adapters/storage"
	messageStore "inbox/internal/adapters/storage/message"
	userStore "inbox/internal/adapters/storage/user"
	"inbox/internal/contract"
	"inbox/internal/domain/message"
	"inbox/internal/domain/user"
)

var fixedClock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type apiHarness struct {
	t       *testing.T
	db      *sql.DB
	auth    *middleware.Authenticator
	hub     *push.Hub
	handler http.Handler
	tick    time.Duration
}

func newAPIHarness(t *testing.T, exposePerf bool) *apiHarness {
	t.Helper()
	db, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db, storage.MemoryPath); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := userStore.NewSQLiteStore(db)
	for _, p := range []user.Profile{
		{Summary: user.Summary{ID: "alice", Name: "Alice", AvatarURL: "https://img/alice.png"}},
		{Summary: user.Summary{ID: "bob", Name: "Bob"}},
		{Summary: user.Summary{ID: "carol", Name: "Carol"}},
	} {
		if err := users.Upsert(context.Background(), p); err != nil {
			t.Fatalf("seed profile: %v", err)
		}
	}

	h := &apiHarness{
		t:    t,
		db:   db,
		auth: middleware.NewAuthenticator([]byte("test-secret-test-secret-test-sec"), "inbox"),
		hub:  push.NewHub(16, nil),
	}
	srv := NewServer(Stores{
		MessageStore: messageStore.NewSQLiteStore(db),
		UserStore:    users,
	}, Options{
		Auth:       h.auth,
		Hub:        h.hub,
		Collector:  perf.NewCollector(100),
		DB:         db,
		ExposePerf: exposePerf,
		// Each call advances one second so ordering by created_at is deterministic.
		Now: func() time.Time {
			h.tick += time.Second
			return fixedClock.Add(h.tick)
		},
	})
	h.handler = srv.Handler()
	return h
}

func (h *apiHarness) do(method, path, userID, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		token, err := h.auth.IssueToken(userID, time.Hour)
		if err != nil {
			h.t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) send(from, to, content string) contract.MessageWithUsers {
	h.t.Helper()
	body, _ := json.Marshal(contract.SendMessageRequest{RecipientID: to, Content: content})
	rec := h.do("POST", "/messages", from, string(body))
	if rec.Code != http.StatusCreated {
		h.t.Fatalf("send: got %d: %s", rec.Code, rec.Body.String())
	}
	var resp contract.SendMessageResponse
	decode(h.t, rec, &resp)
	return resp.Message
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	h := newAPIHarness(t, false)
	for _, r := range []struct{ method, path string }{
		{"POST", "/messages"},
		{"GET", "/messages/conversations"},
		{"GET", "/messages/conversation/bob"},
		{"PUT", "/messages/read"},
		{"DELETE", "/messages/x"},
		{"GET", "/messages/unread-count"},
		{"GET", "/messages/events"},
	} {
		rec := h.do(r.method, r.path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: got %d, want 401", r.method, r.path, rec.Code)
		}
	}

	req := httptest.NewRequest("GET", "/messages/unread-count", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("forged token: got %d", rec.Code)
	}
	var body contract.ErrorResponse
	decode(t, rec, &body)
	if body.Code != contract.CodeUnauthorized {
		t.Errorf("code = %q", body.Code)
	}
}

func TestAPI_SendMessage(t *testing.T) {
	h := newAPIHarness(t, false)
	sub := h.hub.Subscribe("bob", message.ScopeInbound)
	defer sub.Close()

	content := "  <b>hi</b> & welcome  "
	rec := h.do("POST", "/messages", "alice", `{"recipientId":"bob","content":"  <b>hi</b> & welcome  "}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `\u003c`) || strings.Contains(rec.Body.String(), `\u0026`) {
		t.Errorf("content was HTML-escaped: %s", rec.Body.String())
	}
	var resp contract.SendMessageResponse
	decode(t, rec, &resp)
	m := resp.Message
	if m.ID == "" || m.SenderID != "alice" || m.RecipientID != "bob" || m.Content != content {
		t.Errorf("unexpected message %+v", m.Message)
	}
	if m.ReadAt != nil {
		t.Error("new message must be unread")
	}
	if m.Sender.Name != "Alice" || m.Sender.AvatarURL != "https://img/alice.png" || m.Recipient.Name != "Bob" {
		t.Errorf("participants = %+v / %+v", m.Sender, m.Recipient)
	}

	select {
	case ev := <-sub.C():
		if ev.Scope != "inbound" || ev.Type != "inserted" || ev.CounterpartID != "alice" {
			t.Errorf("event = %+v", ev)
		}
	default:
		t.Error("recipient was not notified")
	}
}

func TestAPI_SendMessage_Rejections(t *testing.T) {
	h := newAPIHarness(t, false)
	long, _ := json.Marshal(strings.Repeat("x", message.MaxContentLength+1))
	exact, _ := json.Marshal(strings.Repeat("x", message.MaxContentLength))

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
		wantRule string
	}{
		{"malformed json", `{"recipientId":`, 400, contract.CodeBadRequest, ""},
		{"unknown field", `{"recipientId":"bob","content":"x","subject":"y"}`, 400, contract.CodeBadRequest, ""},
		{"missing recipient", `{"content":"hello"}`, 400, contract.CodeValidation, ""},
		{"missing content", `{"recipientId":"bob"}`, 400, contract.CodeValidation, ""},
		{"whitespace content", `{"recipientId":"bob","content":"   "}`, 400, contract.CodeValidation, string(message.RuleContentEmpty)},
		{"self message", `{"recipientId":"alice","content":"hi"}`, 400, contract.CodeValidation, string(message.RuleDistinctParticipant)},
		{"too long", `{"recipientId":"bob","content":` + string(long) + `}`, 400, contract.CodeValidation, string(message.RuleContentTooLong)},
		{"exact limit", `{"recipientId":"bob","content":` + string(exact) + `}`, 201, "", ""},
		{"unknown recipient", `{"recipientId":"ghost","content":"hi"}`, 400, contract.CodeValidation, string(message.RuleRecipientExists)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do("POST", "/messages", "alice", tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("got %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantErr == "" {
				return
			}
			var body contract.ErrorResponse
			decode(t, rec, &body)
			if body.Code != tt.wantErr || body.Rule != tt.wantRule {
				t.Errorf("body = %+v", body)
			}
		})
	}
}

func TestAPI_ConversationsAndUnread(t *testing.T) {
	h := newAPIHarness(t, false)
	h.send("alice", "bob", "first")
	h.send("bob", "alice", "second")
	last := h.send("alice", "bob", "third")

	rec := h.do("GET", "/messages/conversations", "bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
	var convs contract.ConversationsResponse
	decode(t, rec, &convs)
	if convs.Total != 1 || len(convs.Conversations) != 1 {
		t.Fatalf("conversations = %+v", convs)
	}
	c := convs.Conversations[0]
	if c.Counterpart.ID != "alice" || c.Counterpart.Name != "Alice" || c.LastMessage.ID != last.ID || c.UnreadCount != 2 {
		t.Errorf("conversation = %+v", c)
	}

	rec = h.do("GET", "/messages/unread-count", "alice", "")
	var unread contract.UnreadCountResponse
	decode(t, rec, &unread)
	if unread.UnreadCount != 1 {
		t.Errorf("alice unread = %d, want 1", unread.UnreadCount)
	}

	rec = h.do("GET", "/messages/conversations", "carol", "")
	decode(t, rec, &convs)
	if convs.Total != 0 || convs.Conversations == nil {
		t.Errorf("empty user should get an empty list, got %+v", convs)
	}
	if !strings.Contains(h.do("GET", "/messages/conversations", "carol", "").Body.String(), `"conversations":[]`) {
		t.Error("empty list must encode as []")
	}
}

func TestAPI_Thread(t *testing.T) {
	h := newAPIHarness(t, false)
	for i := 0; i < 5; i++ {
		h.send("alice", "bob", "msg")
	}
	h.send("alice", "carol", "elsewhere")

	rec := h.do("GET", "/messages/conversation/alice?limit=2&offset=1", "bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	var page contract.ThreadResponse
	decode(t, rec, &page)
	if page.Total != 5 || len(page.Messages) != 2 {
		t.Fatalf("page: total=%d len=%d", page.Total, len(page.Messages))
	}
	if !page.Messages[0].CreatedAt.Before(page.Messages[1].CreatedAt) {
		t.Error("thread must be oldest first")
	}
	if page.Messages[0].Sender.Name != "Alice" {
		t.Errorf("sender = %+v", page.Messages[0].Sender)
	}

	for _, q := range []string{"?limit=abc", "?offset=-1"} {
		if rec := h.do("GET", "/messages/conversation/alice"+q, "bob", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", q, rec.Code)
		}
	}
	rec = h.do("GET", "/messages/conversation/alice?limit=1000", "bob", "")
	decode(t, rec, &page)
	if len(page.Messages) != 5 {
		t.Errorf("clamped limit returned %d", len(page.Messages))
	}
}

func TestAPI_MarkRead(t *testing.T) {
	h := newAPIHarness(t, false)
	m1 := h.send("alice", "bob", "one")
	m2 := h.send("alice", "bob", "two")
	sub := h.hub.Subscribe("bob", message.ScopeReadState)
	defer sub.Close()

	body := `{"messageIds":["` + m1.ID + `","` + m2.ID + `"]}`

	// The sender may not mark; nothing changes.
	rec := h.do("PUT", "/messages/read", "alice", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("sender mark: got %d", rec.Code)
	}
	var errBody contract.ErrorResponse
	decode(t, rec, &errBody)
	if errBody.MessageID != m1.ID || errBody.Action != string(message.ActionMarkRead) {
		t.Errorf("error body = %+v", errBody)
	}
	var unread contract.UnreadCountResponse
	decode(t, h.do("GET", "/messages/unread-count", "bob", ""), &unread)
	if unread.UnreadCount != 2 {
		t.Fatalf("unread after refused mark = %d", unread.UnreadCount)
	}

	rec = h.do("PUT", "/messages/read", "bob", body)
	var resp contract.MarkReadResponse
	decode(t, rec, &resp)
	if rec.Code != http.StatusOK || resp.UpdatedCount != 2 {
		t.Fatalf("mark: %d %+v", rec.Code, resp)
	}
	if len(sub.C()) != 1 {
		t.Errorf("read-state events = %d, want 1", len(sub.C()))
	}

	rec = h.do("PUT", "/messages/read", "bob", body)
	decode(t, rec, &resp)
	if resp.UpdatedCount != 0 {
		t.Errorf("second mark updated %d", resp.UpdatedCount)
	}

	for _, bad := range []string{`{"messageIds":[]}`, `{}`, `{"messageIds":[""]}`} {
		if rec := h.do("PUT", "/messages/read", "bob", bad); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", bad, rec.Code)
		}
	}
	if rec := h.do("PUT", "/messages/read", "bob", `{"messageIds":["missing"]}`); rec.Code != http.StatusNotFound {
		t.Errorf("missing id: got %d, want 404", rec.Code)
	}
}

func TestAPI_DeleteMessage(t *testing.T) {
	h := newAPIHarness(t, false)
	m := h.send("alice", "bob", "oops")

	if rec := h.do("DELETE", "/messages/"+m.ID, "bob", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("recipient delete: got %d", rec.Code)
	}
	if rec := h.do("DELETE", "/messages/"+m.ID, "alice", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("sender delete: got %d", rec.Code)
	}
	if rec := h.do("DELETE", "/messages/"+m.ID, "alice", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("repeat delete: got %d", rec.Code)
	}
}

func TestAPI_StorageUnavailable(t *testing.T) {
	h := newAPIHarness(t, false)
	h.db.Close()

	rec := h.do("GET", "/messages/unread-count", "bob", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "closed") {
		t.Errorf("driver detail leaked: %s", rec.Body.String())
	}
	if rec := h.do("GET", "/healthz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz: got %d, want 503", rec.Code)
	}
}

func TestAPI_HealthAndPerf(t *testing.T) {
	h := newAPIHarness(t, true)
	rec := h.do("GET", "/healthz", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}

	h.send("alice", "bob", "hi")
	rec = h.do("GET", "/debug/perf", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("perf: %d", rec.Code)
	}
	var snap perfResponse
	decode(t, rec, &snap)
	if snap.TotalRecorded == 0 || len(snap.SlowestRoutes) == 0 {
		t.Errorf("perf snapshot empty: %+v", snap)
	}

	if rec := newAPIHarness(t, false).do("GET", "/debug/perf", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("perf must be hidden when disabled, got %d", rec.Code)
	}
}
