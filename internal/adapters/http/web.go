// Package web exposes the messaging use cases as a JSON API.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"inbox/internal/adapters/http/middleware"
	"inbox/internal/adapters/http/perf"
	"inbox/internal/adapters/push"
	messageStore "inbox/internal/adapters/storage/message"
	userStore "inbox/internal/adapters/storage/user"
	"inbox/internal/application/orchestrators"
	"inbox/internal/contract"
)

// Stores holds all storage dependencies.
type Stores struct {
	MessageStore messageStore.Store
	UserStore    userStore.Store
}

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	Auth          *middleware.Authenticator
	Hub           *push.Hub
	Notifier      orchestrators.MessageNotifier // optional
	Collector     *perf.Collector               // optional
	DB            Pinger                        // optional, used by /healthz
	RateLimit     int                           // requests per second per client; 0 disables
	SlowRequestMs int
	// ExposePerf mounts GET /debug/perf. Off in production.
	ExposePerf bool
	Now        func() time.Time
}

// Server carries the dependencies every handler needs.
type Server struct {
	stores  Stores
	opts    Options
	now     func() time.Time
	limiter *middleware.RateLimiter
}

// NewServer builds a server over the given stores.
// PRE: opts.Auth and opts.Hub are non-nil
// POST: Returns a server ready to be mounted with Handler
func NewServer(s Stores, opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		stores:  s,
		opts:    opts,
		now:     now,
		limiter: middleware.NewRateLimiter(opts.RateLimit, time.Second),
	}
}

// SweepIdleClients drops rate limiter state for clients idle longer than idle.
func (s *Server) SweepIdleClients(idle time.Duration) int {
	return s.limiter.Sweep(idle)
}

// Handler wires routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	// Apply middleware: Timing -> RateLimit -> SecurityHeaders -> Mux
	return middleware.Chain(mux,
		middleware.SecurityHeaders,
		middleware.RateLimit(s.limiter),
		middleware.Timing(s.opts.Collector, s.opts.SlowRequestMs),
	)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	authed := middleware.RequireUser(s.opts.Auth, func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Debug("message_event", "event", "auth_rejected", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusUnauthorized, contract.ErrorResponse{Error: "authentication required", Code: contract.CodeUnauthorized})
	})
	route := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, authed(h))
	}

	route("POST /messages", s.handleSendMessage)
	route("GET /messages/conversations", s.handleListConversations)
	route("GET /messages/conversation/{otherUserId}", s.handleGetThread)
	route("PUT /messages/read", s.handleMarkRead)
	route("DELETE /messages/{id}", s.handleDeleteMessage)
	route("GET /messages/unread-count", s.handleUnreadCount)
	mux.Handle("GET /messages/events", authed(&push.Handler{Hub: s.opts.Hub, UserID: middleware.UserIDFromRequest}))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.opts.ExposePerf {
		mux.HandleFunc("GET /debug/perf", s.handlePerf)
	}
}
