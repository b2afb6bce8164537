package middleware

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"inbox/internal/adapters/http/perf"
)

// DefaultSlowRequestMs applies when Timing is given no threshold.
const DefaultSlowRequestMs = 200

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFrom returns the id Timing assigned to the request, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusWriter remembers the status code written through it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade take over the connection.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sw.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Timing assigns each request an id, logs its duration and records it in
// collector when one is given. Requests at or above slowMs log at WARN,
// except websocket upgrades whose duration is the life of the socket.
// Entries are labelled by route pattern so ids in paths do not fan out.
func Timing(collector *perf.Collector, slowMs int) func(http.Handler) http.Handler {
	if slowMs <= 0 {
		slowMs = DefaultSlowRequestMs
	}
	threshold := float64(slowMs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestID(r)
			w.Header().Set(RequestIDHeader, id)
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
			defer observe(collector, threshold, r, sw, id, start)
			next.ServeHTTP(sw, r)
		})
	}
}

// observe runs deferred so a panicking handler is still accounted for.
func observe(collector *perf.Collector, threshold float64, r *http.Request, sw *statusWriter, id string, start time.Time) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	label := routeLabel(r)
	level := slog.LevelDebug
	if elapsed >= threshold && sw.status != http.StatusSwitchingProtocols {
		level = slog.LevelWarn
	}
	slog.Log(r.Context(), level, "request_event",
		"event", "request",
		"request_id", id,
		"route", label,
		"status", sw.status,
		"duration_ms", elapsed,
	)

	if collector != nil {
		collector.Record(perf.Entry{
			Kind:       perf.KindRequest,
			Path:       label,
			StatusCode: sw.status,
			DurationMs: elapsed,
			Timestamp:  start,
		})
	}
}

// requestID keeps a caller supplied id when it is a UUID and mints one otherwise.
func requestID(r *http.Request) string {
	if v := r.Header.Get(RequestIDHeader); v != "" {
		if _, err := uuid.Parse(v); err == nil {
			return v
		}
	}
	return uuid.NewString()
}

// routeLabel prefers the ServeMux pattern ("GET /messages/{id}") over the raw path.
// The pattern is only known once the mux has routed r, so call it after ServeHTTP.
func routeLabel(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Method + " " + r.URL.Path
}
