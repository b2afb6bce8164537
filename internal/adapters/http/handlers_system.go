package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"inbox/internal/adapters/http/perf"
	"inbox/internal/contract"
)

type healthResponse struct {
	Status string `json:"status"`
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.DB.PingContext(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, contract.ErrorResponse{Error: "database unreachable", Code: contract.CodeUnavailable})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

type perfResponse struct {
	WindowMinutes  int             `json:"windowMinutes"`
	TotalRecorded  int64           `json:"totalRecorded"`
	RequestP50Ms   float64         `json:"requestP50Ms"`
	RequestP95Ms   float64         `json:"requestP95Ms"`
	RequestP99Ms   float64         `json:"requestP99Ms"`
	SlowestRoutes  []perf.PathStat `json:"slowestRoutes"`
	SlowestQueries []perf.PathStat `json:"slowestQueries"`
	PushFanouts    []perf.PathStat `json:"pushFanouts"`
}

// handlePerf handles GET /debug/perf?minutes=N&top=N.
func (s *Server) handlePerf(w http.ResponseWriter, r *http.Request) {
	if s.opts.Collector == nil {
		writeError(w, http.StatusNotFound, contract.ErrorResponse{Error: "perf collection disabled", Code: contract.CodeNotFound})
		return
	}
	minutes := queryInt(r, "minutes", 15)
	top := queryInt(r, "top", 10)
	snap := s.opts.Collector.Snapshot(s.now().Add(-time.Duration(minutes)*time.Minute), top)
	writeJSON(w, http.StatusOK, perfResponse{
		WindowMinutes:  minutes,
		TotalRecorded:  snap.TotalRequests,
		RequestP50Ms:   snap.RequestP50Ms,
		RequestP95Ms:   snap.RequestP95Ms,
		RequestP99Ms:   snap.RequestP99Ms,
		SlowestRoutes:  snap.SlowestPaths,
		SlowestQueries: snap.SlowestQueries,
		PushFanouts:    snap.PushFanouts,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
