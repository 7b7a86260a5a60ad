// Package health provides the bridge's HTTP health and readiness handlers.
//
//   - /healthz — liveness probe; returns 200 with live bridge counters.
//   - /readyz  — readiness probe; returns 200 only when every registered
//     [Checker] passes.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail").
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and must respect context cancellation.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "session-store").
	Name string

	Check func(ctx context.Context) error
}

// Stats is the live-counter snapshot reported by /healthz.
type Stats struct {
	ActiveCalls        int `json:"activeCalls"`
	GatewayConnections int `json:"gatewayConnections"`
	PendingOutbound    int `json:"pendingOutbound"`
}

// StatsFunc supplies the current bridge counters. May be nil.
type StatsFunc func() Stats

type result struct {
	Status string            `json:"status"`
	Stats  *Stats            `json:"stats,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	stats    StatsFunc
	checkers []Checker
}

// New creates a Handler. Checkers are evaluated sequentially per /readyz
// request, in the order given.
func New(stats StatsFunc, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{stats: stats, checkers: c}
}

// Healthz is the liveness probe: a process that can serve HTTP is alive. The
// response carries current call and connection counts when available.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	res := result{Status: "ok"}
	if h.stats != nil {
		s := h.stats()
		res.Stats = &s
	}
	writeJSON(w, http.StatusOK, res)
}

// Readyz returns 200 only when every registered checker passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
