// Package health provides the liveness and readiness endpoints.
//
// /healthz reports liveness: a process that can still serve HTTP answers
// 200. /readyz reports readiness: 200 only when every registered [Checker]
// passes. Checks run concurrently, each under its own timeout, so a stack
// of slow speech backends cannot pile their latencies onto the probe.
//
// Responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map with one verdict per named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 5 * time.Second

// Checker is a named readiness probe. Check returns nil when the
// dependency can serve traffic and must respect context cancellation.
type Checker struct {
	// Name labels the check in the JSON response (e.g. "postgres",
	// "transcriber").
	Name string

	Check func(ctx context.Context) error
}

// Pinger is satisfied by connection-holding clients with a Ping method,
// such as a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping adapts p into a named Checker.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// result is the JSON response body for both endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time; safe for concurrent use.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckTimeout bounds each readiness check. Defaults to
// [DefaultCheckTimeout].
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) { h.timeout = d }
}

// New creates a [Handler] that evaluates the given checkers on each
// /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultCheckTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthz is the liveness probe. A running process that can serve HTTP is
// considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz evaluates all checkers concurrently and returns 200 only when
// every one passes. Each check gets its own timeout derived from the
// request context; one failing check never cuts the others short.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	verdicts := make([]string, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()

			if err := c.Check(ctx); err != nil {
				verdicts[i] = "fail: " + err.Error()
				return err
			}
			verdicts[i] = "ok"
			return nil
		})
	}
	failed := g.Wait() != nil

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		res.Checks[c.Name] = verdicts[i]
	}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code. On encoding failure it
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
