// Package health provides HTTP liveness and readiness handlers.
//
// The package exposes two endpoints:
//
//   - /healthz: liveness probe; always returns 200 OK.
//   - /readyz: readiness probe; reports every TTS adapter and every
//     registered [Checker].
//
// Readiness has three outcomes. "ok" means everything passed. "degraded"
// means at least one adapter or optional checker failed but synthesis can
// still be served by another adapter; it answers 200 because the orchestrator
// fails over on its own. "fail" answers 503 and means a required checker
// failed or no adapter is usable at all.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Readiness states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// errNoProvider is reported under the "providers" check when no adapter is
// usable.
var errNoProvider = errors.New("no healthy provider")

// Checker is a named readiness check.
type Checker struct {
	// Name is a short label for this check (e.g. "database"). It appears as
	// a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error

	// Optional failures degrade readiness instead of failing it.
	Optional bool
}

// Prober reports per-adapter health. The synthesis orchestrator implements it.
type Prober interface {
	Probe(ctx context.Context) map[string]error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Providers map[string]string `json:"providers,omitempty"`
}

// Handler serves /healthz and /readyz. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	prober   Prober
	checkers []Checker
}

// New creates a [Handler]. prober may be nil when no adapters are involved.
// Checkers run concurrently on each /readyz request.
func New(prober Prober, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{prober: prober, checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz evaluates the adapters and checkers, each under a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.evaluate(r.Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

func (h *Handler) evaluate(ctx context.Context) result {
	var (
		mu        sync.Mutex
		checks    = make(map[string]string, len(h.checkers)+1)
		providers map[string]string
		failed    bool
		degraded  bool
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			checks[c.Name] = describe(err)
			if err != nil {
				if c.Optional {
					degraded = true
				} else {
					failed = true
				}
			}
			return nil
		})
	}
	if h.prober != nil {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, checkTimeout)
			probed := h.prober.Probe(pctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			providers = make(map[string]string, len(probed))
			healthy := 0
			for name, err := range probed {
				providers[name] = describe(err)
				if err == nil {
					healthy++
				}
			}
			switch {
			case healthy == 0:
				checks["providers"] = describe(errNoProvider)
				failed = true
			case healthy < len(probed):
				checks["providers"] = StatusDegraded
				degraded = true
			default:
				checks["providers"] = StatusOK
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: StatusOK, Checks: checks, Providers: providers}
	switch {
	case failed:
		res.Status = StatusFail
	case degraded:
		res.Status = StatusDegraded
	}
	return res
}

func describe(err error) string {
	if err != nil {
		return "fail: " + err.Error()
	}
	return StatusOK
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
