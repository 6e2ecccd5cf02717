// Package health serves the liveness and readiness probes.
//
//   - GET /healthz always answers 200 while the process serves HTTP.
//   - GET /readyz runs every registered [Checker] concurrently and answers
//     503 when a required one fails. Failing optional checkers only turn the
//     status into "degraded".
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

// Status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker probes one dependency.
type Checker struct {
	// Name is the key of the check in the response, such as "store".
	Name string

	// Check returns nil when the dependency is healthy. It must respect
	// context cancellation.
	Check func(ctx context.Context) error

	// Optional checks never fail readiness.
	Optional bool
}

// Result is the body of both probes.
type Result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New returns a handler evaluating checkers on each readiness probe.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, Result{Status: StatusOK})
}

// Readyz is the readiness probe.
func (h *Handler) Readyz(c echo.Context) error {
	res := h.Evaluate(c.Request().Context())
	status := http.StatusOK
	if res.Status == StatusFail {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, res)
}

// Evaluate runs all checkers, each under its own timeout.
func (h *Handler) Evaluate(ctx context.Context) Result {
	var (
		mu       sync.Mutex
		g        errgroup.Group
		res      = Result{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
		failed   bool
		degraded bool
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			err := c.Check(cctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Checks[c.Name] = StatusOK
			case c.Optional:
				res.Checks[c.Name] = StatusDegraded + ": " + err.Error()
				degraded = true
			default:
				res.Checks[c.Name] = StatusFail + ": " + err.Error()
				failed = true
			}
			return nil
		})
	}
	_ = g.Wait()

	switch {
	case failed:
		res.Status = StatusFail
	case degraded:
		res.Status = StatusDegraded
	}
	return res
}

// Register adds the probe routes to e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
}
