// Package health reports server liveness and readiness to the
// orchestrator. Readiness combines the server lifecycle state with a
// dependency check, so a lost metadata database takes the server out of
// rotation without killing it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// CheckFunc verifies a dependency the server cannot serve without. In
// production this is the metadata database ping. A nil CheckFunc is treated
// as passing.
type CheckFunc func(ctx context.Context) error

// Lifecycle states. Transitions are one-way in normal operation:
// starting -> ready -> draining.
const (
	stateStarting int32 = iota
	stateReady
	stateDraining
)

// checkTimeout bounds the dependency check inside one readiness request.
const checkTimeout = 2 * time.Second

// Checker tracks server readiness. Safe for concurrent use; the zero value
// starts in the starting state with no dependency check.
type Checker struct {
	state atomic.Int32
	check CheckFunc
}

// NewChecker creates a Checker in the starting state. check, when non-nil,
// is consulted on every readiness request in addition to the lifecycle
// state.
func NewChecker(check CheckFunc) *Checker {
	return &Checker{check: check}
}

// SetReady marks the server ready to serve.
func (c *Checker) SetReady() {
	c.state.Store(stateReady)
}

// SetDraining marks the server as shutting down. Readiness fails from here
// on so the orchestrator stops routing new requests during drain.
func (c *Checker) SetDraining() {
	c.state.Store(stateDraining)
}

// IsReady reports whether the lifecycle state is ready. It does not run the
// dependency check; only readiness requests do.
func (c *Checker) IsReady() bool {
	return c.state.Load() == stateReady
}

// State returns the lifecycle state as a word for endpoint responses.
func (c *Checker) State() string {
	switch c.state.Load() {
	case stateReady:
		return "ready"
	case stateDraining:
		return "draining"
	default:
		return "starting"
	}
}

// LivenessHandler answers 200 unconditionally; the process being able to
// respond is the signal. Serves /healthz.
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, "ok")
	}
}

// ReadinessHandler answers 200 only when the server is ready and the
// dependency check passes; otherwise 503 with the reason. Serves /readyz.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			respond(w, http.StatusServiceUnavailable, c.State())
			return
		}
		if c.check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := c.check(ctx); err != nil {
				respond(w, http.StatusServiceUnavailable, "degraded")
				return
			}
		}
		respond(w, http.StatusOK, "ready")
	}
}

func respond(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
	}{Status: status})
}
