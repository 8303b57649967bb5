// Package health provides readiness state tracking and HTTP health check
// handlers for the gateway.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Checker tracks the readiness state of the gateway and the currently
// active backend services. It is safe for concurrent use.
type Checker struct {
	mu       sync.RWMutex
	state    string
	services []string
}

// Readiness states.
const (
	stateStarting = "starting"
	stateReady    = "ready"
	stateDraining = "draining"
)

// NewChecker creates a Checker in the starting state.
func NewChecker() *Checker {
	return &Checker{state: stateStarting}
}

// SetReady transitions to the ready state with the given active services.
func (c *Checker) SetReady(services []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateReady
	c.services = services
}

// SetServices updates the active service list without changing state.
func (c *Checker) SetServices(services []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = services
}

// SetDraining transitions to the draining state.
func (c *Checker) SetDraining() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateDraining
}

// IsReady returns true when the state is ready.
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateReady
}

// State returns the current state string.
func (c *Checker) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// healthResponse is the JSON body returned by health endpoints.
type healthResponse struct {
	Status         string   `json:"status"`
	ActiveServices []string `json:"activeServices,omitempty"`
}

// LivenessHandler always responds 200 OK. Use for livenessProbe (/healthz).
func (*Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	}
}

// ReadinessHandler responds 200 with the active service list when ready and
// 503 when starting or draining. Use for readinessProbe (/readyz).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		c.mu.RLock()
		state := c.state
		services := make([]string, len(c.services))
		copy(services, c.services)
		c.mu.RUnlock()

		code := http.StatusOK
		if state != stateReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, healthResponse{Status: state, ActiveServices: services})
	}
}

func writeJSON(w http.ResponseWriter, code int, body healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
