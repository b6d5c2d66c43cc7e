package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state. The process is ready
// once SetReady(true) was called and every registered component reports up.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu         sync.RWMutex
	components map[string]bool
}

// NewHealthChecker creates a new health checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime:  time.Now(),
		components: make(map[string]bool),
	}
}

// SetReady marks startup (backfill and wiring) as complete.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// SetComponent records whether a named feed or worker is currently up.
func (h *HealthChecker) SetComponent(name string, up bool) {
	h.mu.Lock()
	h.components[name] = up
	h.mu.Unlock()
}

// Components returns a copy of the component states.
func (h *HealthChecker) Components() map[string]bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]bool, len(h.components))
	for k, v := range h.components {
		out[k] = v
	}
	return out
}

// IsReady returns whether the service is ready.
func (h *HealthChecker) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, up := range h.components {
		if !up {
			return false
		}
	}
	return true
}

func (h *HealthChecker) downComponents() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var down []string
	for name, up := range h.components {
		if !up {
			down = append(down, name)
		}
	}
	sort.Strings(down)
	return down
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if the service is ready, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.IsReady() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "not_ready",
		"down":   h.downComponents(),
	})
}
