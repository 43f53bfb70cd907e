package observability

import (
	"net/http"
	"sync/atomic"
)

// HealthChecker tracks service readiness. Liveness is unconditional;
// readiness flips on once startup replay completes and flips off
// during shutdown.
type HealthChecker struct {
	ready atomic.Bool
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// SetReady marks the service as ready to serve queries.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler always returns 200 while the process is up.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ReadinessHandler returns 200 once replay has finished, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.IsReady() {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	w.Write([]byte("not ready"))
}
