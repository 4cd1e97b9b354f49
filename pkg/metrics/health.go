package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the JSON body served by the health endpoints.
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// componentHealth tracks the reported state of one component.
type componentHealth struct {
	healthy bool
	message string
	updated time.Time
}

// healthChecker aggregates component states for the health endpoints.
type healthChecker struct {
	mu         sync.RWMutex
	components map[string]componentHealth
	startTime  time.Time
	version    string
}

var checker = &healthChecker{
	components: make(map[string]componentHealth),
	startTime:  time.Now(),
}

// criticalComponents must all report healthy before the server counts
// as ready to take requests.
var criticalComponents = []string{"storage", "api"}

// SetVersion sets the version string reported by the health endpoints.
func SetVersion(version string) {
	checker.mu.Lock()
	defer checker.mu.Unlock()
	checker.version = version
}

// SetComponent records the health of a named component. Components
// report themselves when they start and whenever their state changes.
func SetComponent(name string, healthy bool, message string) {
	checker.mu.Lock()
	defer checker.mu.Unlock()

	checker.components[name] = componentHealth{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// GetHealth returns the overall health status.
func GetHealth() HealthStatus {
	checker.mu.RLock()
	defer checker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string)

	for name, comp := range checker.components {
		if comp.healthy {
			components[name] = "healthy"
			continue
		}
		status = "unhealthy"
		components[name] = "unhealthy: " + comp.message
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    checker.version,
		Uptime:     time.Since(checker.startTime).String(),
	}
}

// GetReadiness reports whether every critical component has come up.
func GetReadiness() HealthStatus {
	checker.mu.RLock()
	defer checker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	for _, name := range criticalComponents {
		comp, exists := checker.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    checker.version,
		Uptime:     time.Since(checker.startTime).String(),
	}
}

// HealthHandler returns an HTTP handler for the /health endpoint
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler returns an HTTP handler for the /ready endpoint
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		w.Header().Set("Content-Type", "application/json")

		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)

		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler returns a handler that reports 200 while the process
// is running.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(checker.startTime).String(),
		})
	}
}
