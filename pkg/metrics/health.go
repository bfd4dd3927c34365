package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Condition is one subsystem's contribution to process health
type Condition struct {
	Ready  bool      `json:"ready"`
	Detail string    `json:"detail,omitempty"`
	Since  time.Time `json:"since"`
}

// HealthReport is the payload of the health and readiness endpoints
type HealthReport struct {
	Status     string               `json:"status"`
	Timestamp  time.Time            `json:"timestamp"`
	Components map[string]Condition `json:"components,omitempty"`
	Message    string               `json:"message,omitempty"`
	Version    string               `json:"version,omitempty"`
	Uptime     string               `json:"uptime,omitempty"`
}

// Checker aggregates subsystem conditions into the health and
// readiness endpoints. Health degrades when any reported condition is
// not ready; readiness additionally demands that every critical
// subsystem has reported ready at least once, so a process that is
// still recovering persisted executions does not take traffic.
type Checker struct {
	mu         sync.RWMutex
	version    string
	started    time.Time
	critical   []string
	conditions map[string]Condition
}

// NewChecker creates a checker whose readiness hinges on the named
// critical subsystems
func NewChecker(critical ...string) *Checker {
	return &Checker{
		started:    time.Now(),
		critical:   critical,
		conditions: make(map[string]Condition),
	}
}

// SetVersion sets the version string echoed in reports
func (c *Checker) SetVersion(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = version
}

// Set records a subsystem's condition, overwriting any earlier one
func (c *Checker) Set(name string, ready bool, detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conditions[name] = Condition{Ready: ready, Detail: detail, Since: time.Now()}
}

// Health reports overall process health across everything that has
// reported a condition
func (c *Checker) Health() HealthReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := c.reportLocked()
	report.Status = "ok"
	for name, cond := range c.conditions {
		if !cond.Ready {
			report.Status = "degraded"
			report.Message = name + ": " + cond.Detail
		}
	}
	return report
}

// Readiness reports whether the process should take traffic: every
// critical subsystem present and ready
func (c *Checker) Readiness() HealthReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	report := c.reportLocked()
	report.Status = "ready"
	for _, name := range c.critical {
		cond, ok := c.conditions[name]
		switch {
		case !ok:
			report.Status = "not-ready"
			report.Message = "waiting for " + name
			report.Components[name] = Condition{Ready: false, Detail: "not reported"}
		case !cond.Ready:
			report.Status = "not-ready"
			report.Message = "waiting for " + name
		}
	}
	return report
}

func (c *Checker) reportLocked() HealthReport {
	components := make(map[string]Condition, len(c.conditions))
	for name, cond := range c.conditions {
		components[name] = cond
	}
	return HealthReport{
		Timestamp:  time.Now(),
		Components: components,
		Version:    c.version,
		Uptime:     time.Since(c.started).String(),
	}
}

// HealthHandler serves the health report; degraded returns 503
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeReport(w, c.Health(), "ok")
	}
}

// ReadyHandler serves the readiness report; not-ready returns 503
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeReport(w, c.Readiness(), "ready")
	}
}

// LivenessHandler answers 200 whenever the process can serve at all
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(c.started).String(),
		})
	}
}

func writeReport(w http.ResponseWriter, report HealthReport, okStatus string) {
	w.Header().Set("Content-Type", "application/json")
	code := http.StatusOK
	if report.Status != okStatus {
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
