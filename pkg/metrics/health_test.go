package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthDegradesOnBadCondition(t *testing.T) {
	c := NewChecker("registry", "tracker")
	c.SetVersion("1.2.3")
	c.Set("registry", true, "")
	c.Set("tracker", true, "")

	health := c.Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "1.2.3", health.Version)
	assert.Len(t, health.Components, 2)

	c.Set("tracker", false, "store unavailable")
	health = c.Health()
	assert.Equal(t, "degraded", health.Status)
	assert.Contains(t, health.Message, "tracker")
	assert.Contains(t, health.Message, "store unavailable")
}

func TestReadinessWaitsForCriticalSubsystems(t *testing.T) {
	c := NewChecker("registry", "tracker", "orchestrator")
	c.Set("registry", true, "")
	c.Set("tracker", true, "")

	// Orchestrator has not reported: still recovering.
	ready := c.Readiness()
	assert.Equal(t, "not-ready", ready.Status)
	assert.Contains(t, ready.Message, "orchestrator")

	c.Set("orchestrator", true, "recovery complete")
	ready = c.Readiness()
	assert.Equal(t, "ready", ready.Status)
}

func TestReadinessIgnoresNonCriticalConditions(t *testing.T) {
	c := NewChecker("registry")
	c.Set("registry", true, "")
	c.Set("broker", false, "draining")

	assert.Equal(t, "ready", c.Readiness().Status)
	assert.Equal(t, "degraded", c.Health().Status)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	c := NewChecker()
	c.Set("registry", true, "")

	rec := httptest.NewRecorder()
	c.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "ok", report.Status)

	c.Set("registry", false, "boom")
	rec = httptest.NewRecorder()
	c.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyHandlerStatusCodes(t *testing.T) {
	c := NewChecker("orchestrator")

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.Set("orchestrator", true, "")
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLivenessAlwaysOK(t *testing.T) {
	c := NewChecker("registry")

	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alive")
}
