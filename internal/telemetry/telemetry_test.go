package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubctl/internal/model"
)

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveActivation("success", time.Second)
	m.SetServiceStatus("redlib", model.StatusUp)
	m.CounterReset("gateway")
	assert.Nil(t, m.Registry())
}

func TestServiceStatusIsOneHot(t *testing.T) {
	t.Parallel()

	m := New()
	m.SetServiceStatus("redlib", model.StatusUnhealthy)
	m.SetServiceStatus("redlib", model.StatusUp)

	body := scrape(t, m)
	assert.Contains(t, body, `hubctl_service_status{service="redlib",status="up"} 1`)
	assert.Contains(t, body, `hubctl_service_status{service="redlib",status="unhealthy"} 0`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestHandlerExposesMetrics(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveActivation("success", 3*time.Second)
	m.SetLifetime("gateway", 10, 20)

	body := scrape(t, m)
	assert.True(t, strings.Contains(body, `hubctl_activations_total{result="success"} 1`), body)
	assert.True(t, strings.Contains(body, `hubctl_lifetime_bytes{direction="tx",source="gateway"} 20`), body)
}
