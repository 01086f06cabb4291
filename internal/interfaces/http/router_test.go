package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/prometheus"
	"github.com/dealeredge/visibility-engine/internal/interfaces/http/handlers"
)

func TestNewRouter_HealthAndMetrics(t *testing.T) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{Namespace: "visibility"}, logging.NewNopLogger())
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Health:           handlers.NewHealthHandler(nil, logging.NewNopLogger()),
		Metrics:          prometheus.NewAppMetrics(collector),
		MetricsCollector: collector,
		Mode:             "test",
		Logger:           logging.NewNopLogger(),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "visibility_http_requests_total")
}

func TestNewRouter_NilHandlersSkipRoutes(t *testing.T) {
	router := NewRouter(RouterConfig{Mode: "test"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/jobs", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
