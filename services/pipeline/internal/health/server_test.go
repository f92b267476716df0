package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/metrics"
)

func TestHealthzIncludesStatus(t *testing.T) {
	srv := New(":0", metrics.New(), func() gin.H { return gin.H{"snapshot_version": 3} })

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
	assert.Equal(t, int64(3), gjson.Get(rec.Body.String(), "snapshot_version").Int())
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.Rejected.WithLabelValues("price", "missing_field").Inc()
	srv := New(":0", m, nil)

	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fuel_records_rejected_total{kind="price",reason="missing_field"} 1`)
}
