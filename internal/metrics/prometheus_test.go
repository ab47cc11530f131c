package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	c := New()
	c.ObserveRequest("cached_products", 200, 12*time.Millisecond)
	c.ObserveRequest("cached_products", 200, 8*time.Millisecond)
	c.ObserveRequest("non_cached_products", 503, 300*time.Millisecond)
	c.ObserveCheck("cached 200", true)
	c.ObserveCheck("non-cached 200", false)
	c.SetActiveVUs("cached_products", 50)
	c.SetThreshold("http_req_duration: p(95)<200", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.requests.WithLabelValues("cached_products", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("non_cached_products", "503")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checks.WithLabelValues("non-cached 200", "fail")))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.activeVUs.WithLabelValues("cached_products")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breached.WithLabelValues("http_req_duration: p(95)<200")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.ObserveRequest("default", 200, 5*time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `prodbench_http_reqs_total{scenario="default",status="200"} 1`)
	assert.Contains(t, string(body), `prodbench_http_req_duration_seconds{scenario="default",quantile="0.95"}`)
}
