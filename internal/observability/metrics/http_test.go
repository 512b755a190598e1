package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector("")

	c.ObserveHeartbeat("accepted")
	c.ObserveHeartbeat("accepted")
	c.ObserveHeartbeat("zombie")
	c.ObserveAdminAction("kill_switch", "ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.heartbeatsTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.heartbeatsTotal.WithLabelValues("zombie")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.adminActionsTotal.WithLabelValues("kill_switch", "ok")))
}

func TestCollectorHistograms(t *testing.T) {
	c := NewCollector("test")

	c.ObserveLockWait(3*time.Millisecond, true)
	c.ObserveHTTPRequest("/heartbeat", "POST", 402, 5*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(c.lockWaitSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("/heartbeat", "POST", "402")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("")
	c.ObserveHeartbeat("killed")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `spendguard_heartbeats_total{result="killed"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveHeartbeat("accepted")
	c.ObserveLockWait(time.Millisecond, false)
	c.ObserveHTTPRequest("/", "GET", 200, time.Millisecond)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
