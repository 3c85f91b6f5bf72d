package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestServersRunningGaugeVec(t *testing.T) {
	ServersRunning.WithLabelValues("running").Set(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(ServersRunning.WithLabelValues("running")))
}

func TestNATInstallFailuresCounter(t *testing.T) {
	before := testutil.ToFloat64(NATInstallFailuresTotal)
	NATInstallFailuresTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(NATInstallFailuresTotal))
}

func TestCoalescedEventsCounterVec(t *testing.T) {
	before := testutil.ToFloat64(CoalescedEventsTotal.WithLabelValues("SERVERS_UPDATED"))
	CoalescedEventsTotal.WithLabelValues("SERVERS_UPDATED").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(CoalescedEventsTotal.WithLabelValues("SERVERS_UPDATED")))
}

func TestHandlerServesMetrics(t *testing.T) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	Handler().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.NotZero(t, rec.Body.Len())
}
