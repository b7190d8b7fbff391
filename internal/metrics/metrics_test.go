package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbmonitor/internal/domain"
	"github.com/alanyoungcy/arbmonitor/internal/monitor"
)

func TestCollectorRecordsCycles(t *testing.T) {
	c := NewCollector()

	c.CycleSucceeded(domain.Observation{
		Timestamp: time.Unix(1700000000, 0),
		Spreads:   domain.Spreads{NoSpreadReturnPct: 3.09, YesNoSpreadReturnPct: 1.01},
	})
	c.CycleFailed(monitor.StateFetching)
	c.CycleFailed(monitor.StateFetching)
	c.FetchDone(domain.VenueKalshi, 20*time.Millisecond, errors.New("boom"))
	c.FetchDone(domain.VenuePolymarket, 10*time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles.WithLabelValues("failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stageFailures.WithLabelValues("fetching")))
	assert.Equal(t, 3.09, testutil.ToFloat64(c.spread.WithLabelValues("no")))
	assert.Equal(t, 1.01, testutil.ToFloat64(c.spread.WithLabelValues("yes_no")))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(c.lastSuccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.fetchErrors.WithLabelValues("kalshi")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.fetchErrors.WithLabelValues("polymarket")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.ArchiveDone(nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `arbmonitor_archive_runs_total{result="success"} 1`)
}

func TestInstrumentHandler(t *testing.T) {
	c := NewCollector()
	h := c.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/api/status", "418")))
}

func TestCanonicalPath(t *testing.T) {
	assert.Equal(t, "/api/observations", canonicalPath("/api/observations"))
	assert.Equal(t, "/api/observations/latest", canonicalPath("/api/observations/latest"))
	assert.Equal(t, "/api/observations", canonicalPath("/api/observations/123"))
	assert.Equal(t, "/ws", canonicalPath("/ws"))
	assert.Equal(t, "other", canonicalPath("/favicon.ico"))
}
