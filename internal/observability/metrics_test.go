package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.LedgerOp("lock", "applied")
	m.LedgerOp("lock", "applied")
	m.Settled("payout", "COMPLETED")
	m.TickDone("deposit", 0.2, errors.New("boom"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.LedgerOps.WithLabelValues("lock", "applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Settlements.WithLabelValues("payout", "COMPLETED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkerTicks.WithLabelValues("deposit", "error")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.LedgerOp("credit", "applied")
		m.TickSkipped("payout")
		m.TickDone("payout", 1, nil)
	})
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RateFetched("cache")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "exchange_rate_fetches_total"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("debug").String())
	assert.Equal(t, "info", ParseLevel("bogus").String())
}
