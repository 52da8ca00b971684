package telemetry

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nicktill/tixcondenser/pkg/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value finds a sample by metric name and optional label pair
func value(t *testing.T, m *Metrics, name, label, labelValue string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label != "" {
				matched := false
				for _, lp := range metric.GetLabel() {
					if lp.GetName() == label && lp.GetValue() == labelValue {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, labelValue)
	return 0
}

func TestMetrics_Received(t *testing.T) {
	m := New(nil)
	m.Received(OutcomeAccepted)
	m.Received(OutcomeAccepted)
	m.Received(OutcomeInvalid)

	assert.Equal(t, 2.0, value(t, m, "tix_condenser_reports_received_total", "outcome", OutcomeAccepted))
	assert.Equal(t, 1.0, value(t, m, "tix_condenser_reports_received_total", "outcome", OutcomeInvalid))
}

func TestMetrics_Observer(t *testing.T) {
	m := New(nil)
	var obs extract.Observer = m
	obs.Dropped(1, extract.DropGap, 16)
	obs.Dropped(2, extract.DropAddress, 3)
	obs.Built(1, 20)

	assert.Equal(t, 16.0, value(t, m, "tix_condenser_reports_dropped_total", "reason", "gap"))
	assert.Equal(t, 3.0, value(t, m, "tix_condenser_reports_dropped_total", "reason", "address"))
	assert.Equal(t, 1.0, value(t, m, "tix_condenser_batches_built_total", "", ""))
}

func TestMetrics_Submitted(t *testing.T) {
	m := New(nil)
	m.Submitted(10)
	m.Submitted(9)
	m.SubmitFailed()

	assert.Equal(t, 2.0, value(t, m, "tix_condenser_batches_submitted_total", "", ""))
	assert.Equal(t, 19.0, value(t, m, "tix_condenser_reports_retired_total", "", ""))
	assert.Equal(t, 1.0, value(t, m, "tix_condenser_submit_failures_total", "", ""))
}

func TestMetrics_InstallationsGauge(t *testing.T) {
	n := 3
	m := New(func() int { return n })

	assert.Equal(t, 3.0, value(t, m, "tix_condenser_installations", "", ""))
	n = 5
	assert.Equal(t, 5.0, value(t, m, "tix_condenser_installations", "", ""))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.Received(OutcomeAccepted)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `tix_condenser_reports_received_total{outcome="accepted"} 1`)
}

func TestMetrics_ObserveRequest(t *testing.T) {
	m := New(nil)
	m.ObserveRequest("POST", "/v1/reports", 202, 15*time.Millisecond)
	m.ObserveRequest("POST", "/v1/reports", 202, 5*time.Millisecond)
	m.ObserveRequest("POST", "/v1/reports", 400, time.Millisecond)

	assert.Equal(t, 2.0, value(t, m, "tix_condenser_http_requests_total", "status", "202"))
	assert.Equal(t, 1.0, value(t, m, "tix_condenser_http_requests_total", "status", "400"))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "tix_condenser_http_request_duration_seconds" {
			assert.Equal(t, uint64(3), mf.GetMetric()[0].GetHistogram().GetSampleCount())
			return
		}
	}
	t.Fatal("duration histogram not gathered")
}
