package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	reg, m := NewRegistry()
	require.NotNil(t, reg)
	require.NotNil(t, m)

	m.ObserveSubmit()
	m.ObserveSubmit()
	m.ObserveResult(true)
	m.ObserveResult(false)
	m.ObserveStreamError()
	m.SetOutstanding(3)
	m.ObserveControl("modelzoo")
	m.ObserveConnect(true)
	m.ObserveLatency(50 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsReceived.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsReceived.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamErrors))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OutstandingFrames))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControlRequests.WithLabelValues("modelzoo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("ok")))
}

func TestRegisterConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	require.NoError(t, m.Register(reg))

	other := NewMetrics()
	assert.Error(t, other.Register(reg))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSubmit()
		m.ObserveResult(true)
		m.ObserveStreamError()
		m.SetOutstanding(1)
		m.ObserveLatency(time.Second)
		m.ObserveControl("sleep")
		m.ObserveConnect(false)
	})
}
