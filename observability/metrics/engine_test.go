package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineMetricsCountOutcomes(t *testing.T) {
	m := Engine()
	require.Same(t, m, Engine())

	before := testutil.ToFloat64(m.ExecutionsVec().WithLabelValues("error"))
	m.ObserveExecution(errors.New("boom"), 0, time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.ExecutionsVec().WithLabelValues("error")))

	before = testutil.ToFloat64(m.CommitsVec().WithLabelValues("success"))
	m.ObserveCommit(nil, time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.CommitsVec().WithLabelValues("success")))

	m.IncHostCall("write", "")
	require.GreaterOrEqual(t, testutil.ToFloat64(m.HostCallsVec().WithLabelValues("write", "ok")), 1.0)
}

func TestNilEngineMetricsAreNoops(t *testing.T) {
	var m *EngineMetrics
	m.ObserveExecution(nil, 1, time.Second)
	m.ObserveCommit(nil, time.Second)
	m.IncTransformFailure("overflow")
	m.IncHostCall("read", "ok")
}
