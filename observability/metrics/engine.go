package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks executions, commits and host calls.
type EngineMetrics struct {
	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
	effectKeys        prometheus.Histogram
	commits           *prometheus.CounterVec
	commitDuration    prometheus.Histogram
	transformFailures *prometheus.CounterVec
	hostCalls         *prometheus.CounterVec
}

var (
	engineOnce     sync.Once
	engineRegistry *EngineMetrics
)

// Engine returns the lazily registered engine metrics.
func Engine() *EngineMetrics {
	engineOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstore",
				Subsystem: "engine",
				Name:      "executions_total",
				Help:      "Count of executions segmented by outcome.",
			}, []string{"outcome"}),
			executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "capstore",
				Subsystem: "engine",
				Name:      "execution_duration_seconds",
				Help:      "Latency distribution for executions.",
				Buckets:   prometheus.DefBuckets,
			}),
			effectKeys: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "capstore",
				Subsystem: "engine",
				Name:      "effect_keys",
				Help:      "Number of distinct keys in each execution's effect map.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			}),
			commits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstore",
				Subsystem: "state",
				Name:      "commits_total",
				Help:      "Count of commits segmented by outcome.",
			}, []string{"outcome"}),
			commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "capstore",
				Subsystem: "state",
				Name:      "commit_duration_seconds",
				Help:      "Latency distribution for commits.",
				Buckets:   prometheus.DefBuckets,
			}),
			transformFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstore",
				Subsystem: "state",
				Name:      "transform_failures_total",
				Help:      "Count of effect map entries that failed to merge, by reason.",
			}, []string{"reason"}),
			hostCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "capstore",
				Subsystem: "host",
				Name:      "calls_total",
				Help:      "Count of host calls segmented by operation and result code.",
			}, []string{"op", "result"}),
		}
		prometheus.MustRegister(
			engineRegistry.executions,
			engineRegistry.executionDuration,
			engineRegistry.effectKeys,
			engineRegistry.commits,
			engineRegistry.commitDuration,
			engineRegistry.transformFailures,
			engineRegistry.hostCalls,
		)
	})
	return engineRegistry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveExecution records one finished execution.
func (m *EngineMetrics) ObserveExecution(err error, keys int, duration time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(outcome(err)).Inc()
	m.executionDuration.Observe(duration.Seconds())
	if err == nil {
		m.effectKeys.Observe(float64(keys))
	}
}

// ObserveCommit records one commit attempt.
func (m *EngineMetrics) ObserveCommit(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(outcome(err)).Inc()
	m.commitDuration.Observe(duration.Seconds())
}

func (m *EngineMetrics) IncTransformFailure(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.transformFailures.WithLabelValues(reason).Inc()
}

// IncHostCall counts a host call. result is the API error name, "ok" on
// success.
func (m *EngineMetrics) IncHostCall(op, result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "ok"
	}
	m.hostCalls.WithLabelValues(op, result).Inc()
}

// ExecutionsVec exposes the execution counter for tests.
func (m *EngineMetrics) ExecutionsVec() *prometheus.CounterVec { return m.executions }

// CommitsVec exposes the commit counter for tests.
func (m *EngineMetrics) CommitsVec() *prometheus.CounterVec { return m.commits }

// HostCallsVec exposes the host call counter for tests.
func (m *EngineMetrics) HostCallsVec() *prometheus.CounterVec { return m.hostCalls }
