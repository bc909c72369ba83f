package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "flasharb"

type MetricsConfig struct {
	Namespace  string
	LogMetrics bool
}

// Registry bundles a prometheus registry with the config it was built for
type Registry struct {
	*prometheus.Registry
	cfg    MetricsConfig
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(cfg MetricsConfig, log *zap.Logger) *Registry {
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		Registry: prometheus.NewRegistry(),
		cfg:      cfg,
		logger:   log,
	}
}

// Namespace returns the configured metric namespace
func (r *Registry) Namespace() string {
	return r.cfg.Namespace
}

// Counters gathers every counter in the registry, keyed by name and labels
func (r *Registry) Counters() (map[string]float64, error) {
	families, err := r.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	out := make(map[string]float64)
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			out[seriesKey(mf.GetName(), m)] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}

// LogCounters writes the current counter values at info level when enabled
func (r *Registry) LogCounters() {
	if !r.cfg.LogMetrics {
		return
	}
	counters, err := r.Counters()
	if err != nil {
		r.logger.Warn("Failed to read metrics", zap.Error(err))
		return
	}

	keys := make([]string, 0, len(counters))
	for k := range counters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, zap.Float64(k, counters[k]))
	}
	r.logger.Info("Metrics", fields...)
}

// CounterValue reads a single counter through its collector
func CounterValue(c prometheus.Counter) (float64, error) {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0, err
	}
	if m.Counter == nil {
		return 0, fmt.Errorf("metric is not a counter")
	}
	return m.GetCounter().GetValue(), nil
}

func seriesKey(name string, m *dto.Metric) string {
	labels := m.GetLabel()
	if len(labels) == 0 {
		return name
	}
	parts := make([]string, 0, len(labels))
	for _, lp := range labels {
		parts = append(parts, lp.GetName()+"="+lp.GetValue())
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

type EngineMetrics struct {
	LoanRequests *prometheus.CounterVec
	Reverts      *prometheus.CounterVec
	LegLatency   *prometheus.HistogramVec
	Withdrawals  *prometheus.CounterVec
	ActiveLoans  prometheus.Gauge
}

// NewEngineMetrics creates the engine's collectors. A nil registerer leaves
// them unregistered.
func NewEngineMetrics(reg prometheus.Registerer, namespace string) *EngineMetrics {
	factory := promauto.With(reg)
	return &EngineMetrics{
		LoanRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loan_requests_total",
			Help:      "Flash loan requests by outcome",
		}, []string{"outcome"}),
		Reverts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reverts_total",
			Help:      "Reverted engine transactions by reason",
		}, []string{"reason"}),
		LegLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "leg_latency_seconds",
			Help:      "Time spent executing one swap leg",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"venue"}),
		Withdrawals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Stuck-funds withdrawals by outcome",
		}, []string{"outcome"}),
		ActiveLoans: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_loans",
			Help:      "Flash loans currently in flight",
		}),
	}
}

type SimulatorMetrics struct {
	Steps    *prometheus.CounterVec
	StepTime prometheus.Histogram
}

func NewSimulatorMetrics(reg prometheus.Registerer, namespace string) *SimulatorMetrics {
	factory := promauto.With(reg)
	return &SimulatorMetrics{
		Steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "steps_total",
			Help:      "Scenario steps executed by action and outcome",
		}, []string{"action", "outcome"}),
		StepTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulator",
			Name:      "step_seconds",
			Help:      "Time taken by one scenario step",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
