package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts orchestration events. A nil *Metrics records nothing.
type Metrics struct {
	payloads      *prometheus.CounterVec // Root payloads processed by worker
	scans         *prometheus.CounterVec // Worker passes, nested ones included
	extracted     *prometheus.CounterVec // Sub-payloads produced by plugin
	dispatched    *prometheus.CounterVec // Dispatch decisions by target worker
	rateLimited   *prometheus.CounterVec // Payloads skipped by the rate gate
	stageFailures *prometheus.CounterVec // Absorbed stage errors
	guarded       *prometheus.CounterVec // Work skipped by the recursion guard
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoq",
			Subsystem: "worker",
			Name:      "payloads_total",
			Help:      "Total root payloads processed",
		}, []string{"worker"}),

		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoq",
			Subsystem: "worker",
			Name:      "scans_total",
			Help:      "Total worker passes including dispatched and nested ones",
		}, []string{"worker"}),

		extracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoq",
			Subsystem: "worker",
			Name:      "extracted_total",
			Help:      "Total sub-payloads produced by carvers, decoders and extractors",
		}, []string{"stage", "plugin"}),

		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoq",
			Subsystem: "worker",
			Name:      "dispatched_total",
			Help:      "Total payloads dispatched to a worker",
		}, []string{"worker"}),

		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoq",
			Subsystem: "worker",
			Name:      "rate_limited_total",
			Help:      "Total payloads skipped by the rate gate",
		}, []string{"worker"}),

		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoq",
			Subsystem: "worker",
			Name:      "stage_failures_total",
			Help:      "Total plugin failures absorbed at a stage boundary",
		}, []string{"stage", "plugin"}),

		guarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stoq",
			Subsystem: "worker",
			Name:      "recursion_guard_total",
			Help:      "Total passes skipped by the recursion guard",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{
		m.payloads, m.scans, m.extracted, m.dispatched,
		m.rateLimited, m.stageFailures, m.guarded,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) payload(worker string) {
	if m == nil {
		return
	}
	m.payloads.WithLabelValues(worker).Inc()
}

func (m *Metrics) scan(worker string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(worker).Inc()
}

func (m *Metrics) extract(stage Stage, plugin string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.extracted.WithLabelValues(string(stage), plugin).Add(float64(n))
}

func (m *Metrics) dispatch(worker string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(worker).Inc()
}

func (m *Metrics) rateLimit(worker string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(worker).Inc()
}

func (m *Metrics) failure(stage Stage, plugin string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(string(stage), plugin).Inc()
}

func (m *Metrics) guard(reason string) {
	if m == nil {
		return
	}
	m.guarded.WithLabelValues(reason).Inc()
}
