// Package metrics exposes the detector's Prometheus collectors. Every method
// is safe to call on a nil *Metrics so components can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ransomguard"

// Metrics groups every collector the detector updates.
type Metrics struct {
	EventsReceived     *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	SequencesSaturated prometheus.Counter
	AggregatorRecords  prometheus.Gauge
	Cycles             prometheus.Counter
	CycleDuration      prometheus.Histogram
	PatternMatches     prometheus.Counter
	FilesScanned       *prometheus.CounterVec
	Verdicts           *prometheus.CounterVec
	Mitigations        *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Filesystem events accepted from the capture layer, by operation.",
		}, []string{"op"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because a delivery queue was full or the event was invalid.",
		}, []string{"queue"}),
		SequencesSaturated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_saturated_total",
			Help:      "Operation symbols dropped because the entity sequence was at its maximum length.",
		}),
		AggregatorRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregator_records",
			Help:      "Records drained from the sequence aggregator in the last cycle.",
		}),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_cycles_total",
			Help:      "Completed control loop cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "control_cycle_duration_seconds",
			Help:      "Time spent draining, matching and responding per cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		PatternMatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_matches_total",
			Help:      "Behavioral pattern occurrences found in aggregated sequences.",
		}),
		FilesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_scanned_total",
			Help:      "Created files inspected, by pathway and result.",
		}, []string{"pathway", "result"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Malicious verdicts emitted, by detection source.",
		}, []string{"source"}),
		Mitigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mitigations_total",
			Help:      "Mitigation actions, by action and outcome status.",
		}, []string{"action", "status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Handled detector errors, by class.",
		}, []string{"class"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.EventsReceived,
			m.EventsDropped,
			m.SequencesSaturated,
			m.AggregatorRecords,
			m.Cycles,
			m.CycleDuration,
			m.PatternMatches,
			m.FilesScanned,
			m.Verdicts,
			m.Mitigations,
			m.Errors,
		)
	}
	return m
}

func (m *Metrics) EventReceived(op string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(op).Inc()
}

func (m *Metrics) EventDropped(queue string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(queue).Inc()
}

func (m *Metrics) SequenceSaturated() {
	if m == nil {
		return
	}
	m.SequencesSaturated.Inc()
}

// CycleCompleted records one control loop cycle.
func (m *Metrics) CycleCompleted(records, matches int, took time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.AggregatorRecords.Set(float64(records))
	m.PatternMatches.Add(float64(matches))
	m.CycleDuration.Observe(took.Seconds())
}

func (m *Metrics) FileScanned(pathway, result string) {
	if m == nil {
		return
	}
	m.FilesScanned.WithLabelValues(pathway, result).Inc()
}

func (m *Metrics) VerdictEmitted(source string) {
	if m == nil {
		return
	}
	m.Verdicts.WithLabelValues(source).Inc()
}

func (m *Metrics) Mitigation(action, status string) {
	if m == nil {
		return
	}
	m.Mitigations.WithLabelValues(action, status).Inc()
}

// CollectError counts a handled error by class.
func (m *Metrics) CollectError(class string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(class).Inc()
}
