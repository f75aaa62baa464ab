// Package telemetry holds lander's Prometheus metrics. All methods are safe
// on a nil *Metrics, which records nothing.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lander"

// Metrics is the set of collectors registered for one process.
type Metrics struct {
	cycles      *prometheus.CounterVec
	cycleTime   prometheus.Histogram
	actions     *prometheus.CounterVec
	confidence  *prometheus.GaugeVec
	rate        *prometheus.GaugeVec
	assignments *prometheus.CounterVec
	refreshes   *prometheus.CounterVec
	tracked     *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycles_total",
			Help:      "Engine cycles by outcome (ok, no_experiment, busy, error).",
		}, []string{"status"}),
		cycleTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one engine cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Decisions taken by the engine (promoted, killed, generated, generation_failed).",
		}, []string{"action"}),
		confidence: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "variant",
			Name:      "confidence",
			Help:      "Probability the variant beats the champion, as of the last cycle.",
		}, []string{"variant", "slot"}),
		rate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "variant",
			Name:      "conversion_rate",
			Help:      "Observed conversion rate as of the last cycle.",
		}, []string{"variant", "slot"}),
		assignments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "split",
			Name:      "assignments_total",
			Help:      "Visitor assignments by slot and whether the sticky cookie decided.",
		}, []string{"slot", "sticky"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "split",
			Name:      "snapshot_refreshes_total",
			Help:      "Snapshot fetches by outcome (ok, not_found, error).",
		}, []string{"outcome"}),
		tracked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "track",
			Name:      "events_total",
			Help:      "Impression and conversion calls accepted by the track endpoints.",
		}, []string{"kind"}),
	}
}

// Cycle records one finished cycle.
func (m *Metrics) Cycle(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(status).Inc()
	m.cycleTime.Observe(d.Seconds())
}

// Action counts one engine decision.
func (m *Metrics) Action(action string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action).Inc()
}

// VariantState is the per-variant gauge input.
type VariantState struct {
	ID         string
	Slot       string
	Rate       float64
	Confidence *float64
}

// Variants replaces the per-variant gauges with the live set, so killed
// variants stop being exported.
func (m *Metrics) Variants(vs []VariantState) {
	if m == nil {
		return
	}
	m.confidence.Reset()
	m.rate.Reset()
	for _, v := range vs {
		m.rate.WithLabelValues(v.ID, v.Slot).Set(v.Rate)
		if v.Confidence != nil {
			m.confidence.WithLabelValues(v.ID, v.Slot).Set(*v.Confidence)
		}
	}
}

// Assignment counts one splitter assignment.
func (m *Metrics) Assignment(slot string, sticky bool) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(slot, strconv.FormatBool(sticky)).Inc()
}

// Refresh counts one snapshot fetch.
func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// Tracked counts one accepted impression or conversion call.
func (m *Metrics) Tracked(kind string) {
	if m == nil {
		return
	}
	m.tracked.WithLabelValues(kind).Inc()
}
