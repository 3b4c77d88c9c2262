package observ

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the service counters. A nil *Metrics is valid and records
// nothing, so components can be built without a registry in tests.
type Metrics struct {
	admissions    *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	lockOverrides prometheus.Counter
	executions    *prometheus.CounterVec
	cacheLookup   *prometheus.CounterVec
	eventDrops    prometheus.Counter
}

// NewMetrics registers the service counters with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe_trader",
			Name:      "admissions_total",
			Help:      "Admission gate outcomes by identity class.",
		}, []string{"class", "outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe_trader",
			Name:      "decisions_total",
			Help:      "Parsed decisions by verdict.",
		}, []string{"verdict"}),
		lockOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibe_trader",
			Name:      "decision_lock_overrides_total",
			Help:      "Buy decisions whose parsed target was replaced by the conversation lock.",
		}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe_trader",
			Name:      "executions_total",
			Help:      "Swap executions by terminal phase.",
		}, []string{"phase"}),
		cacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibe_trader",
			Name:      "snapshot_cache_lookups_total",
			Help:      "Snapshot cache lookups by result.",
		}, []string{"result"}),
		eventDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibe_trader",
			Name:      "event_drops_total",
			Help:      "Live feed events dropped for slow subscribers.",
		}),
	}
	reg.MustRegister(m.admissions, m.decisions, m.lockOverrides, m.executions, m.cacheLookup, m.eventDrops)
	return m
}

func (m *Metrics) Admission(class, outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) Decision(verdict string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(verdict).Inc()
}

func (m *Metrics) LockOverride() {
	if m == nil {
		return
	}
	m.lockOverrides.Inc()
}

// TrackConversations exports count as the live conversation gauge on reg.
// Call it once per registry.
func TrackConversations(reg prometheus.Registerer, count func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "vibe_trader",
		Name:      "conversations",
		Help:      "Conversations held in process memory.",
	}, func() float64 {
		return float64(count())
	}))
}

// Execution records the phase an execution ended in ("settled" on success).
func (m *Metrics) Execution(phase string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(phase).Inc()
}

// CacheLookup records "hit", "miss" or "error".
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookup.WithLabelValues(result).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventDrops.Inc()
}
