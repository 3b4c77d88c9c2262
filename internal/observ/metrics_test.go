package observ

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsByLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Admission("user", "admitted")
	m.Admission("user", "admitted")
	m.Admission("ip", "rejected")
	m.CacheLookup("hit")
	m.EventDropped()
	m.LockOverride()

	require.Equal(t, 1.0, testutil.ToFloat64(m.lockOverrides))
	require.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("user", "admitted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("ip", "rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookup.WithLabelValues("hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.eventDrops))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Admission("user", "admitted")
		m.Decision("buy")
		m.Execution("settled")
		m.CacheLookup("miss")
		m.EventDropped()
		m.LockOverride()
	})
}

func TestMetrics_TrackConversations(t *testing.T) {
	reg := prometheus.NewRegistry()
	live := 3
	TrackConversations(reg, func() int { return live })

	require.Equal(t, 3.0, gaugeValue(t, reg, "vibe_trader_conversations"))
	live = 5
	require.Equal(t, 5.0, gaugeValue(t, reg, "vibe_trader_conversations"))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}
