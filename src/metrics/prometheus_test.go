package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("prizepool", reg)

	m.Computations.Inc()
	m.RowsDropped.WithLabelValues("Flight_Date").Add(2)
	m.PrizePool.Set(50)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Computations))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RowsDropped.WithLabelValues("Flight_Date")))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.PrizePool))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "prizepool_computations_total")
	assert.Contains(t, names, "prizepool_prize_pool")
}

func TestNewMetricsSeparateRegistries(t *testing.T) {
	// 同名指标注册到不同 registry 不冲突
	assert.NotPanics(t, func() {
		NewMetrics("prizepool", prometheus.NewRegistry())
		NewMetrics("prizepool", prometheus.NewRegistry())
	})
}
