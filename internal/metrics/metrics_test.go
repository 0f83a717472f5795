package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OrdersFolded.Add(3)
	m.StockDecrements.WithLabelValues(ResultInsufficient).Inc()
	m.CacheLookups.WithLabelValues(ResultHit).Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.OrdersFolded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StockDecrements.WithLabelValues(ResultInsufficient)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "product_orders_folded_total")
	assert.Contains(t, names, "product_stock_decrements_total")
	assert.Contains(t, names, "product_cache_lookups_total")
}

func TestNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
