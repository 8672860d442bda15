package metrics_test

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittofs/pkg/metrics"
)

func TestSetCountersIsNoOpBeforeInit(t *testing.T) {
	assert.False(t, metrics.IsEnabled())
	assert.Nil(t, metrics.GetRegistry())
	metrics.SetCounters(metrics.Counters{ActiveConnections: 1})
}

func TestInitRegistryPublishesCounters(t *testing.T) {
	registry := metrics.InitRegistry()
	require.NotNil(t, registry)
	assert.True(t, metrics.IsEnabled())

	metrics.SetCounters(metrics.Counters{ActiveConnections: 3, OpenFiles: 2, TotalFiles: 5})

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, mf := range families {
		values[mf.GetName()] = gaugeValue(mf.GetMetric())
	}

	assert.Equal(t, 3.0, values["zyn_active_connections"])
	assert.Equal(t, 2.0, values["zyn_open_files"])
	assert.Equal(t, 5.0, values["zyn_total_files"])
}

func gaugeValue(metrics []*dto.Metric) float64 {
	if len(metrics) == 0 {
		return 0
	}
	return metrics[0].GetGauge().GetValue()
}
