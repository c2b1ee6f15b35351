package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHighlightMetricsRegisters(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewHighlightMetrics(registry)
	require.NoError(t, err)

	m.RecordStoreOperation("add", "SEARCH", "success")
	m.SetStoreSize("SEARCH", 3)
	m.RecordThrottleRejection("interactive")
	m.SetProcessedPages(7)
	m.RecordCoordinatorRun("entity", "processed")
	m.RecordCoordinatorDuration("entity", 0.01)
	m.RecordNotificationCoalesced()
	m.RecordPersistError("put")

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	names := make(map[string]struct{}, len(families))
	for _, f := range families {
		names[f.GetName()] = struct{}{}
	}
	assert.Contains(t, names, "highlight_store_operations_total")
	assert.Contains(t, names, "highlight_coordinator_runs_total")
	assert.Contains(t, names, "highlight_persist_errors_total")
}

func TestNilMetricsSafe(t *testing.T) {
	t.Parallel()

	var m *HighlightMetrics
	assert.NotPanics(t, func() {
		m.RecordStoreOperation("add", "SEARCH", "success")
		m.RecordStoreDuration("add", 0.001)
		m.SetStoreSize("SEARCH", 1)
		m.RecordThrottleRejection("auto")
		m.SetProcessedPages(0)
		m.RecordCoordinatorRun("search", "skipped")
		m.RecordCoordinatorDuration("search", 0)
		m.RecordNotificationCoalesced()
		m.RecordPersistError("delete")
	})
}
