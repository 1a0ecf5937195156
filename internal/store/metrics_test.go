package store

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dalton/internal/ir"
	"github.com/roach88/dalton/internal/queryir"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

// counterValue returns the counter of family whose label has the value.
func counterValue(t *testing.T, family *dto.MetricFamily, label, value string) float64 {
	t.Helper()
	require.NotNil(t, family)
	for _, m := range family.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("%s has no series with %s=%q", family.GetName(), label, value)
	return 0
}

func TestMetricsGathered(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := openTestStore(t, WithRegisterer(reg))
	installAttrs(t, s, personAttrs...)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	_, err = snap.Query(context.Background(), queryir.Query{
		Find: []queryir.Var{"?e"},
		Where: []queryir.Clause{
			{E: queryir.Var("?e"), A: queryir.C(ir.Keyword("person/name")), V: queryir.C(ir.String("ada"))},
		},
	})
	require.NoError(t, err)

	families := gather(t, reg)
	assert.Equal(t, 1.0, counterValue(t, families["dalton_store_transactions_total"], "result", "ok"))
	assert.Equal(t, 13.0, counterValue(t, families["dalton_store_datoms_total"], "op", "add"))

	hist := families["dalton_store_query_duration_seconds"]
	require.NotNil(t, hist)
	assert.Equal(t, dto.MetricType_HISTOGRAM, hist.GetType())
	require.Len(t, hist.GetMetric(), 1)
	assert.GreaterOrEqual(t, hist.GetMetric()[0].GetHistogram().GetSampleCount(), uint64(1))
}

func TestMetricsSharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := openTestStore(t, WithRegisterer(reg))
	second := openTestStore(t, WithRegisterer(reg))
	installAttrs(t, first, personAttrs...)
	installAttrs(t, second, personAttrs...)

	assert.Same(t, first.metrics.transactions, second.metrics.transactions)
	assert.Equal(t, 2.0, counterValue(t, gather(t, reg)["dalton_store_transactions_total"], "result", "ok"))
}
