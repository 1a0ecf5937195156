package store

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "dalton"
	metricsSubsystem = "store"
)

type metrics struct {
	transactions  *prometheus.CounterVec
	datoms        *prometheus.CounterVec
	queryDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "transactions_total",
				Help:      "Transactions by result (ok, rejected, failed)",
			},
			[]string{"result"},
		),
		datoms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "datoms_total",
				Help:      "Datoms appended to the log by op (add, retract)",
			},
			[]string{"op"},
		),
		queryDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "query_duration_seconds",
				Help:      "Duration of snapshot queries in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.transactions, err = register(reg, m.transactions); err != nil {
		return nil, err
	}
	if m.datoms, err = register(reg, m.datoms); err != nil {
		return nil, err
	}
	if m.queryDuration, err = register(reg, m.queryDuration); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, reusing an identical collector that is already
// registered so several stores can share one registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
