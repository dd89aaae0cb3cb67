// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TicksTotal counts completed reward tick cycles.
	TicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dwell_rewards_ticks_total",
		Help: "Total number of reward tick cycles",
	})

	// TickDuration observes how long one tick cycle takes.
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dwell_rewards_tick_duration_seconds",
		Help:    "Duration of one reward tick cycle",
		Buckets: prometheus.DefBuckets,
	})

	// SessionFailuresTotal counts per-session tick failures by stage.
	SessionFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dwell_rewards_session_failures_total",
		Help: "Total number of per-session failures during ticks and evaluations",
	}, []string{"stage"})

	// CreditedTotal sums currency credited by ledger entry type.
	CreditedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dwell_rewards_credited_total",
		Help: "Total currency credited, by entry type",
	}, []string{"type"})

	// ArrivalsTotal counts arrivals by classification.
	ArrivalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dwell_rewards_arrivals_total",
		Help: "Total number of arrivals, by classification",
	}, []string{"classification"})

	// ActiveSessions is the number of sessions currently ticked.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dwell_rewards_active_sessions",
		Help: "Number of active presence sessions",
	})
)

// Collectors returns every application collector for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TicksTotal,
		TickDuration,
		SessionFailuresTotal,
		CreditedTotal,
		ArrivalsTotal,
		ActiveSessions,
	}
}

// Credited records an amount credited for entry type.
func Credited(entryType string, amount int64) {
	if amount > 0 {
		CreditedTotal.WithLabelValues(entryType).Add(float64(amount))
	}
}
