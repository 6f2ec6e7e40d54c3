// Package telemetry provides observability primitives for the chat
// gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
	ActiveTurns      prometheus.Gauge
	TokensProcessed  *prometheus.CounterVec
	CostUSDTotal     *prometheus.CounterVec
	BudgetRejections prometheus.Counter
	ComparisonSlots  *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "turns_total",
			Help:      "Total number of chat turns, by model and outcome.",
		}, []string{"model", "outcome"}),

		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "chatgate",
			Name:                            "turn_duration_seconds",
			Help:                            "Chat turn duration in seconds, from request to the done event.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"model"}),

		ActiveTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatgate",
			Name:      "active_turns",
			Help:      "Number of currently in-flight chat turns.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed, by model and direction.",
		}, []string{"model", "direction"}),

		CostUSDTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "cost_usd_total",
			Help:      "Total USD cost logged, by model and operation.",
		}, []string{"model", "operation"}),

		BudgetRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "budget_rejections_total",
			Help:      "Total turns rejected by the budget gate.",
		}),

		ComparisonSlots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatgate",
			Name:      "comparison_slots_total",
			Help:      "Total comparison slots run, by model and outcome.",
		}, []string{"model", "outcome"}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.ActiveTurns,
		m.TokensProcessed,
		m.CostUSDTotal,
		m.BudgetRejections,
		m.ComparisonSlots,
	)

	return m
}
