// Package metrics exports Prometheus counters and gauges for the revenue
// operations daemon, following the global-registration pattern used by
// etalazz-vsa's churn telemetry package (package-level collectors,
// MustRegister in init, promhttp.Handler for the HTTP endpoint).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeeAdjustmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revenue_ops_fee_adjustments_total",
		Help: "Total fee decision cycles, labeled by reason code.",
	}, []string{"reason_code"})

	FeeBroadcastsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revenue_ops_fee_broadcasts_total",
		Help: "Total fee changes actually written to the host node.",
	})

	RebalancesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revenue_ops_rebalances_total",
		Help: "Total rebalance attempts, labeled by outcome reason code.",
	}, []string{"reason_code"})

	RebalanceSpendSats = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revenue_ops_rebalance_spend_sats_total",
		Help: "Cumulative sats spent on rebalance routing fees.",
	})

	BleederChannels = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "revenue_ops_bleeder_channels",
		Help: "Current count of channels by bleeder classification.",
	}, []string{"classification"})

	HiveBridgeState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "revenue_ops_hive_bridge_circuit_state",
		Help: "Hive bridge circuit breaker state (0=closed, 1=half_open, 2=open).",
	})

	ThompsonObservations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "revenue_ops_thompson_observations",
		Help: "Observation count per channel feeding the Thompson sampler.",
	}, []string{"chan_id"})

	AIMDModifier = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "revenue_ops_aimd_modifier",
		Help: "Current AIMD defensive fee modifier per channel.",
	}, []string{"chan_id"})

	SchedulerCycleErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "revenue_ops_scheduler_cycle_errors_total",
		Help: "Panics or errors recovered from a scheduler loop iteration.",
	}, []string{"loop"})
)

func init() {
	prometheus.MustRegister(
		FeeAdjustmentsTotal,
		FeeBroadcastsTotal,
		RebalancesTotal,
		RebalanceSpendSats,
		BleederChannels,
		HiveBridgeState,
		ThompsonObservations,
		AIMDModifier,
		SchedulerCycleErrors,
	)
}

// Handler returns the promhttp handler for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CircuitStateValue converts a breaker state name to the gauge encoding
// used by HiveBridgeState.
func CircuitStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
