// Package metrics exposes the engine's Prometheus instrumentation.
// Grounded on the teacher's metrics.go: one custom Registry, promauto
// constructors, namespace "scalper".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for the scalping engine.
var Registry = prometheus.NewRegistry()

var (
	// ============================================
	// Trading performance
	// ============================================

	DailyPnL = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "trading",
		Name:      "daily_pnl",
		Help:      "Realized P&L for the current session",
	})

	TradesToday = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "trading",
		Name:      "trades_today",
		Help:      "Number of trades closed today",
	})

	WinRate = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "trading",
		Name:      "win_rate",
		Help:      "Rolling win rate for the session",
	})

	ActivePositions = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "trading",
		Name:      "active_positions",
		Help:      "Number of currently open trades",
	})

	TradesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scalper",
			Subsystem: "trading",
			Name:      "trades_total",
			Help:      "Total closed trades by option type and exit reason",
		},
		[]string{"option_type", "exit_reason"},
	)

	// ============================================
	// Risk
	// ============================================

	NetDelta = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "net_delta",
		Help:      "Portfolio net delta",
	})

	NetGamma = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "net_gamma",
		Help:      "Portfolio net gamma",
	})

	NetTheta = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "net_theta",
		Help:      "Portfolio net theta",
	})

	NetVega = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "net_vega",
		Help:      "Portfolio net vega",
	})

	KillSwitchActive = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "risk",
		Name:      "kill_switch_active",
		Help:      "1 when the kill switch has tripped, else 0",
	})

	// ============================================
	// Adaptive learning
	// ============================================

	AdaptiveConfidence = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "adaptive",
		Name:      "last_confidence",
		Help:      "Confidence score of the most recently evaluated signal",
	})

	AdaptiveWeightAdjustmentsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "adaptive",
		Name:      "weight_adjustments_total",
		Help:      "Total weight adjustments applied by daily learning",
	})

	AdaptivePatternBlocksActive = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "scalper",
		Subsystem: "adaptive",
		Name:      "pattern_blocks_active",
		Help:      "Number of buckets currently blocked by a detected loss pattern",
	})

	// ============================================
	// Pipeline / ops
	// ============================================

	CycleDuration = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "scalper",
		Subsystem: "pipeline",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one orchestrator tick",
		Buckets:   prometheus.DefBuckets,
	})

	GreeksRefreshErrorsTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "pipeline",
		Name:      "greeks_refresh_errors_total",
		Help:      "Total failed Greeks Cache refreshes",
	})

	AlertsSentTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scalper",
			Subsystem: "alerts",
			Name:      "sent_total",
			Help:      "Total alerts dispatched by severity",
		},
		[]string{"severity"},
	)

	AlertsFailedTotal = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "scalper",
		Subsystem: "alerts",
		Name:      "failed_total",
		Help:      "Total alerts where every handler failed",
	})
)

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetKillSwitch records the kill switch's boolean state as a 0/1 gauge.
func SetKillSwitch(active bool) {
	KillSwitchActive.Set(boolToFloat(active))
}
