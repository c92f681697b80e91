package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	conservationDiff = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dealdesk",
		Subsystem: "reconciliation",
		Name:      "conservation_diff",
		Help:      "Balances plus held escrow minus external flows in the last run. Non-zero means money was created or lost.",
	})

	driftAccounts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dealdesk",
		Subsystem: "reconciliation",
		Name:      "drift_accounts",
		Help:      "Accounts whose journal does not sum to their balance in the last run.",
	})

	heldEscrow = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dealdesk",
		Subsystem: "reconciliation",
		Name:      "held_escrow",
		Help:      "Total amount held in non-terminal deals at the last run.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "dealdesk",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	})

	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation runs that failed to read the store.",
	})
)

func init() {
	prometheus.MustRegister(
		conservationDiff,
		driftAccounts,
		heldEscrow,
		runDuration,
		runErrors,
	)
}
