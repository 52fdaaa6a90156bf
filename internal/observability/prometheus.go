package observability

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the purchase/refund/waitlist core and the ledger
// boundary.
var (
	PurchasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_purchases_total",
			Help: "Total ticket purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	RefundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_refunds_total",
			Help: "Total ticket refund attempts by outcome",
		},
		[]string{"outcome"},
	)

	LotteryRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waitlist_lottery_runs_total",
			Help: "Total re-lottery runs by outcome",
		},
		[]string{"outcome"},
	)

	LedgerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledger_call_duration_seconds",
			Help:    "Duration of blocking ledger calls, submission to confirmation",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method"},
	)

	ReconcileIntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_intents_total",
			Help: "Mint intents processed by the reconciliation worker, by resolution",
		},
		[]string{"resolution"},
	)
)

// RegisterPrometheus registers all collectors with the default registry.
func RegisterPrometheus() {
	prometheus.MustRegister(PurchasesTotal)
	prometheus.MustRegister(RefundsTotal)
	prometheus.MustRegister(LotteryRunsTotal)
	prometheus.MustRegister(LedgerCallDuration)
	prometheus.MustRegister(ReconcileIntentsTotal)
}
