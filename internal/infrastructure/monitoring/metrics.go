package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type LendingMetrics struct {
	LoanOperationsTotal *prometheus.CounterVec
	SweepLoansTotal     *prometheus.CounterVec
	SweepDuration       *prometheus.HistogramVec
	NoticesTotal        *prometheus.CounterVec
	RelayDeliveries     *prometheus.CounterVec
}

var (
	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ebook_lending_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Lending = LendingMetrics{
		LoanOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ebook_lending_loan_operations_total",
				Help: "Loan create/terminate attempts by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		SweepLoansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ebook_lending_sweep_loans_total",
				Help: "Loans handled by the daily sweeps by outcome.",
			},
			[]string{"sweep", "outcome"},
		),
		SweepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ebook_lending_sweep_duration_seconds",
				Help:    "Duration of sweep runs.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"sweep"},
		),
		NoticesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ebook_lending_notices_total",
				Help: "Loan notices dispatched by kind and status.",
			},
			[]string{"kind", "status"},
		),
		RelayDeliveries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ebook_lending_relay_deliveries_total",
				Help: "Notice messages handled by the mail relay by outcome.",
			},
			[]string{"outcome"},
		),
	}
)

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

func RecordLoanOperation(operation, outcome string) {
	Lending.LoanOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func RecordSweepLoans(sweep, outcome string, count int) {
	if count <= 0 {
		return
	}
	Lending.SweepLoansTotal.WithLabelValues(sweep, outcome).Add(float64(count))
}

func RecordSweepDuration(sweep string, duration time.Duration) {
	Lending.SweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
}

func RecordNotice(kind, status string) {
	Lending.NoticesTotal.WithLabelValues(kind, status).Inc()
}

func RecordRelayDelivery(outcome string) {
	Lending.RelayDeliveries.WithLabelValues(outcome).Inc()
}
