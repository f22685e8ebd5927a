package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// FinesIssuedTotal counts issued fines by violation type.
	FinesIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "fines",
		Name:      "issued_total",
		Help:      "Total number of fines issued, labeled by violation type.",
	}, []string{"type"})

	FinesPaidTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "fines",
		Name:      "paid_total",
		Help:      "Total number of fines marked as paid.",
	})

	FinesPaidAmountTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "fines",
		Name:      "paid_amount_total",
		Help:      "Sum of amounts of fines marked as paid.",
	})

	// DetectionsIngestedTotal counts detection records by outcome
	// (accepted, rejected, failed).
	DetectionsIngestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "traffic",
		Subsystem: "fines",
		Name:      "detections_ingested_total",
		Help:      "Detection records processed by the write path, labeled by result.",
	}, []string{"result"})

	LedgerRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "traffic",
		Subsystem: "fines",
		Name:      "ledger_records",
		Help:      "Number of violation records currently held by the ledger.",
	})

	LedgerSaveDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "traffic",
		Subsystem: "fines",
		Name:      "ledger_save_duration_seconds",
		Help:      "Time spent persisting the ledger, labeled by result.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"result"})
)

// Register registers the collectors with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			FinesIssuedTotal,
			FinesPaidTotal,
			FinesPaidAmountTotal,
			DetectionsIngestedTotal,
			LedgerRecords,
			LedgerSaveDurationSeconds,
		)
	})
}

func ObserveSave(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	LedgerSaveDurationSeconds.WithLabelValues(result).Observe(d.Seconds())
}
