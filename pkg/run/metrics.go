package run

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for engine runs.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunSeconds       prometheus.Histogram
	ThreadsTotal     *prometheus.CounterVec
	AttachmentsTotal *prometheus.CounterVec
	SavedBytesTotal  prometheus.Counter
	InvoiceCopies    prometheus.Counter
	AttachmentErrors prometheus.Counter
}

// DefaultMetrics creates metrics on the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NopMetrics creates metrics on a private registry; used in tests and when
// no metrics endpoint is configured.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// NewMetrics creates the run metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsift_runs_total",
				Help: "Total engine runs by outcome",
			},
			[]string{"outcome"},
		),
		RunSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailsift_run_seconds",
				Help:    "Wall-clock duration of a run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		ThreadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsift_threads_total",
				Help: "Threads examined by outcome",
			},
			[]string{"outcome"},
		),
		AttachmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailsift_attachments_total",
				Help: "Attachments classified by decision reason",
			},
			[]string{"reason"},
		),
		SavedBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsift_saved_bytes_total",
				Help: "Bytes written to the attachment store",
			},
		),
		InvoiceCopies: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsift_invoice_copies_total",
				Help: "Second copies filed into invoice folders",
			},
		),
		AttachmentErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailsift_attachment_errors_total",
				Help: "Attachments that failed to persist",
			},
		),
	}
}
