package metrics

import (
	"time"

	"github.com/rpattn/beneficiary/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the import pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Uploads accepted by the orchestrator
	UploadsAccepted prometheus.Counter

	// Rows received per accepted upload
	UploadRows prometheus.Histogram

	// Workflow outcomes by final status
	WorkflowOutcome *prometheus.CounterVec

	// Duration of one workflow run by final status
	WorkflowLatency *prometheus.HistogramVec

	// Failed validations by rule name
	ValidationFailures *prometheus.CounterVec

	// Individuals created by commits
	IndividualsCommitted prometheus.Counter

	// Jobs currently waiting in the queue
	QueueDepth prometheus.Gauge
}

// New registers all import pipeline metrics with reg. Passing nil uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		UploadsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "beneficiary_uploads_accepted_total",
			Help: "Total uploads persisted and dispatched to a workflow",
		}),

		UploadRows: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "beneficiary_upload_rows",
			Help:    "Number of rows per accepted upload",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		WorkflowOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beneficiary_workflow_outcomes_total",
			Help: "Total workflow runs by final upload status",
		}, []string{"status"}),

		WorkflowLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beneficiary_workflow_duration_seconds",
			Help:    "Duration of validation and commit for one upload",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),

		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "beneficiary_validation_failures_total",
			Help: "Total failed validations by rule",
		}, []string{"rule"}),

		IndividualsCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "beneficiary_individuals_committed_total",
			Help: "Total individuals created from uploads",
		}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "beneficiary_workflow_queue_depth",
			Help: "Jobs enqueued but not yet picked up by a worker",
		}),
	}
}

// ObserveUpload records an accepted upload of rows rows.
func (m *Metrics) ObserveUpload(rows int) {
	if m != nil {
		m.UploadsAccepted.Inc()
		m.UploadRows.Observe(float64(rows))
	}
}

// ObserveWorkflow records a finished workflow run.
func (m *Metrics) ObserveWorkflow(status domain.UploadStatus, d time.Duration) {
	if m != nil {
		m.WorkflowOutcome.WithLabelValues(string(status)).Inc()
		m.WorkflowLatency.WithLabelValues(string(status)).Observe(d.Seconds())
	}
}

// IncrementValidationFailure records one failed rule evaluation.
func (m *Metrics) IncrementValidationFailure(rule string) {
	if m != nil {
		m.ValidationFailures.WithLabelValues(rule).Inc()
	}
}

// AddIndividuals records individuals created by a commit.
func (m *Metrics) AddIndividuals(n int) {
	if m != nil && n > 0 {
		m.IndividualsCommitted.Add(float64(n))
	}
}

func (m *Metrics) IncQueueDepth() {
	if m != nil {
		m.QueueDepth.Inc()
	}
}

func (m *Metrics) DecQueueDepth() {
	if m != nil {
		m.QueueDepth.Dec()
	}
}
