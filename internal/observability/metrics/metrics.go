// Package metrics provides Prometheus metrics for observability.
//
// A CLI run has no scrape endpoint, so the registry is written to a
// node-exporter textfile when the run ends.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech2text"

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	// Recognition session metrics
	SessionsTotal     *prometheus.CounterVec
	SessionDuration   *prometheus.HistogramVec
	SegmentsFinal     *prometheus.CounterVec
	PartialsDiscarded *prometheus.CounterVec
	NoMatchTotal      *prometheus.CounterVec
	FallbacksTotal    prometheus.Counter

	// STT metrics
	STTErrors   *prometheus.CounterVec
	RPCTotal    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Analysis metrics
	AnalysisTotal   *prometheus.CounterVec
	AnalysisLatency prometheus.Histogram

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Pipeline metrics
	PipelineRuns *prometheus.CounterVec
	OutputBytes  *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = New(prometheus.NewRegistry())

// New creates all metrics and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		SessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_sessions_total",
			Help:      "Total number of recognition sessions by tier and outcome",
		}, []string{"tier", "outcome"}),
		SessionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_session_duration_seconds",
			Help:      "Duration of recognition sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"tier"}),
		SegmentsFinal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_final_total",
			Help:      "Total number of final recognized segments",
		}, []string{"tier"}),
		PartialsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partials_discarded_total",
			Help:      "Total number of interim results discarded",
		}, []string{"tier"}),
		NoMatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nomatch_total",
			Help:      "Total number of final results without recognized speech",
		}, []string{"tier"}),
		FallbacksTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of fallbacks from diarized to continuous recognition",
		}),

		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
		RPCTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_rpc_total",
			Help:      "Total number of STT gRPC calls by method and status code",
		}, []string{"method", "code"}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_rpc_duration_seconds",
			Help:      "Duration of STT gRPC calls in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 1800},
		}, []string{"method"}),

		AnalysisTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "Total number of analysis requests by outcome",
		}, []string{"outcome"}),
		AnalysisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_seconds",
			Help:      "Chat completion latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 120},
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		OutputBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes written to output files",
		}, []string{"kind"}),
	}
}

// RecordSessionEnd records a finished recognition session.
func (m *Metrics) RecordSessionEnd(tier string, success bool, durationSeconds float64) {
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	m.SessionsTotal.WithLabelValues(tier, outcome).Inc()
	m.SessionDuration.WithLabelValues(tier).Observe(durationSeconds)
}

// RecordFinalSegment records a final recognized segment.
func (m *Metrics) RecordFinalSegment(tier string) {
	m.SegmentsFinal.WithLabelValues(tier).Inc()
}

// RecordPartialDiscarded records an interim result that was dropped.
func (m *Metrics) RecordPartialDiscarded(tier string) {
	m.PartialsDiscarded.WithLabelValues(tier).Inc()
}

// RecordNoMatch records a final result without recognized speech.
func (m *Metrics) RecordNoMatch(tier string) {
	m.NoMatchTotal.WithLabelValues(tier).Inc()
}

// RecordFallback records a degradation to continuous recognition.
func (m *Metrics) RecordFallback() {
	m.FallbacksTotal.Inc()
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordRPC records a finished gRPC call to the speech service.
func (m *Metrics) RecordRPC(method, code string, durationSeconds float64) {
	m.RPCTotal.WithLabelValues(method, code).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordAnalysis records an analysis request outcome.
func (m *Metrics) RecordAnalysis(outcome string, latencySeconds float64) {
	m.AnalysisTotal.WithLabelValues(outcome).Inc()
	m.AnalysisLatency.Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordPipelineRun records the outcome of one CLI invocation.
func (m *Metrics) RecordPipelineRun(outcome string) {
	m.PipelineRuns.WithLabelValues(outcome).Inc()
}

// RecordOutput records bytes written to an output file.
func (m *Metrics) RecordOutput(kind string, bytes int) {
	m.OutputBytes.WithLabelValues(kind).Add(float64(bytes))
}

// WriteTextfile writes the registry in Prometheus exposition format to path.
// An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
