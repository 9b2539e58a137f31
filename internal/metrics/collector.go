package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aegisshield/pattern-engine/internal/graph"
)

// Collector exports engine metrics to Prometheus.
type Collector struct {
	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Case analysis metrics
	casesTotal     *prometheus.CounterVec
	caseDuration   prometheus.Histogram
	analysesActive prometheus.Gauge

	// Detection metrics
	patternsDetected *prometheus.CounterVec
	detectorDuration *prometheus.HistogramVec

	// Graph metrics
	graphEntities      prometheus.Histogram
	graphRelationships prometheus.Histogram

	// Kafka metrics
	kafkaMessagesProduced *prometheus.CounterVec
	kafkaMessagesConsumed *prometheus.CounterVec
	kafkaErrors           *prometheus.CounterVec
}

// NewCollector registers the engine metrics with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pattern_engine_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		casesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_cases_total",
				Help: "Total number of case analyses",
			},
			[]string{"status"},
		),
		caseDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pattern_engine_case_duration_seconds",
				Help:    "Case analysis duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		analysesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "pattern_engine_analyses_active",
				Help: "Number of case analyses currently running",
			},
		),
		patternsDetected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_patterns_detected_total",
				Help: "Total number of detected patterns",
			},
			[]string{"type", "severity"},
		),
		detectorDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pattern_engine_detector_duration_seconds",
				Help:    "Per-detector scan duration in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"detector"},
		),
		graphEntities: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pattern_engine_graph_entities",
				Help:    "Entity count of analyzed graphs",
				Buckets: prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
		graphRelationships: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pattern_engine_graph_relationships",
				Help:    "Relationship count of analyzed graphs",
				Buckets: prometheus.ExponentialBuckets(10, 4, 8),
			},
		),
		kafkaMessagesProduced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_kafka_messages_produced_total",
				Help: "Total number of Kafka messages produced",
			},
			[]string{"topic"},
		),
		kafkaMessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_kafka_messages_consumed_total",
				Help: "Total number of Kafka messages consumed",
			},
			[]string{"topic"},
		),
		kafkaErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pattern_engine_kafka_errors_total",
				Help: "Total number of Kafka produce/consume errors",
			},
			[]string{"operation"},
		),
	}
}

// RecordRequest records one handled HTTP request.
func (c *Collector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// CaseStarted marks a case analysis as running.
func (c *Collector) CaseStarted() {
	c.analysesActive.Inc()
}

// CaseCompleted records the outcome of a case analysis.
func (c *Collector) CaseCompleted(status string, duration time.Duration) {
	c.analysesActive.Dec()
	c.casesTotal.WithLabelValues(status).Inc()
	c.caseDuration.Observe(duration.Seconds())
}

// RecordGraphSize records the dimensions of an analyzed graph.
func (c *Collector) RecordGraphSize(entities, relationships int) {
	c.graphEntities.Observe(float64(entities))
	c.graphRelationships.Observe(float64(relationships))
}

// RecordPattern counts one detected pattern.
func (c *Collector) RecordPattern(p *graph.Pattern) {
	c.patternsDetected.WithLabelValues(string(p.Type), string(p.Severity)).Inc()
}

// RecordDetectorDuration records one detector scan.
func (c *Collector) RecordDetectorDuration(detector string, duration time.Duration) {
	c.detectorDuration.WithLabelValues(detector).Observe(duration.Seconds())
}

// RecordKafkaProduced counts one produced message.
func (c *Collector) RecordKafkaProduced(topic string) {
	c.kafkaMessagesProduced.WithLabelValues(topic).Inc()
}

// RecordKafkaConsumed counts one consumed message.
func (c *Collector) RecordKafkaConsumed(topic string) {
	c.kafkaMessagesConsumed.WithLabelValues(topic).Inc()
}

// RecordKafkaError counts one produce/consume failure.
func (c *Collector) RecordKafkaError(operation string) {
	c.kafkaErrors.WithLabelValues(operation).Inc()
}

// Timer measures a duration from creation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func (c *Collector) NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
