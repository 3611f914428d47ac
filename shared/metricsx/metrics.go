package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Events published by topic.",
		},
		[]string{"topic"},
	)
	eventsConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_consumed_total",
			Help: "Events consumed by topic and outcome.",
		},
		[]string{"topic", "outcome"},
	)
	eventsRedelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_redelivered_total",
			Help: "In-place redelivery attempts by topic.",
		},
		[]string{"topic"},
	)
	eventsDeadLettered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dead_lettered_total",
			Help: "Events moved to the dead-letter topic.",
		},
		[]string{"topic", "reason"},
	)
	eventsDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_duplicate_total",
			Help: "Events skipped as duplicates.",
		},
		[]string{"stage"},
	)
	agentBufferDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_buffer_drops_total",
			Help: "Buffered events dropped because the agent buffer was full.",
		},
	)
	kafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag by topic.",
		},
		[]string{"topic", "group"},
	)
	applyLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "event_apply_duration_seconds",
			Help:    "Latency of applying one event to the store.",
			Buckets: prometheus.DefBuckets,
		},
	)
	influxWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "influx_write_failures_total",
			Help: "Total InfluxDB write failures.",
		},
	)
	asynqQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "asynq_queue_depth",
			Help: "Asynq queue depth by queue.",
		},
		[]string{"queue"},
	)
	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_events",
			Help: "Outbox rows waiting to be dispatched.",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		httpRequests, httpLatency,
		eventsPublished, eventsConsumed, eventsRedelivered, eventsDeadLettered, eventsDuplicate,
		agentBufferDrops, kafkaConsumerLag, applyLatency,
		influxWriteFailures, asynqQueueDepth, outboxPending,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncEventPublished(topic string) {
	eventsPublished.WithLabelValues(topic).Inc()
}

// outcome is one of: applied, duplicate, rejected, forwarded.
func IncEventConsumed(topic string, outcome string) {
	eventsConsumed.WithLabelValues(topic, outcome).Inc()
}

func IncEventRedelivered(topic string) {
	eventsRedelivered.WithLabelValues(topic).Inc()
}

func IncEventDeadLettered(topic string, reason string) {
	eventsDeadLettered.WithLabelValues(topic, reason).Inc()
}

func IncEventDuplicate(stage string) {
	eventsDuplicate.WithLabelValues(stage).Inc()
}

func IncAgentBufferDrop() {
	agentBufferDrops.Inc()
}

func SetKafkaLag(topic string, group string, lag int64) {
	kafkaConsumerLag.WithLabelValues(topic, group).Set(float64(lag))
}

func ObserveApplyLatency(d time.Duration) {
	applyLatency.Observe(d.Seconds())
}

func IncInfluxWriteFailure() {
	influxWriteFailures.Inc()
}

func SetAsynqQueueDepth(queue string, depth int) {
	asynqQueueDepth.WithLabelValues(queue).Set(float64(depth))
}

func SetOutboxPending(n int) {
	outboxPending.Set(float64(n))
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
