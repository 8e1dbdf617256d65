package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	messageOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_message_operations_total",
			Help: "Message pipeline operations by outcome.",
		},
		[]string{"op", "outcome"},
	)
	readReceiptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_read_receipts_total",
			Help: "Read receipts by outcome.",
		},
		[]string{"outcome"},
	)
	registryPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_registry_publish_total",
			Help: "Frames published to the group registry.",
		},
		[]string{"mode"},
	)
	registryDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_registry_dropped_deliveries_total",
			Help: "Deliveries dropped because the session was closed or its queue was full.",
		},
	)
	publishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_publish_errors_total",
			Help: "Publishes that failed after a successful commit.",
		},
	)
	typingThrottledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_typing_throttled_total",
			Help: "Typing announcements dropped by the per-session interval.",
		},
	)
	presenceOnlineUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_presence_online_users",
			Help: "Users that came online through this process and have not gone offline.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messageOpsTotal,
		readReceiptsTotal,
		registryPublishTotal,
		registryDroppedTotal,
		publishErrorsTotal,
		typingThrottledTotal,
		presenceOnlineUsers,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler exposes the default registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncMessageOp(op, outcome string) {
	messageOpsTotal.WithLabelValues(op, outcome).Inc()
}

func IncReadReceipt(outcome string) {
	readReceiptsTotal.WithLabelValues(outcome).Inc()
}

func IncRegistryPublish(mode string) {
	registryPublishTotal.WithLabelValues(mode).Inc()
}

func IncRegistryDropped() {
	registryDroppedTotal.Inc()
}

func IncPublishError() {
	publishErrorsTotal.Inc()
}

func IncTypingThrottled() {
	typingThrottledTotal.Inc()
}

func IncPresenceOnline() {
	presenceOnlineUsers.Inc()
}

func DecPresenceOnline() {
	presenceOnlineUsers.Dec()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
