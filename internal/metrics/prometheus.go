package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the OSC relay service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// UDP listener metrics
	PacketsReceived prometheus.Counter
	BytesReceived   prometheus.Counter
	SocketErrors    prometheus.Counter

	// Decoder metrics
	MessagesDecoded prometheus.Counter
	DecodeErrors    prometheus.Counter

	// Subscriber metrics
	Subscribers         prometheus.Gauge
	SubscriberAccepted  prometheus.Counter
	SubscriberRejected  *prometheus.CounterVec
	SubscriberSendFails *prometheus.CounterVec

	// Fan-out metrics
	Broadcasts        prometheus.Counter
	Deliveries        prometheus.Counter
	BroadcastDuration prometheus.Histogram
	PayloadSize       prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "osc_relay_packets_received_total",
			Help: "Total number of UDP datagrams received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "osc_relay_bytes_received_total",
			Help: "Total number of UDP payload bytes received",
		}),
		SocketErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "osc_relay_socket_errors_total",
			Help: "Total number of UDP socket read errors",
		}),

		MessagesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "osc_relay_messages_decoded_total",
			Help: "Total number of OSC messages successfully decoded",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "osc_relay_decode_errors_total",
			Help: "Total number of datagrams rejected by the decoder",
		}),

		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "osc_relay_subscribers",
			Help: "Current number of registered stream subscribers",
		}),
		SubscriberAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "osc_relay_subscribers_accepted_total",
			Help: "Total number of stream subscribers accepted",
		}),
		SubscriberRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osc_relay_subscribers_rejected_total",
			Help: "Total number of stream connections rejected",
		}, []string{"reason"}),
		SubscriberSendFails: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osc_relay_send_failures_total",
			Help: "Total number of failed sends that removed a subscriber",
		}, []string{"reason"}),

		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "osc_relay_broadcasts_total",
			Help: "Total number of messages fanned out",
		}),
		Deliveries: factory.NewCounter(prometheus.CounterOpts{
			Name: "osc_relay_deliveries_total",
			Help: "Total number of payloads queued to subscribers",
		}),
		BroadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "osc_relay_broadcast_duration_seconds",
			Help:    "Time spent fanning out one message",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
		}),
		PayloadSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "osc_relay_payload_size_bytes",
			Help:    "Size of serialized payloads sent to subscribers",
			Buckets: prometheus.ExponentialBuckets(16, 2, 12), // 16B to 32KB
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osc_relay_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "osc_relay_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "osc_relay_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordPacketReceived records one received datagram of the given size
func (m *Metrics) RecordPacketReceived(size int) {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
	m.BytesReceived.Add(float64(size))
}

// RecordSocketError increments the socket errors counter
func (m *Metrics) RecordSocketError() {
	if m == nil {
		return
	}
	m.SocketErrors.Inc()
}

// RecordMessageDecoded increments the decoded messages counter
func (m *Metrics) RecordMessageDecoded() {
	if m == nil {
		return
	}
	m.MessagesDecoded.Inc()
}

// RecordDecodeError increments the decode errors counter
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// SetSubscribers sets the current number of subscribers
func (m *Metrics) SetSubscribers(count int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(count))
}

// RecordSubscriberAccepted increments the accepted subscribers counter
func (m *Metrics) RecordSubscriberAccepted() {
	if m == nil {
		return
	}
	m.SubscriberAccepted.Inc()
}

// RecordSubscriberRejected records a refused stream connection
func (m *Metrics) RecordSubscriberRejected(reason string) {
	if m == nil {
		return
	}
	m.SubscriberRejected.WithLabelValues(reason).Inc()
}

// RecordSendFailure records a subscriber removed after a failed send
func (m *Metrics) RecordSendFailure(reason string) {
	if m == nil {
		return
	}
	m.SubscriberSendFails.WithLabelValues(reason).Inc()
}

// RecordBroadcast records one fan-out of a payload to delivered subscribers
func (m *Metrics) RecordBroadcast(delivered, payloadSize int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
	m.Deliveries.Add(float64(delivered))
	m.PayloadSize.Observe(float64(payloadSize))
	m.BroadcastDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
