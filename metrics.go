package piper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Roles used as metric label values.
const (
	roleSender   = "sender"
	roleReceiver = "receiver"
)

// Metrics holds the Prometheus collectors updated by managers and endpoints.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Traffic
	MessagesSent     prometheus.Counter
	MessagesReceived prometheus.Counter
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	SendDuration     prometheus.Histogram

	// Failures, labelled by role and status
	Errors *prometheus.CounterVec

	// Endpoints whose background goroutine is running, labelled by role
	OpenEndpoints *prometheus.GaugeVec

	// Pipe lifecycle
	PipesCreated prometheus.Counter
	PipesRemoved prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "piper_messages_sent_total",
			Help: "Total number of messages fully written to a pipe",
		}),
		MessagesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "piper_messages_received_total",
			Help: "Total number of messages decoded from a pipe",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "piper_payload_bytes_sent_total",
			Help: "Total payload bytes written, excluding headers",
		}),
		BytesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "piper_payload_bytes_received_total",
			Help: "Total payload bytes decoded, excluding headers",
		}),
		SendDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "piper_send_duration_seconds",
			Help:    "Time a Send call blocked until the writer finished",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "piper_errors_total",
			Help: "Total number of endpoint failures",
		}, []string{"role", "status"}),
		OpenEndpoints: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "piper_open_endpoints",
			Help: "Number of endpoints with a running background goroutine",
		}, []string{"role"}),
		PipesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "piper_pipes_created_total",
			Help: "Total number of FIFOs created by managers",
		}),
		PipesRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "piper_pipes_removed_total",
			Help: "Total number of FIFOs removed by managers",
		}),
	}
}

func (m *Metrics) recordSent(n int, d time.Duration) {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
	m.BytesSent.Add(float64(n))
	m.SendDuration.Observe(d.Seconds())
}

func (m *Metrics) recordReceived(n int) {
	if m == nil {
		return
	}
	m.MessagesReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

func (m *Metrics) recordError(role string, s Status) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(role, s.String()).Inc()
}

func (m *Metrics) endpointOpened(role string) {
	if m == nil {
		return
	}
	m.OpenEndpoints.WithLabelValues(role).Inc()
}

func (m *Metrics) endpointClosed(role string) {
	if m == nil {
		return
	}
	m.OpenEndpoints.WithLabelValues(role).Dec()
}

func (m *Metrics) pipeCreated() {
	if m == nil {
		return
	}
	m.PipesCreated.Inc()
}

func (m *Metrics) pipeRemoved() {
	if m == nil {
		return
	}
	m.PipesRemoved.Inc()
}
