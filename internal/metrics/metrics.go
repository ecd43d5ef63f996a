// Package metrics holds the Prometheus collectors of the telemetry service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the service updates. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SamplesIngested  *prometheus.CounterVec
	UploadsRejected  *prometheus.CounterVec
	RelayCommands    *prometheus.CounterVec
	RelayLatency     *prometheus.HistogramVec
	PublishFailures  *prometheus.CounterVec
	SamplesExpired   prometheus.Counter
	WebsocketClients prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_samples_ingested_total",
			Help: "Samples appended to the store, by device class.",
		}, []string{"class"}),
		UploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_uploads_rejected_total",
			Help: "Upload requests that appended nothing, by reason.",
		}, []string{"reason"}),
		RelayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_relay_commands_total",
			Help: "Outbound relay commands, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		RelayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telemetry_relay_command_seconds",
			Help:    "Duration of outbound relay commands.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 11),
		}, []string{"endpoint"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_publish_failures_total",
			Help: "Failed live-state broadcasts, by topic.",
		}, []string{"topic"}),
		SamplesExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_samples_expired_total",
			Help: "Samples deleted by the retention janitor.",
		}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "telemetry_websocket_clients",
			Help: "Dashboards currently connected to the live feed.",
		}),
	}

	reg.MustRegister(
		m.SamplesIngested,
		m.UploadsRejected,
		m.RelayCommands,
		m.RelayLatency,
		m.PublishFailures,
		m.SamplesExpired,
		m.WebsocketClients,
	)
	return m
}

func (m *Metrics) IngestedSample(class string) {
	if m != nil {
		m.SamplesIngested.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) RejectedUpload(reason string) {
	if m != nil {
		m.UploadsRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) RelayCommand(endpoint string, ok bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.RelayCommands.WithLabelValues(endpoint, outcome).Inc()
	m.RelayLatency.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) PublishFailed(topic string) {
	if m != nil {
		m.PublishFailures.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) Expired(n int64) {
	if m != nil && n > 0 {
		m.SamplesExpired.Add(float64(n))
	}
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.WebsocketClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.WebsocketClients.Dec()
	}
}
