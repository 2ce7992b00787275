// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aero_webrtc_room_signaling"

// Relay drop reasons.
const (
	DropReasonTargetMissing = "target_missing"
	DropReasonQueueFull     = "queue_full"
	DropReasonRateLimited   = "rate_limited"
	DropReasonNoRoom        = "no_room"
)

// Metrics is safe for concurrent use. A nil *Metrics is a valid no-op sink so
// tests and library callers can skip wiring a registry.
type Metrics struct {
	reg *prometheus.Registry

	connections       prometheus.Gauge
	rooms             prometheus.Gauge
	messages          *prometheus.CounterVec
	relayDropped      *prometheus.CounterVec
	malformedMessages prometheus.Counter
	rejectedUpgrades  *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Registered signaling connections.",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound signaling messages by type.",
		}, []string{"type"}),
		relayDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_dropped_total",
			Help:      "Messages that were not delivered, by reason.",
		}, []string{"reason"}),
		malformedMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Inbound frames that were not valid JSON.",
		}),
		rejectedUpgrades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_upgrades_total",
			Help:      "WebSocket upgrades refused before registration.",
		}, []string{"reason"}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) IncMessage(msgType string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncRelayDropped(reason string) {
	if m == nil {
		return
	}
	m.relayDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	m.malformedMessages.Inc()
}

func (m *Metrics) IncRejectedUpgrade(reason string) {
	if m == nil {
		return
	}
	m.rejectedUpgrades.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
		})
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
