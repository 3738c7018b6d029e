// Package metrics exposes prometheus collectors for the signaling server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections     prometheus.Gauge
	registered      prometheus.Gauge
	rooms           prometheus.Gauge
	callsStarted    prometheus.Counter
	callOutcomes    *prometheus.CounterVec
	relayed         *prometheus.CounterVec
	droppedEvents   prometheus.Counter
	persistRetries  prometheus.Counter
	persistFailures *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wirecall_connections",
			Help: "Live signaling connections",
		}),
		registered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wirecall_registered_identities",
			Help: "Identities currently bound to a live connection",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wirecall_rooms",
			Help: "Rooms with at least one member",
		}),
		callsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "wirecall_calls_initiated_total",
			Help: "Call invitations created",
		}),
		callOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wirecall_call_transitions_total",
			Help: "Call state transitions by resulting state",
		}, []string{"state"}),
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wirecall_relayed_messages_total",
			Help: "Messages relayed between room members",
		}, []string{"type"}),
		droppedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "wirecall_dropped_events_total",
			Help: "Events dropped because a connection could not keep up",
		}),
		persistRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "wirecall_persist_retries_total",
			Help: "Call record writes that were retried",
		}),
		persistFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wirecall_persist_failures_total",
			Help: "Call record writes abandoned after all retries",
		}, []string{"op"}),
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) SetRegistered(n int) {
	if m != nil {
		m.registered.Set(float64(n))
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) CallInitiated() {
	if m != nil {
		m.callsStarted.Inc()
	}
}

func (m *Metrics) CallTransition(state string) {
	if m != nil {
		m.callOutcomes.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) Relayed(msgType string) {
	if m != nil {
		m.relayed.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.droppedEvents.Inc()
	}
}

func (m *Metrics) PersistRetried() {
	if m != nil {
		m.persistRetries.Inc()
	}
}

func (m *Metrics) PersistFailed(op string) {
	if m != nil {
		m.persistFailures.WithLabelValues(op).Inc()
	}
}
