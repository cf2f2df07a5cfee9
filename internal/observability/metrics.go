package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for one monitoring session.
//
// Tracked:
//   - Connection lifecycle (state gauge, connect/disconnect counters)
//   - Inbound events by name
//   - Live collection sizes (online members, notifications, worker locations)
//   - Attendance poll outcomes
type Metrics struct {
	// ConnectionState is 1 while the persistent connection is up, 0 otherwise.
	ConnectionState prometheus.Gauge

	// ConnectCounter counts successful connection establishments.
	ConnectCounter prometheus.Counter

	// DisconnectCounter counts disconnects by kind.
	// Labels: kind (deliberate|network)
	DisconnectCounter *prometheus.CounterVec

	// EventCounter counts inbound events by event name.
	// Labels: event
	EventCounter *prometheus.CounterVec

	// DroppedEmitCounter counts outbound emissions dropped while disconnected.
	// Labels: event
	DroppedEmitCounter *prometheus.CounterVec

	// OnlineMembers tracks the size of the presence set.
	OnlineMembers prometheus.Gauge

	// NotificationBadge tracks the current notification count.
	NotificationBadge prometheus.Gauge

	// WorkerLocations tracks the number of live worker location entries.
	WorkerLocations prometheus.Gauge

	// SweepRemovals counts geo entries removed by the staleness sweep.
	// Labels: reason (stale|unparsable)
	SweepRemovals *prometheus.CounterVec

	// PollCounter counts attendance poll cycles.
	// Labels: status (success|error)
	PollCounter *prometheus.CounterVec

	// PollDuration measures attendance poll latency in seconds.
	// Buckets: 0.01s .. 5s
	PollDuration prometheus.Histogram
}

// NewMetrics creates and registers all session metrics with the default
// Prometheus registry. Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(nil)
}

// NewMetricsWith registers the metrics with the given registerer, or the
// default registry when reg is nil. Tests pass their own registry so repeated
// construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crewsight_connection_state",
			Help: "1 while the monitoring connection is established, 0 otherwise",
		}),
		ConnectCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "crewsight_connects_total",
			Help: "Successful monitoring connection establishments",
		}),
		DisconnectCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsight_disconnects_total",
				Help: "Disconnects by kind",
			},
			[]string{"kind"},
		),
		EventCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsight_events_total",
				Help: "Inbound events by event name",
			},
			[]string{"event"},
		),
		DroppedEmitCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsight_dropped_emits_total",
				Help: "Outbound emissions dropped while disconnected",
			},
			[]string{"event"},
		),
		OnlineMembers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crewsight_online_members",
			Help: "Current size of the presence set",
		}),
		NotificationBadge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crewsight_notification_badge",
			Help: "Current notification count",
		}),
		WorkerLocations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crewsight_worker_locations",
			Help: "Live worker location entries",
		}),
		SweepRemovals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsight_sweep_removals_total",
				Help: "Geo entries removed by the staleness sweep",
			},
			[]string{"reason"},
		),
		PollCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewsight_polls_total",
				Help: "Attendance poll cycles by status",
			},
			[]string{"status"},
		),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crewsight_poll_duration_seconds",
			Help:    "Attendance poll latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// Connected records a successful connection.
func (m *Metrics) Connected() {
	if m == nil {
		return
	}
	m.ConnectionState.Set(1)
	m.ConnectCounter.Inc()
}

// Disconnected records a disconnect of the given kind ("deliberate" or "network").
func (m *Metrics) Disconnected(kind string) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(0)
	m.DisconnectCounter.WithLabelValues(kind).Inc()
}

// EventReceived records one inbound event.
func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.EventCounter.WithLabelValues(event).Inc()
}

// EmitDropped records an outbound emission dropped while disconnected.
func (m *Metrics) EmitDropped(event string) {
	if m == nil {
		return
	}
	m.DroppedEmitCounter.WithLabelValues(event).Inc()
}

// RecordPoll records one attendance poll cycle.
func (m *Metrics) RecordPoll(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PollCounter.WithLabelValues(status).Inc()
	m.PollDuration.Observe(durationSeconds)
}

// SetOnlineMembers updates the presence gauge.
func (m *Metrics) SetOnlineMembers(n int) {
	if m == nil {
		return
	}
	m.OnlineMembers.Set(float64(n))
}

// SetNotificationBadge updates the badge gauge.
func (m *Metrics) SetNotificationBadge(n int) {
	if m == nil {
		return
	}
	m.NotificationBadge.Set(float64(n))
}

// SetWorkerLocations updates the geo map gauge.
func (m *Metrics) SetWorkerLocations(n int) {
	if m == nil {
		return
	}
	m.WorkerLocations.Set(float64(n))
}

// SweepRemoved records one geo entry removal ("stale" or "unparsable").
func (m *Metrics) SweepRemoved(reason string) {
	if m == nil {
		return
	}
	m.SweepRemovals.WithLabelValues(reason).Inc()
}
