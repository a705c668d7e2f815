package realtime

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the hub's prometheus instruments. A nil *Metrics records nothing.
type Metrics struct {
	connections prometheus.Gauge
	channels    prometheus.Gauge
	joins       prometheus.Counter
	published   *prometheus.CounterVec
	delivered   prometheus.Counter
	dropped     prometheus.Counter
}

// NewMetrics creates and registers the realtime instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Live realtime connections.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tally",
			Subsystem: "realtime",
			Name:      "channels",
			Help:      "Group channels with at least one member.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "realtime",
			Name:      "channel_joins_total",
			Help:      "Connections added to a group channel.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "realtime",
			Name:      "events_published_total",
			Help:      "Events published to group channels, by event name.",
		}, []string{"event"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "realtime",
			Name:      "deliveries_total",
			Help:      "Envelopes enqueued to connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "realtime",
			Name:      "deliveries_dropped_total",
			Help:      "Envelopes dropped because a connection queue was full or closing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.channels, m.joins, m.published, m.delivered, m.dropped)
	}
	return m
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) setChannels(n int) {
	if m != nil {
		m.channels.Set(float64(n))
	}
}

func (m *Metrics) joined() {
	if m != nil {
		m.joins.Inc()
	}
}

func (m *Metrics) publishedEvent(event string, delivered, dropped int) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(event).Inc()
	m.delivered.Add(float64(delivered))
	m.dropped.Add(float64(dropped))
}
