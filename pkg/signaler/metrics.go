package signaler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rooms    prometheus.Gauge
	Sessions prometheus.Gauge
	Joins    prometheus.Counter
	Leaves   prometheus.Counter
	Relayed  *prometheus.CounterVec
	Dropped  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parlor", Name: "rooms_active", Help: "Number of rooms with at least one member.",
		}),
		Sessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "parlor", Name: "sessions_active", Help: "Number of live websocket sessions.",
		}),
		Joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parlor", Name: "room_joins_total", Help: "Total room joins.",
		}),
		Leaves: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parlor", Name: "room_leaves_total", Help: "Total room leaves, explicit and implicit.",
		}),
		Relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parlor", Name: "relayed_messages_total", Help: "Signaling messages forwarded by type.",
		}, []string{"type"}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "parlor", Name: "dropped_messages_total", Help: "Signaling messages dropped for missing rooms or members.",
		}),
	}
}
