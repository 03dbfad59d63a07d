// Package metrics exposes Prometheus collectors for the relay.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dkeye/Sketch/internal/core"
)

const namespace = "sketch"

// Result labels for ops_total.
const (
	ResultApplied  = "applied"
	ResultRejected = "rejected"
)

type Metrics struct {
	ops         *prometheus.CounterVec
	framesSent  prometheus.Counter
	dropped     prometheus.Counter
	kicked      prometheus.Counter
	connections prometheus.Gauge
	rooms       prometheus.Gauge
	evicted     prometheus.Counter
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_total",
			Help:      "Client events processed, by event type and result.",
		}, []string{"op", "result"}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames queued to member connections.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames refused by a full or closed connection queue.",
		}),
		kicked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "members_kicked_total",
			Help:      "Connections closed by the backpressure policy.",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Open WebSocket connections.",
		}),
		rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms",
			Help:      "Rooms held in memory.",
		}),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_evicted_total",
			Help:      "Rooms dropped by the idle sweep.",
		}),
	}
}

// ObserveOp counts one processed event. Rejections (core sentinel errors)
// are counted separately from applied events.
func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := ResultApplied
	if err != nil {
		result = ResultRejected
		if !isRejection(err) {
			result = "error"
		}
	}
	m.ops.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObservePublish(res core.PublishResult) {
	if m == nil {
		return
	}
	m.framesSent.Add(float64(res.SendTo))
	m.dropped.Add(float64(len(res.Dropped)))
}

func (m *Metrics) Kicked() {
	if m == nil {
		return
	}
	m.kicked.Inc()
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) SetRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(n))
}

func isRejection(err error) bool {
	for _, target := range []error{
		core.ErrRoomNotFound,
		core.ErrNothingToUndo,
		core.ErrNothingToRedo,
		core.ErrMissingRoomCode,
		core.ErrBadPayload,
		core.ErrRateLimited,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
