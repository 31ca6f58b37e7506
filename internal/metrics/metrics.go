package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	connectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whiteboard_connections_active",
		Help: "Number of open client connections",
	})

	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whiteboard_actions_total",
		Help: "Actions applied to room histories, by kind",
	}, []string{"kind"})

	broadcastDeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whiteboard_broadcast_deliveries_total",
		Help: "Payloads queued to members",
	})

	broadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whiteboard_broadcast_drops_total",
		Help: "Members evicted because their send buffer was full or closed",
	})

	storeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whiteboard_store_operation_duration_seconds",
		Help:    "Latency of history store operations",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"backend", "op"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whiteboard_store_errors_total",
		Help: "History store operations that failed",
	}, []string{"backend", "op"})

	roomsPersisted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whiteboard_rooms_persisted",
		Help: "Rooms with a stored history, as of the last sample",
	})

	snapshotsPersisted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whiteboard_snapshots_persisted",
		Help: "Snapshot references held across all undo and redo stacks, as of the last sample",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}

func ConnectionOpened() { connectionsActive.Inc() }
func ConnectionClosed() { connectionsActive.Dec() }

// ActionApplied counts one action. Pass-through kinds are client supplied,
// so they share a single label value.
func ActionApplied(kind string, mutating bool) {
	if !mutating {
		kind = "passthrough"
	}
	actionsTotal.WithLabelValues(kind).Inc()
}

// StoredTotals records the latest store-wide counts
func StoredTotals(rooms, snapshots int) {
	roomsPersisted.Set(float64(rooms))
	snapshotsPersisted.Set(float64(snapshots))
}

func Delivered(n int) { broadcastDeliveries.Add(float64(n)) }
func Dropped(n int)   { broadcastDrops.Add(float64(n)) }

// ObserveStore starts a latency timer for a store call.
// Call the returned func with the call's error when it finishes.
func ObserveStore(backend, op string) func(error) {
	timer := prometheus.NewTimer(storeDuration.WithLabelValues(backend, op))
	return func(err error) {
		timer.ObserveDuration()
		if err != nil {
			storeErrors.WithLabelValues(backend, op).Inc()
		}
	}
}
