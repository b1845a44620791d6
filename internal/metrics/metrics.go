// Package metrics provides Prometheus metrics for vidcdn nodes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values shared by the counters below.
const (
	ResultOK          = "ok"
	ResultNotFound    = "not_found"
	ResultError       = "error"
	ResultUnavailable = "unavailable"
)

// NewRegistry returns a registry preloaded with Go runtime and process
// collectors. Each node owns one so tests can build nodes side by side.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler exposes reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ControllerMetrics holds the routing controller's metrics.
type ControllerMetrics struct {
	RequestsTotal    *prometheus.CounterVec // vidcdn_controller_requests_total{source}
	DispatchAttempts *prometheus.CounterVec // vidcdn_controller_dispatch_attempts_total{replica,result}
	BytesRelayed     prometheus.Counter     // vidcdn_controller_bytes_relayed_total
	ReplicaUp        *prometheus.GaugeVec   // vidcdn_controller_replica_up{replica}
}

// NewControllerMetrics registers the controller metrics with reg.
func NewControllerMetrics(reg prometheus.Registerer) *ControllerMetrics {
	return &ControllerMetrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vidcdn_controller_requests_total",
			Help: "Client requests by serving source (replica, origin, none)",
		}, []string{"source"}),

		DispatchAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vidcdn_controller_dispatch_attempts_total",
			Help: "Replica fetch attempts by replica and result",
		}, []string{"replica", "result"}),

		BytesRelayed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vidcdn_controller_bytes_relayed_total",
			Help: "Total object bytes relayed to clients",
		}),

		ReplicaUp: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "vidcdn_controller_replica_up",
			Help: "1 if the replica's last health checks passed, 0 otherwise",
		}, []string{"replica"}),
	}
}

// OriginMetrics holds the origin node's metrics.
type OriginMetrics struct {
	RequestsTotal     *prometheus.CounterVec // vidcdn_origin_requests_total{status}
	BroadcastsTotal   *prometheus.CounterVec // vidcdn_origin_broadcasts_total{outcome}
	ReplicationsTotal *prometheus.CounterVec // vidcdn_origin_replications_total{replica,result}
	BytesServed       prometheus.Counter     // vidcdn_origin_bytes_served_total
}

// Broadcast outcome label values.
const (
	BroadcastSkipped = "skipped" // another broadcast for the object is in flight
	BroadcastCached  = "cached"  // a replica already holds the object
	BroadcastPushed  = "pushed"  // pushes were issued to every replica
	BroadcastFailed  = "failed"  // the local object could not be read
)

// NewOriginMetrics registers the origin metrics with reg.
func NewOriginMetrics(reg prometheus.Registerer) *OriginMetrics {
	return &OriginMetrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vidcdn_origin_requests_total",
			Help: "Object requests by response status",
		}, []string{"status"}),

		BroadcastsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vidcdn_origin_broadcasts_total",
			Help: "Replication broadcasts by outcome",
		}, []string{"outcome"}),

		ReplicationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vidcdn_origin_replications_total",
			Help: "Replicate pushes by replica and result",
		}, []string{"replica", "result"}),

		BytesServed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vidcdn_origin_bytes_served_total",
			Help: "Total object bytes served to clients",
		}),
	}
}

// ReplicaMetrics holds a replica node's metrics.
type ReplicaMetrics struct {
	RequestsTotal   *prometheus.CounterVec // vidcdn_replica_requests_total{op,status}
	ReplicatedBytes prometheus.Counter     // vidcdn_replica_replicated_bytes_total
	BytesServed     prometheus.Counter     // vidcdn_replica_bytes_served_total
}

// NewReplicaMetrics registers the replica metrics with reg.
func NewReplicaMetrics(reg prometheus.Registerer) *ReplicaMetrics {
	return &ReplicaMetrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "vidcdn_replica_requests_total",
			Help: "Requests by operation (head, get, replicate) and status",
		}, []string{"op", "status"}),

		ReplicatedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vidcdn_replica_replicated_bytes_total",
			Help: "Total bytes stored from replicate pushes",
		}),

		BytesServed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "vidcdn_replica_bytes_served_total",
			Help: "Total object bytes served",
		}),
	}
}
