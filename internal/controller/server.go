package controller

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dreamware/vidcdn/internal/cluster"
	"github.com/dreamware/vidcdn/internal/metrics"
	"github.com/dreamware/vidcdn/internal/stream"
)

// Server is the client-facing HTTP surface of the controller.
type Server struct {
	router  *Router
	client  *cluster.Client
	origin  cluster.NodeInfo
	monitor *HealthMonitor // nil when health monitoring is disabled
	metrics *metrics.ControllerMetrics
	logger  zerolog.Logger
}

// NewServer creates the controller's HTTP server. monitor may be nil.
func NewServer(router *Router, client *cluster.Client, monitor *HealthMonitor,
	m *metrics.ControllerMetrics, logger zerolog.Logger) *Server {
	return &Server{
		router:  router,
		client:  client,
		origin:  router.origin,
		monitor: monitor,
		metrics: m,
		logger:  logger.With().Str("component", "controller").Logger(),
	}
}

// Register adds the controller routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+cluster.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /replicas", s.handleReplicas)
	mux.HandleFunc("GET /replicas/{id}", s.handleReplica)
	mux.HandleFunc("GET "+cluster.ListPath, s.handleList)
	mux.HandleFunc("GET /{name}", s.handleObject)
}

// handleObject serves an object from a replica or, failing that, the origin.
//
// Endpoint: GET /{name}
//
// Response:
//   - 200 OK: object bytes relayed from the chosen server
//   - 500 Internal Server Error: {"error": "<name> not available on any server"}
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	src, err := s.router.Locate(r.Context(), name)
	if err != nil {
		s.metrics.RequestsTotal.WithLabelValues("none").Inc()
		if !errors.Is(err, ErrExhausted) {
			s.logger.Error().Err(err).Str("object", name).Msg("locate object")
		}
		cluster.WriteJSON(w, http.StatusInternalServerError, cluster.ErrorResponse{
			Error: name + " not available on any server",
		})
		return
	}
	defer func() { _ = src.Body.Close() }()

	s.metrics.RequestsTotal.WithLabelValues(string(src.Kind)).Inc()
	w.Header().Set("Content-Type", cluster.ContentTypeVideo)
	w.WriteHeader(http.StatusOK)

	n, err := stream.Copy(r.Context(), w, src.Body)
	s.metrics.BytesRelayed.Add(float64(n))

	logger := s.logger.With().Str("object", name).Str("source", src.Node.ID).Int64("bytes", n).Logger()
	var upstream *stream.UpstreamError
	switch {
	case errors.Is(err, stream.ErrClientGone):
		logger.Debug().Msg("client disconnected during relay")
	case errors.As(err, &upstream):
		// Headers are already sent; the client sees a short body.
		logger.Warn().Err(err).Msg("upstream failed during relay")
	default:
		logger.Debug().Msg("relay complete")
	}
}

// handleList proxies the origin's catalog.
//
// Endpoint: GET /videos
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	names, err := s.client.ListObjects(r.Context(), s.origin)
	if err != nil {
		s.logger.Warn().Err(err).Msg("list origin catalog")
		cluster.WriteJSON(w, http.StatusBadGateway, cluster.ErrorResponse{Error: "catalog unavailable"})
		return
	}
	if names == nil {
		names = []string{}
	}
	w.Header().Set("Cache-Control", cluster.CacheControlPublic)
	cluster.WriteJSON(w, http.StatusOK, names)
}

// ReplicaStatus is one entry of the /replicas report.
type ReplicaStatus struct {
	cluster.NodeInfo
	Health *ReplicaHealth `json:"health,omitempty"`
}

// handleReplicas reports the replica set in dispatch order, with health
// details when monitoring is enabled.
//
// Endpoint: GET /replicas
func (s *Server) handleReplicas(w http.ResponseWriter, _ *http.Request) {
	var health map[string]*ReplicaHealth
	if s.monitor != nil {
		health = s.monitor.GetAllNodeHealth()
	}

	replicas := s.router.Replicas()
	out := make([]ReplicaStatus, 0, replicas.Len())
	for _, node := range replicas {
		out = append(out, ReplicaStatus{NodeInfo: node, Health: health[node.ID]})
	}
	cluster.WriteJSON(w, http.StatusOK, out)
}

// handleReplica reports a single replica.
//
// Endpoint: GET /replicas/{id}
//
// Response:
//   - 200 OK: ReplicaStatus
//   - 404 Not Found: {"error": "unknown replica"}
func (s *Server) handleReplica(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	replicas := s.router.Replicas()
	i := replicas.IndexOf(id)
	if i < 0 {
		cluster.WriteJSON(w, http.StatusNotFound, cluster.ErrorResponse{Error: "unknown replica"})
		return
	}

	st := ReplicaStatus{NodeInfo: replicas[i]}
	if s.monitor != nil {
		st.Health = s.monitor.GetNodeHealth(id)
	}
	cluster.WriteJSON(w, http.StatusOK, st)
}
