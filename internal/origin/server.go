// Package origin implements the authoritative node. It serves every object
// it holds and, as a side effect of serving, replicates objects to replicas
// that lack them.
package origin

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/vidcdn/internal/cluster"
	"github.com/dreamware/vidcdn/internal/metrics"
	"github.com/dreamware/vidcdn/internal/storage"
	"github.com/dreamware/vidcdn/internal/stream"
)

// Server serves the origin's store and drives replication.
type Server struct {
	store       storage.BlobStore
	broadcaster *Broadcaster
	extensions  []string
	metrics     *metrics.OriginMetrics
	logger      zerolog.Logger
}

// NewServer creates an origin server. Extensions filters the catalog
// listing, compared case-insensitively; empty means ".mp4".
func NewServer(store storage.BlobStore, b *Broadcaster, extensions []string, m *metrics.OriginMetrics, logger zerolog.Logger) *Server {
	if len(extensions) == 0 {
		extensions = []string{".mp4"}
	}
	lowered := make([]string, len(extensions))
	for i, ext := range extensions {
		lowered[i] = strings.ToLower(ext)
	}
	return &Server{
		store:       store,
		broadcaster: b,
		extensions:  lowered,
		metrics:     m,
		logger:      logger.With().Str("component", "origin").Logger(),
	}
}

// Register adds the origin routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+cluster.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET "+cluster.ListPath, s.handleList)
	mux.HandleFunc("GET /{name}", s.handleObject)
}

func (s *Server) record(status int) {
	s.metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// handleObject streams an object and kicks off its replication.
//
// Endpoint: GET /{name}
//
// Response:
//   - 200 OK: object bytes as video/mp4, publicly cacheable
//   - 404 Not Found: no such object
//   - 500 Internal Server Error: the object could not be read
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	rc, err := s.store.Open(name)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		http.Error(w, "Video not found", http.StatusNotFound)
		s.record(http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("object", name).Msg("open object")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		s.record(http.StatusInternalServerError)
		return
	}
	defer func() { _ = rc.Close() }()

	if s.broadcaster != nil && r.Method == http.MethodGet {
		s.broadcaster.Trigger(r.Context(), name)
	}

	w.Header().Set("Content-Type", cluster.ContentTypeVideo)
	w.Header().Set("Cache-Control", cluster.CacheControlPublic)
	if size, ok := stream.Size(rc); ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	s.record(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	n, err := stream.Copy(r.Context(), w, rc)
	s.metrics.BytesServed.Add(float64(n))
	if errors.Is(err, stream.ErrClientGone) {
		s.logger.Debug().Str("object", name).Int64("bytes", n).Msg("client stopped streaming")
	} else if err != nil {
		s.logger.Error().Err(err).Str("object", name).Msg("stream object")
	}
}

// handleList returns the catalog of servable objects.
//
// Endpoint: GET /videos
//
// Response:
//   - 200 OK: JSON array of object names with a listed extension
//   - 500 Internal Server Error: the store could not be listed
func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	names, err := s.store.List()
	if err != nil {
		s.logger.Error().Err(err).Msg("list objects")
		cluster.WriteJSON(w, http.StatusInternalServerError, cluster.ErrorResponse{Error: "failed to list videos"})
		return
	}

	videos := make([]string, 0, len(names))
	for _, name := range names {
		if s.listed(name) {
			videos = append(videos, name)
		}
	}

	w.Header().Set("Cache-Control", cluster.CacheControlPublic)
	cluster.WriteJSON(w, http.StatusOK, videos)
}

func (s *Server) listed(name string) bool {
	return slices.Contains(s.extensions, strings.ToLower(filepath.Ext(name)))
}
