// Package replica implements the cache-tier node: it answers existence
// probes, streams stored objects, and accepts replicate pushes from the origin.
package replica

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dreamware/vidcdn/internal/cluster"
	"github.com/dreamware/vidcdn/internal/metrics"
	"github.com/dreamware/vidcdn/internal/storage"
	"github.com/dreamware/vidcdn/internal/stream"
)

// maxFormMemory is how much of a replicate push is held in memory before
// the multipart parser spills to temporary files.
const maxFormMemory = 32 << 20

// maxAdmissionWait bounds how long a rate-limited push may queue.
const maxAdmissionWait = 30 * time.Second

// Options configures a replica server.
type Options struct {
	NodeID  string
	Store   storage.BlobStore
	Metrics *metrics.ReplicaMetrics
	Logger  zerolog.Logger

	// RateLimit caps accepted replicate pushes per second; 0 disables it.
	RateLimit float64
	// Burst is the limiter's bucket size.
	Burst int
}

// Server serves one replica's store over HTTP.
type Server struct {
	nodeID  string
	store   storage.BlobStore
	limiter *rate.Limiter // nil when pushes are unlimited
	metrics *metrics.ReplicaMetrics
	logger  zerolog.Logger
}

// New creates a replica server.
func New(opts Options) *Server {
	s := &Server{
		nodeID:  opts.NodeID,
		store:   opts.Store,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "replica").Str("node", opts.NodeID).Logger(),
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s
}

// Register adds the replica routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+cluster.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("POST "+cluster.ReplicatePath, s.handleReplicate)
	// GET patterns also match HEAD.
	mux.HandleFunc("GET /{name}", s.handleObject)
}

func (s *Server) record(op string, status int) {
	s.metrics.RequestsTotal.WithLabelValues(op, strconv.Itoa(status)).Inc()
}

// handleObject answers HEAD probes and streams objects for GET.
//
// Endpoint: HEAD|GET /{name}
//
// Response:
//   - 200 OK: object exists (GET streams it as video/mp4)
//   - 404 Not Found: object absent or name rejected
//   - 500 Internal Server Error: object could not be opened
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if r.Method == http.MethodHead {
		if s.store.Exists(name) {
			w.WriteHeader(http.StatusOK)
			s.record("head", http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		s.record("head", http.StatusNotFound)
		return
	}

	rc, err := s.store.Open(name)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		http.Error(w, "Video not found", http.StatusNotFound)
		s.record("get", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("object", name).Msg("open object")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		s.record("get", http.StatusInternalServerError)
		return
	}
	defer func() { _ = rc.Close() }()

	w.Header().Set("Content-Type", cluster.ContentTypeVideo)
	if size, ok := stream.Size(rc); ok {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	s.record("get", http.StatusOK)

	n, err := stream.Copy(r.Context(), w, rc)
	s.metrics.BytesServed.Add(float64(n))
	if errors.Is(err, stream.ErrClientGone) {
		s.logger.Debug().Str("object", name).Int64("bytes", n).Msg("client stopped streaming")
	} else if err != nil {
		s.logger.Error().Err(err).Str("object", name).Msg("stream object")
	}
}

// handleReplicate stores an object pushed by the origin.
//
// Endpoint: POST /replicate
//
// Request body (multipart/form-data):
//   - video_name: object name
//   - video: object bytes
//
// Response:
//   - 200 OK: object stored (any prior copy replaced)
//   - 500 Internal Server Error: malformed form, missing or invalid
//     fields, or storage failure
func (s *Server) handleReplicate(w http.ResponseWriter, r *http.Request) {
	fail := func(msg string, err error) {
		s.logger.Warn().Err(err).Msg(msg)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		s.record("replicate", http.StatusInternalServerError)
	}

	if s.limiter != nil {
		ctx, cancel := context.WithTimeout(r.Context(), maxAdmissionWait)
		err := s.limiter.Wait(ctx)
		cancel()
		if err != nil {
			fail("replicate admission", err)
			return
		}
	}

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		fail("parse replicate form", err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	name := r.FormValue(cluster.FieldName)
	if name == "" {
		fail("replicate without name", errors.New("missing "+cluster.FieldName))
		return
	}
	file, _, err := r.FormFile(cluster.FieldVideo)
	if err != nil {
		fail("replicate without payload", err)
		return
	}
	defer func() { _ = file.Close() }()

	n, err := s.store.Write(name, file)
	if err != nil {
		if !errors.Is(err, storage.ErrInvalidName) {
			s.logger.Error().Err(err).Str("object", name).Msg("store replicated object")
		}
		fail("replicate rejected", err)
		return
	}

	s.metrics.ReplicatedBytes.Add(float64(n))
	s.logger.Info().Str("object", name).Int64("bytes", n).Msg("object replicated")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Video replicated successfully")
	s.record("replicate", http.StatusOK)
}

// handleInfo reports the node's identity and storage totals.
//
// Endpoint: GET /info
func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	stats := s.store.Stats()
	cluster.WriteJSON(w, http.StatusOK, struct {
		NodeID  string `json:"node_id"`
		Objects int    `json:"objects"`
		Bytes   int64  `json:"bytes"`
	}{
		NodeID:  s.nodeID,
		Objects: stats.Objects,
		Bytes:   stats.Bytes,
	})
}
