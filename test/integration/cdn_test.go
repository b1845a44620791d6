// Package integration runs a complete vidcdn deployment in process: one
// origin, a replica tier and a controller, wired the way the commands wire
// them.
package integration

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vidcdn/internal/cluster"
	"github.com/dreamware/vidcdn/internal/controller"
	"github.com/dreamware/vidcdn/internal/metrics"
	"github.com/dreamware/vidcdn/internal/origin"
	"github.com/dreamware/vidcdn/internal/replica"
	"github.com/dreamware/vidcdn/internal/storage"
)

// hitCounter counts object GETs per node.
type hitCounter struct {
	mu   sync.Mutex
	hits map[string]int
}

func (c *hitCounter) wrap(id string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && filepath.Ext(r.URL.Path) == ".mp4" {
			c.mu.Lock()
			c.hits[id]++
			c.mu.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

func (c *hitCounter) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[id]
}

// TestSystem is a running deployment.
type TestSystem struct {
	t           *testing.T
	hits        *hitCounter
	originDir   string
	broadcaster *origin.Broadcaster
	replicas    cluster.ReplicaSet
	stores      map[string]*storage.DiskStore
	controller  *httptest.Server
	ctlMetrics  *metrics.ControllerMetrics
}

func NewTestSystem(t *testing.T, replicaCount int) *TestSystem {
	t.Helper()
	ts := &TestSystem{
		t:         t,
		hits:      &hitCounter{hits: make(map[string]int)},
		originDir: t.TempDir(),
		stores:    make(map[string]*storage.DiskStore),
	}
	logger := zerolog.Nop()
	client := cluster.NewClient(cluster.ClientOptions{Timeout: 5 * time.Second}, logger)

	for i := range replicaCount {
		id := "replica-" + string(rune('1'+i))
		store, err := storage.NewDiskStore(t.TempDir())
		require.NoError(t, err)
		mux := http.NewServeMux()
		replica.New(replica.Options{
			NodeID:  id,
			Store:   store,
			Metrics: metrics.NewReplicaMetrics(prometheus.NewRegistry()),
			Logger:  logger,
		}).Register(mux)
		srv := httptest.NewServer(ts.hits.wrap(id, mux))
		t.Cleanup(srv.Close)

		ts.stores[id] = store
		ts.replicas = append(ts.replicas, cluster.NodeInfo{ID: id, Addr: srv.URL})
	}

	originStore, err := storage.NewDiskStore(ts.originDir)
	require.NoError(t, err)
	om := metrics.NewOriginMetrics(prometheus.NewRegistry())
	ts.broadcaster = origin.NewBroadcaster(client, ts.replicas, originStore, 30*time.Second, om, logger)
	originMux := http.NewServeMux()
	origin.NewServer(originStore, ts.broadcaster, nil, om, logger).Register(originMux)
	originSrv := httptest.NewServer(ts.hits.wrap("origin", originMux))

	ts.ctlMetrics = metrics.NewControllerMetrics(prometheus.NewRegistry())
	router := controller.NewRouter(client, cluster.NodeInfo{ID: "origin", Addr: originSrv.URL}, ts.replicas, ts.ctlMetrics, logger)
	ctlMux := http.NewServeMux()
	controller.NewServer(router, client, nil, ts.ctlMetrics, logger).Register(ctlMux)
	ts.controller = httptest.NewServer(ctlMux)

	t.Cleanup(func() {
		ts.controller.Close()
		originSrv.Close()
		ts.broadcaster.Close()
	})
	return ts
}

// Publish places an object in the origin's directory.
func (ts *TestSystem) Publish(name string, data []byte) {
	ts.t.Helper()
	require.NoError(ts.t, os.WriteFile(filepath.Join(ts.originDir, name), data, 0o644))
}

// Fetch requests name through the controller.
func (ts *TestSystem) Fetch(name string) (int, []byte) {
	ts.t.Helper()
	resp, err := http.Get(ts.controller.URL + "/" + name)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(ts.t, err)
	return resp.StatusCode, body
}

// TestFirstRequestWarmsReplicaTier tests the full lifecycle of an object:
// the first request is served by the origin, which pushes the object to
// every replica, and later requests rotate across the replicas.
func TestFirstRequestWarmsReplicaTier(t *testing.T) {
	ts := NewTestSystem(t, 3)
	data := bytes.Repeat([]byte("frame"), 20000)
	ts.Publish("clip.mp4", data)

	status, body := ts.Fetch("clip.mp4")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, data, body)
	assert.Equal(t, 1, ts.hits.get("origin"))

	ts.broadcaster.Wait()
	for id, store := range ts.stores {
		assert.True(t, store.Exists("clip.mp4"), "replica %s missing object", id)
	}

	for range 2 {
		for _, node := range ts.replicas {
			before := ts.hits.get(node.ID)
			status, body := ts.Fetch("clip.mp4")
			require.Equal(t, http.StatusOK, status)
			assert.Equal(t, data, body)
			assert.Equal(t, before+1, ts.hits.get(node.ID), "expected %s to serve", node.ID)
		}
	}

	assert.Equal(t, 1, ts.hits.get("origin"))
	assert.Equal(t, 6.0, testutil.ToFloat64(ts.ctlMetrics.RequestsTotal.WithLabelValues("replica")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.ctlMetrics.RequestsTotal.WithLabelValues("origin")))
}

// TestUnknownObject tests that a name the origin lacks fails everywhere
// without touching the replica tier.
func TestUnknownObject(t *testing.T) {
	ts := NewTestSystem(t, 2)

	status, body := ts.Fetch("missing.mp4")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.JSONEq(t, `{"error":"missing.mp4 not available on any server"}`, string(body))

	ts.broadcaster.Wait()
	for _, store := range ts.stores {
		names, err := store.List()
		require.NoError(t, err)
		assert.Empty(t, names)
	}
}

// TestCatalogThroughController tests that the controller lists the origin's
// catalog.
func TestCatalogThroughController(t *testing.T) {
	ts := NewTestSystem(t, 1)
	ts.Publish("b.mp4", []byte("b"))
	ts.Publish("a.mp4", []byte("a"))
	ts.Publish("readme.txt", []byte("r"))

	resp, err := http.Get(ts.controller.URL + "/videos")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["a.mp4","b.mp4"]`, string(body))
}
