package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vidcdn/internal/config"
)

func testConfig(t *testing.T, replicas ...string) *config.OriginConfig {
	t.Helper()
	return &config.OriginConfig{
		Listen:           "127.0.0.1:0",
		DataDir:          t.TempDir(),
		Replicas:         replicas,
		Extensions:       []string{".mp4"},
		PeerTimeout:      config.Duration(2 * time.Second),
		BroadcastTimeout: config.Duration(5 * time.Second),
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()

	assert.Equal(t, "vidcdn-origin", cmd.Use)
	require.NotNil(t, cmd.Flags().Lookup("config"))
	require.NotNil(t, cmd.Flags().Lookup("log-level"))
}

func TestBuild(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "a.mp4"), []byte("aaa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "notes.txt"), []byte("x"), 0o644))

	n, err := build(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer n.broadcaster.Close()

	srv := httptest.NewServer(n.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/videos")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	resp.Body.Close()
	assert.Equal(t, []string{"a.mp4"}, names)

	resp, err = http.Get(srv.URL + "/a.mp4")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "aaa", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "vidcdn_origin_requests_total")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, testConfig(t), zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
