package main

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
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

func testConfig(t *testing.T) *config.ReplicaConfig {
	t.Helper()
	return &config.ReplicaConfig{
		NodeID:  "r1",
		Listen:  "127.0.0.1:0",
		DataDir: t.TempDir(),
		Storage: config.StorageDisk,
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()

	assert.Equal(t, "vidcdn-replica", cmd.Use)
	require.NotNil(t, cmd.Flags().Lookup("config"))
	assert.Equal(t, "c", cmd.Flags().Lookup("config").Shorthand)
	require.NotNil(t, cmd.Flags().Lookup("log-level"))
}

func TestBuildHandler(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "clip.mp4"), []byte("clip"), 0o644))

	handler, err := buildHandler(cfg, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	t.Run("health", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("serves existing objects", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/clip.mp4")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "clip", string(body))
	})

	t.Run("replicate lands on disk", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("video_name", "pushed.mp4"))
		fw, err := mw.CreateFormFile("video", "pushed.mp4")
		require.NoError(t, err)
		_, _ = fw.Write([]byte("pushed"))
		require.NoError(t, mw.Close())

		resp, err := http.Post(srv.URL+"/replicate", mw.FormDataContentType(), &buf)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		data, err := os.ReadFile(filepath.Join(cfg.DataDir, "pushed.mp4"))
		require.NoError(t, err)
		assert.Equal(t, "pushed", string(data))
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), "vidcdn_replica_requests_total")
	})
}

func TestBuildHandlerMemoryStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = config.StorageMemory
	cfg.DataDir = filepath.Join(cfg.DataDir, "unused")

	handler, err := buildHandler(cfg, zerolog.Nop())
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("video_name", "mem.mp4"))
	fw, err := mw.CreateFormFile("video", "mem.mp4")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("in memory"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/replicate", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/mem.mp4")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "in memory", string(body))

	// Nothing touches the filesystem.
	_, err = os.Stat(cfg.DataDir)
	assert.True(t, os.IsNotExist(err))
}

func TestBuildHandlerBadDataDir(t *testing.T) {
	cfg := testConfig(t)
	file := filepath.Join(cfg.DataDir, "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	cfg.DataDir = file

	_, err := buildHandler(cfg, zerolog.Nop())
	assert.Error(t, err)
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
