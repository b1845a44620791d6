package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/vidcdn/internal/config"
)

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()

	assert.Equal(t, "vidcdn-controller", cmd.Use)
	require.NotNil(t, cmd.Flags().Lookup("config"))
	require.NotNil(t, cmd.Flags().Lookup("log-level"))
}

func TestRootCommandRequiresOrigin(t *testing.T) {
	t.Setenv(config.EnvOrigin, "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "origin")
}

func TestBuild(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/videos":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`["a.mp4"]`))
		case "/a.mp4":
			if r.Method == http.MethodGet {
				_, _ = w.Write([]byte("from origin"))
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	cfg := &config.ControllerConfig{
		Listen:      "127.0.0.1:0",
		Origin:      upstream.URL,
		PeerTimeout: config.Duration(2 * time.Second),
	}
	n := build(cfg, zerolog.Nop())
	assert.Nil(t, n.monitor)

	srv := httptest.NewServer(n.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/a.mp4")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "from origin", string(body))

	resp, err = http.Get(srv.URL + "/videos")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&names))
	resp.Body.Close()
	assert.Equal(t, []string{"a.mp4"}, names)
}

func TestBuildWithHealthMonitor(t *testing.T) {
	cfg := &config.ControllerConfig{
		Origin:         "http://127.0.0.1:1",
		Replicas:       []string{"r1=http://127.0.0.1:2"},
		HealthInterval: config.Duration(time.Second),
	}
	n := build(cfg, zerolog.Nop())
	require.NotNil(t, n.monitor)
	assert.Equal(t, 1, n.router.Replicas().Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := &config.ControllerConfig{
		Listen:         "127.0.0.1:0",
		Origin:         "http://127.0.0.1:1",
		Replicas:       []string{"r1=http://127.0.0.1:2"},
		PeerTimeout:    config.Duration(time.Second),
		HealthInterval: config.Duration(100 * time.Millisecond),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zerolog.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
