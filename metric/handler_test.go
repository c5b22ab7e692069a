package metric

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingbb/processorders/pkg/security"
)

func TestServer_StartStop(t *testing.T) {
	registry := NewMetricsRegistry()
	srv := NewServer("127.0.0.1:0", "", registry, security.Config{})

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	require.Eventually(t, func() bool {
		return srv.Address() != "127.0.0.1:0"
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Address() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "processorders_nats_connected")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, <-done)

	// Stopping twice is fine.
	require.NoError(t, srv.Stop(ctx))
}

func TestServer_NilRegistry(t *testing.T) {
	srv := NewServer("127.0.0.1:0", "/metrics", nil, security.Config{})
	require.Error(t, srv.Start())
}
