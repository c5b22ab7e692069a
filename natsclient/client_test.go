package natsclient

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStatus_String(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusCircuitOpen:    "circuit_open",
		ConnectionStatus(99): "unknown",
	}
	for status, expected := range cases {
		assert.Equal(t, expected, status.String())
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Nil(t, c.Conn())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("  ")
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithTimeout(0))
	assert.Error(t, err)

	_, err = NewClient("nats://localhost:4222", WithTLS("cert.pem", "", ""))
	assert.Error(t, err)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("orders"),
		WithMaxReconnects(3),
		WithReconnectWait(time.Second),
		WithDrainTimeout(time.Second),
		WithCircuitBreakerThreshold(0),
		WithMaxBackoff(time.Millisecond),
		WithCredentials("user", "pass"),
		WithLogger(NewSlogLogger(slog.Default())),
	)
	require.NoError(t, err)

	assert.Equal(t, "orders", c.clientName)
	assert.Equal(t, 3, c.maxReconnects)
	assert.Equal(t, int32(5), c.circuitThreshold)
	assert.Equal(t, time.Minute, c.maxBackoff)
	assert.NotEmpty(t, c.connectionOptions())
}

func TestJetStream_NotConnected(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnect_CircuitOpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(200*time.Millisecond),
		WithMaxReconnects(0),
		WithCircuitBreakerThreshold(2),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		err = c.Connect(ctx)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrCircuitOpen))
	}

	err = c.Connect(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StatusCircuitOpen, c.Status())

	_, err = c.JetStream()
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestClose_Idempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.NoError(t, c.Close(context.Background()))
	assert.NoError(t, c.Close(context.Background()))

	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(errors.New("nats: key not found")))
	assert.False(t, IsKVNotFoundError(nil))

	assert.True(t, IsKVConflictError(ErrKVRevisionMismatch))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(errors.New("nats: wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(errors.New("nats: timeout")))
}
