package mergeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/pkg/retry"
	"github.com/kevingbb/processorders/pkg/security"
)

var sampleRequest = message.MergeRequest{
	OrderKey:       "20240101000000",
	HeaderURL:      "https://orders.blob.core.windows.net/orders/20240101000000-OrderHeaderDetails.csv",
	LineItemsURL:   "https://orders.blob.core.windows.net/orders/20240101000000-OrderLineItems.csv",
	ProductInfoURL: "https://orders.blob.core.windows.net/orders/20240101000000-ProductInformation.csv",
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Timeout = 5
	opts = append([]Option{WithRetryConfig(fastRetry())}, opts...)
	c, err := NewClient(cfg, security.ClientTLSConfig{}, nil, opts...)
	require.NoError(t, err)
	return c
}

func TestCombine_ReturnsBodyVerbatim(t *testing.T) {
	const merged = "[{\"header\":1}]\n  trailing whitespace kept  "
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("x-functions-key"))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, merged)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.Headers = map[string]string{"x-functions-key": "secret"}
	c, err := NewClient(cfg, security.ClientTLSConfig{}, nil, WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	content, err := c.Combine(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, merged, content)
	assert.Equal(t, Stats{Calls: 1, Successes: 1}, c.Stats())
}

func TestCombine_PayloadGolden(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL).Combine(context.Background(), sampleRequest)
	require.NoError(t, err)

	var pretty bytes.Buffer
	require.NoError(t, json.Indent(&pretty, body, "", "  "))
	pretty.WriteByte('\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "combine_order_content", pretty.Bytes())
}

func TestCombine_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "merged")
	}))
	defer server.Close()

	var observed []int
	c := newTestClient(t, server.URL, WithObserver(func(status int, _ time.Duration, _ error) {
		observed = append(observed, status)
	}))

	content, err := c.Combine(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "merged", content)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []int{503, 503, 200}, observed)
	assert.Equal(t, int64(2), c.Stats().Retries)
}

func TestCombine_RejectsWithoutRetry(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusAccepted, http.StatusNoContent} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(status)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)
			_, err := c.Combine(context.Background(), sampleRequest)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
			assert.ErrorIs(t, err, errors.ErrMergeRejected)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, status, se.Code)
			assert.Equal(t, int32(1), hits.Load())
			assert.Equal(t, int64(1), c.Stats().Failures)
		})
	}
}

func TestCombine_OversizedBodyIsRejected(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, strings.Repeat("x", 100))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.MaxResponseBytes = 10
	c, err := NewClient(cfg, security.ClientTLSConfig{}, nil, WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	content, err := c.Combine(context.Background(), sampleRequest)
	require.Error(t, err)
	assert.Empty(t, content)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrMergeRejected)
	assert.Contains(t, err.Error(), "exceeds 10 bytes")
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int64(1), c.Stats().Failures)
}

func TestCombine_BodyAtLimitIsKept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "0123456789")
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.URL = server.URL
	cfg.MaxResponseBytes = 10
	c, err := NewClient(cfg, security.ClientTLSConfig{}, nil, WithRetryConfig(fastRetry()))
	require.NoError(t, err)

	content, err := c.Combine(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", content)
}

func TestCombine_UnreachableIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).Combine(context.Background(), sampleRequest)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMergeUnavailable)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestCombine_IncompleteRequest(t *testing.T) {
	c := newTestClient(t, "http://localhost:1")
	_, err := c.Combine(context.Background(), message.MergeRequest{OrderKey: "x"})
	assert.True(t, errors.IsInvalid(err))
	assert.Zero(t, c.Stats().Calls)
}

func TestCombine_TLS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "secure")
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, WithHTTPClient(server.Client()))
	content, err := c.Combine(context.Background(), sampleRequest)
	require.NoError(t, err)
	assert.Equal(t, "secure", content)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := []func(*Config){
		func(c *Config) { c.URL = "" },
		func(c *Config) { c.URL = "/relative" },
		func(c *Config) { c.URL = "ftp://host/x" },
		func(c *Config) { c.Timeout = -1 },
		func(c *Config) { c.RetryCount = 11 },
		func(c *Config) { c.RetryDelay = "soon" },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}
}

func TestStatusError_Retryable(t *testing.T) {
	assert.True(t, (&StatusError{Code: 500}).Retryable())
	assert.True(t, (&StatusError{Code: 429}).Retryable())
	assert.False(t, (&StatusError{Code: 400}).Retryable())
}
