package mergeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/pkg/retry"
	"github.com/kevingbb/processorders/pkg/security"
	"github.com/kevingbb/processorders/pkg/tlsutil"
)

// DefaultURL is the public combine endpoint.
const DefaultURL = "https://serverlessohmanagementapi.trafficmanager.net/api/order/combineOrderContent"

// Config is the merge section of the service configuration.
type Config struct {
	URL              string            `json:"url"`
	Headers          map[string]string `json:"headers,omitempty"`
	Timeout          int               `json:"timeout"`     // seconds per attempt
	RetryCount       int               `json:"retry_count"` // attempts after the first
	RetryDelay       string            `json:"retry_delay"`
	MaxResponseBytes int64             `json:"max_response_bytes"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		Headers:          map[string]string{},
		Timeout:          30,
		RetryCount:       3,
		RetryDelay:       "500ms",
		MaxResponseBytes: 1 << 20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "merge url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "merge url must be absolute http(s)")
	}
	if c.Timeout < 0 || c.Timeout > 300 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "timeout must be between 0 and 300 seconds")
	}
	if c.RetryCount < 0 || c.RetryCount > 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "retry_count must be between 0 and 10")
	}
	if c.RetryDelay != "" {
		if _, err := time.ParseDuration(c.RetryDelay); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "parse retry_delay")
		}
	}
	return nil
}

// StatusError is a non-200 answer from the merge service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("merge service returned HTTP %d: %s", e.Code, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// Stats are cumulative call counters.
type Stats struct {
	Calls     int64 `json:"calls"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Retries   int64 `json:"retries"`
}

// Observer receives the outcome of every HTTP attempt.
type Observer func(status int, elapsed time.Duration, err error)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryConfig replaces the backoff schedule.
func WithRetryConfig(rc retry.Config) Option {
	return func(c *Client) { c.retry = rc }
}

// WithObserver registers an attempt observer, typically metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observe = o }
}

// Client posts merge requests.
type Client struct {
	cfg     Config
	http    *http.Client
	retry   retry.Config
	logger  *slog.Logger
	observe Observer

	calls     atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
	retries   atomic.Int64
}

// NewClient validates cfg and builds the HTTP transport, applying client TLS
// settings when any are configured.
func NewClient(cfg Config, tlsCfg security.ClientTLSConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if tlsCfg.Customized() {
		tc, err := tlsutil.LoadClientTLSConfig(tlsCfg)
		if err != nil {
			return nil, errors.WrapFatal(err, "mergeapi", "NewClient", "load client TLS")
		}
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tc
		hc.Transport = transport
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.RetryCount + 1
	if d, err := time.ParseDuration(cfg.RetryDelay); err == nil && d > 0 {
		rc.InitialDelay = d
		if rc.MaxDelay < d {
			rc.MaxDelay = d * 8
		}
	}

	c := &Client{
		cfg:    cfg,
		http:   hc,
		retry:  rc,
		logger: logger.With("component", "mergeapi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Combine asks the merge service to combine the order and returns the
// response body.
func (c *Client) Combine(ctx context.Context, req message.MergeRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", errors.WrapInvalid(err, "mergeapi", "Combine", "validate request")
	}

	body, err := json.Marshal(req.Payload())
	if err != nil {
		return "", errors.WrapInvalid(err, "mergeapi", "Combine", "marshal payload")
	}

	c.calls.Add(1)

	rc := c.retry
	rc.Retryable = errors.IsTransient
	rc.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.retries.Add(1)
		c.logger.Warn("merge call failed, retrying",
			"order_key", req.OrderKey, "attempt", attempt, "wait", wait, "error", err)
	}

	content, err := retry.DoWithResult(ctx, rc, func() (string, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		c.failures.Add(1)
		return "", err
	}
	c.successes.Add(1)
	return content, nil
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", errors.WrapInvalid(err, "mergeapi", "post", "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.report(0, start, err)
		return "", errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrMergeUnavailable, err), "mergeapi", "post", "send request")
	}
	defer resp.Body.Close()

	limit := c.cfg.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultConfig().MaxResponseBytes
	}
	// One byte past the limit tells a full body from an oversized one.
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		c.report(resp.StatusCode, start, err)
		return "", errors.WrapTransient(err, "mergeapi", "post", "read response")
	}
	oversized := int64(len(data)) > limit
	if oversized {
		data = data[:limit]
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 512)}
		c.report(resp.StatusCode, start, statusErr)
		if statusErr.Retryable() {
			return "", errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrMergeUnavailable, statusErr), "mergeapi", "post", "combine order")
		}
		return "", errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrMergeRejected, statusErr), "mergeapi", "post", "combine order")
	}

	if oversized {
		tooLarge := fmt.Errorf("%w: response body exceeds %d bytes", errors.ErrMergeRejected, limit)
		c.report(resp.StatusCode, start, tooLarge)
		return "", errors.WrapInvalid(tooLarge, "mergeapi", "post", "read response")
	}

	c.report(resp.StatusCode, start, nil)
	return string(data), nil
}

func (c *Client) report(status int, start time.Time, err error) {
	if c.observe != nil {
		c.observe(status, time.Since(start), err)
	}
}

// Stats returns cumulative counters.
func (c *Client) Stats() Stats {
	return Stats{
		Calls:     c.calls.Load(),
		Successes: c.successes.Load(),
		Failures:  c.failures.Load(),
		Retries:   c.retries.Load(),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
