package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/natsclient"
	"github.com/kevingbb/processorders/pkg/security"
)

// Backends for the state, results and sources stores.
const (
	BackendMemory      = "memory"
	BackendKV          = "kv"
	BackendSQLite      = "sqlite"
	BackendObjectStore = "objectstore"
)

// Pass trigger kinds.
const (
	TriggerLocal  = "local"
	TriggerStream = "stream"
)

// Config is the complete service configuration.
type Config struct {
	Service     ServiceConfig     `json:"service"`
	NATS        NATSConfig        `json:"nats"`
	Security    security.Config   `json:"security,omitempty"`
	Gateway     GatewayConfig     `json:"gateway"`
	State       StateConfig       `json:"state"`
	Coordinator CoordinatorConfig `json:"coordinator"`
	Merge       MergeConfig       `json:"merge"`
	Results     ResultsConfig     `json:"results"`
	Sources     SourcesConfig     `json:"sources"`
	Metrics     MetricsConfig     `json:"metrics"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name            string   `json:"name"`
	HTTPAddr        string   `json:"http_addr"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	HealthInterval  Duration `json:"health_interval"`
	// Admin enables the /api/orders and /api/sweep endpoints.
	Admin bool `json:"admin"`
}

// NATSConfig defines the NATS connection.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	Name          string        `json:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait Duration      `json:"reconnect_wait,omitempty"`
	Timeout       Duration      `json:"timeout,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	TLS           NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig secures the NATS connection.
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// URL joins URLs the way nats.Connect expects.
func (n NATSConfig) URL() string {
	return strings.Join(n.URLs, ",")
}

// GatewayConfig configures the notification endpoint.
type GatewayConfig struct {
	Path           string   `json:"path"`
	MaxBodyBytes   int64    `json:"max_body_bytes"`
	RequestTimeout Duration `json:"request_timeout"`
	// DedupeTTL is how long handled event IDs are remembered. Zero disables
	// deduplication.
	DedupeTTL Duration `json:"dedupe_ttl"`
}

// StateConfig selects the join state and pass ledger stores.
type StateConfig struct {
	Backend     string   `json:"backend"`
	StateBucket string   `json:"state_bucket"`
	PassBucket  string   `json:"pass_bucket"`
	TTL         Duration `json:"ttl"`
	Replicas    int      `json:"replicas"`
}

// CoordinatorConfig tunes the join coordinator.
type CoordinatorConfig struct {
	Trigger      string   `json:"trigger"`
	ClaimTimeout Duration `json:"claim_timeout"`
	// HeartbeatInterval renews a running pass's claim; zero means a third
	// of claim_timeout.
	HeartbeatInterval Duration     `json:"heartbeat_interval,omitempty"`
	MaxMergeAttempts  int          `json:"max_merge_attempts"`
	PersistAttempts   int          `json:"persist_attempts"`
	Workers           int          `json:"workers"`
	QueueSize         int          `json:"queue_size"`
	SweepInterval     Duration     `json:"sweep_interval"`
	Retention         Duration     `json:"retention"`
	Stream            StreamConfig `json:"stream"`
}

// StreamConfig configures the JetStream pass queue.
type StreamConfig struct {
	Name          string     `json:"name"`
	SubjectPrefix string     `json:"subject_prefix"`
	Durable       string     `json:"durable"`
	Replicas      int        `json:"replicas"`
	MaxDeliver    int        `json:"max_deliver"`
	AckWait       Duration   `json:"ack_wait"`
	BackOff       []Duration `json:"backoff,omitempty"`
	DedupWindow   Duration   `json:"dedup_window"`
}

// MergeConfig configures the merge service client.
type MergeConfig struct {
	URL              string            `json:"url"`
	Headers          map[string]string `json:"headers,omitempty"`
	Timeout          Duration          `json:"timeout"`
	RetryCount       int               `json:"retry_count"`
	RetryDelay       Duration          `json:"retry_delay"`
	MaxResponseBytes int64             `json:"max_response_bytes"`
}

// ResultsConfig selects where combined orders are written.
type ResultsConfig struct {
	Backend    string `json:"backend"`
	Bucket     string `json:"bucket"`
	SQLitePath string `json:"sqlite_path,omitempty"`
	Replicas   int    `json:"replicas"`
}

// SourcesConfig selects where uploaded order files live.
type SourcesConfig struct {
	Backend  string `json:"backend"`
	Bucket   string `json:"bucket"`
	Replicas int    `json:"replicas"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr serves
// metrics on the main HTTP listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Path    string `json:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:            "processorders",
			HTTPAddr:        ":8080",
			ShutdownTimeout: Duration(30 * time.Second),
			HealthInterval:  Duration(15 * time.Second),
			Admin:           true,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Name:          "processorders",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Timeout:       Duration(5 * time.Second),
		},
		Gateway: GatewayConfig{
			Path:           "/api/processorder",
			MaxBodyBytes:   1 << 20,
			RequestTimeout: Duration(30 * time.Second),
			DedupeTTL:      Duration(10 * time.Minute),
		},
		State: StateConfig{
			Backend:     BackendKV,
			StateBucket: "ORDER_STATE",
			PassBucket:  "ORDER_PASSES_LEDGER",
			TTL:         Duration(30 * 24 * time.Hour),
			Replicas:    1,
		},
		Coordinator: CoordinatorConfig{
			Trigger:          TriggerStream,
			ClaimTimeout:     Duration(2 * time.Minute),
			MaxMergeAttempts: 5,
			PersistAttempts:  3,
			Workers:          8,
			QueueSize:        1024,
			SweepInterval:    Duration(time.Minute),
			Retention:        Duration(14 * 24 * time.Hour),
			Stream: StreamConfig{
				Name:          "ORDER_PASSES",
				SubjectPrefix: "orders.pass",
				Durable:       "orderjoin",
				Replicas:      1,
				MaxDeliver:    10,
				AckWait:       Duration(5 * time.Minute),
				BackOff: []Duration{
					Duration(time.Second), Duration(5 * time.Second),
					Duration(30 * time.Second), Duration(2 * time.Minute),
				},
				DedupWindow: Duration(2 * time.Minute),
			},
		},
		Merge: MergeConfig{
			URL:              "http://localhost:7071/api/order/combineOrderContent",
			Timeout:          Duration(30 * time.Second),
			RetryCount:       3,
			RetryDelay:       Duration(500 * time.Millisecond),
			MaxResponseBytes: natsclient.DefaultMaxValueSize,
		},
		Results: ResultsConfig{
			Backend:  BackendKV,
			Bucket:   "COMBINED_ORDERS",
			Replicas: 1,
		},
		Sources: SourcesConfig{
			Backend:  BackendObjectStore,
			Bucket:   "orders",
			Replicas: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
			Path:    "/metrics",
		},
	}
}

// UsesNATS reports whether any component needs the NATS connection.
func (c *Config) UsesNATS() bool {
	return c.State.Backend == BackendKV ||
		c.Coordinator.Trigger == TriggerStream ||
		c.Results.Backend == BackendKV ||
		c.Sources.Backend == BackendObjectStore
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", fmt.Sprintf(format, args...))
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Service.HTTPAddr == "" {
		return invalid("service.http_addr is required")
	}
	if c.UsesNATS() && len(c.NATS.URLs) == 0 {
		return invalid("nats.urls is required for the selected backends")
	}

	if !strings.HasPrefix(c.Gateway.Path, "/") {
		return invalid("gateway.path must start with /, got %q", c.Gateway.Path)
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		return invalid("gateway.max_body_bytes must be positive")
	}
	if c.Gateway.DedupeTTL < 0 {
		return invalid("gateway.dedupe_ttl must not be negative")
	}

	if err := oneOf("state.backend", c.State.Backend, BackendKV, BackendMemory); err != nil {
		return err
	}
	if err := oneOf("coordinator.trigger", c.Coordinator.Trigger, TriggerLocal, TriggerStream); err != nil {
		return err
	}
	if c.Coordinator.ClaimTimeout <= 0 {
		return invalid("coordinator.claim_timeout must be positive")
	}
	if c.Coordinator.HeartbeatInterval < 0 || c.Coordinator.HeartbeatInterval >= c.Coordinator.ClaimTimeout {
		return invalid("coordinator.heartbeat_interval must be below coordinator.claim_timeout")
	}
	if c.Coordinator.MaxMergeAttempts < 1 {
		return invalid("coordinator.max_merge_attempts must be >= 1")
	}
	if c.Coordinator.Workers < 1 || c.Coordinator.QueueSize < 1 {
		return invalid("coordinator.workers and coordinator.queue_size must be >= 1")
	}

	if c.Merge.URL == "" {
		return invalid("merge.url is required")
	}
	if u, err := url.Parse(c.Merge.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return invalid("merge.url must be an http or https URL, got %q", c.Merge.URL)
	}
	if c.Merge.RetryCount < 0 {
		return invalid("merge.retry_count must not be negative")
	}
	if c.Merge.MaxResponseBytes <= 0 {
		return invalid("merge.max_response_bytes must be positive")
	}

	if err := oneOf("results.backend", c.Results.Backend, BackendKV, BackendSQLite, BackendMemory); err != nil {
		return err
	}
	if c.Results.Backend == BackendSQLite && c.Results.SQLitePath == "" {
		return invalid("results.sqlite_path is required for the sqlite backend")
	}
	if c.Results.Backend == BackendKV && c.Merge.MaxResponseBytes > natsclient.DefaultMaxValueSize {
		return invalid("merge.max_response_bytes %d exceeds the kv value limit %d; use the sqlite results backend for larger orders",
			c.Merge.MaxResponseBytes, natsclient.DefaultMaxValueSize)
	}
	if err := oneOf("sources.backend", c.Sources.Backend, BackendObjectStore, BackendMemory); err != nil {
		return err
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if err := c.validateSecurity(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "security")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return invalid("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

func (c *Config) validateSecurity() error {
	server := c.Security.TLS.Server
	if server.Enabled {
		if server.CertFile == "" || server.KeyFile == "" {
			return fmt.Errorf("tls.server.cert_file and tls.server.key_file are required when TLS is enabled")
		}
		if _, err := os.Stat(server.CertFile); err != nil {
			return fmt.Errorf("tls.server.cert_file: %w", err)
		}
		if _, err := os.Stat(server.KeyFile); err != nil {
			return fmt.Errorf("tls.server.key_file: %w", err)
		}
		if err := validateTLSVersion(server.MinVersion); err != nil {
			return fmt.Errorf("tls.server.min_version: %w", err)
		}
	}

	client := c.Security.TLS.Client
	for i, caFile := range client.CAFiles {
		if _, err := os.Stat(caFile); err != nil {
			return fmt.Errorf("tls.client.ca_files[%d]: %w", i, err)
		}
	}
	if err := validateTLSVersion(client.MinVersion); err != nil {
		return fmt.Errorf("tls.client.min_version: %w", err)
	}
	return nil
}

func validateTLSVersion(version string) error {
	switch version {
	case "", "1.2", "1.3":
		return nil
	default:
		return fmt.Errorf("invalid TLS version %q (must be \"1.2\" or \"1.3\")", version)
	}
}

// Redacted returns a copy with secrets masked, for logging.
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	mask := func(s *string) {
		if *s != "" {
			*s = "[REDACTED]"
		}
	}
	mask(&clone.NATS.Password)
	mask(&clone.NATS.Token)
	for k := range clone.Merge.Headers {
		v := clone.Merge.Headers[k]
		mask(&v)
		clone.Merge.Headers[k] = v
	}
	return clone
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String renders the redacted configuration as JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return string(data)
}
