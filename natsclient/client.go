package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/kevingbb/processorders/errors"
)

// ConnectionStatus is the client's view of the server connection.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

var (
	ErrNotConnected = stderrors.New("not connected to NATS")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
	ErrClosed       = stderrors.New("client is closed")
)

// Client manages one NATS connection and its JetStream context.
type Client struct {
	url    string
	logger Logger

	status atomic.Int32

	mu   sync.RWMutex
	conn *nats.Conn
	js   jetstream.JetStream

	consumersMu sync.Mutex
	consumers   map[string]jetstream.ConsumeContext

	// circuit breaker
	failures         atomic.Int32
	circuitThreshold int32
	backoff          time.Duration
	maxBackoff       time.Duration
	openUntil        time.Time
	breakerMu        sync.Mutex

	maxReconnects int
	reconnectWait time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string

	username string
	password string
	token    string

	tlsEnabled  bool
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	onHealthChange func(bool)

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewClient builds a client. It does not dial; call Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "validate url")
	}

	c := &Client{
		url:              url,
		logger:           nopLogger{},
		circuitThreshold: 5,
		backoff:          time.Second,
		maxBackoff:       time.Minute,
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		consumers:        make(map[string]jetstream.ConsumeContext),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.setStatus(StatusDisconnected)
	return c, nil
}

// URL returns the server URL.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

func (c *Client) setStatus(s ConnectionStatus) {
	old := ConnectionStatus(c.status.Swap(int32(s)))
	if c.onHealthChange != nil && (old == StatusConnected) != (s == StatusConnected) {
		go c.onHealthChange(s == StatusConnected)
	}
}

// IsHealthy reports whether the connection is usable.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the consecutive failure count.
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Conn returns the raw connection, nil before Connect.
func (c *Client) Conn() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) recordFailure() {
	n := c.failures.Add(1)
	if n < c.circuitThreshold {
		return
	}

	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()

	wait := c.backoff
	c.openUntil = time.Now().Add(wait)
	c.backoff *= 2
	if c.backoff > c.maxBackoff {
		c.backoff = c.maxBackoff
	}
	c.failures.Store(0)
	if c.Status() != StatusConnected {
		c.setStatus(StatusCircuitOpen)
	}
	c.logger.Printf("circuit breaker opened after %d failures, backing off for %v", n, wait)
}

func (c *Client) recordSuccess() {
	if c.failures.Load() == 0 {
		return
	}
	c.failures.Store(0)
	c.breakerMu.Lock()
	c.backoff = time.Second
	c.openUntil = time.Time{}
	c.breakerMu.Unlock()
}

func (c *Client) circuitOpen() bool {
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()
	if c.openUntil.IsZero() {
		return false
	}
	if time.Now().Before(c.openUntil) {
		return true
	}
	c.openUntil = time.Time{}
	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
	return false
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if c.closed.Load() {
				return
			}
			c.setStatus(StatusReconnecting)
			if err != nil {
				c.logger.Errorf("disconnected from %s: %v", c.url, err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setStatus(StatusConnected)
			c.recordSuccess()
			c.logger.Printf("reconnected to %s", c.url)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusDisconnected)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			if sub != nil {
				c.logger.Errorf("async error on %s: %v", sub.Subject, err)
				return
			}
			c.logger.Errorf("async error: %v", err)
		}),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsEnabled {
		if c.tlsCertFile != "" {
			opts = append(opts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
		}
		if c.tlsCAFile != "" {
			opts = append(opts, nats.RootCAs(c.tlsCAFile))
		}
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect dials the server and initialises JetStream.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.circuitOpen() {
		return ErrCircuitOpen
	}

	c.setStatus(StatusConnecting)
	c.logger.Printf("connecting to NATS at %s", c.url)

	type result struct {
		conn *nats.Conn
		js   jetstream.JetStream
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			done <- result{err: err}
			return
		}
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			done <- result{err: err}
			return
		}
		done <- result{conn: conn, js: js}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			c.setStatus(StatusDisconnected)
			c.recordFailure()
			return errors.WrapTransient(r.err, "Client", "Connect", "establish connection")
		}
		c.mu.Lock()
		c.conn = r.conn
		c.js = r.js
		c.mu.Unlock()
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		c.recordFailure()
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "wait for connection")
	}

	c.recordSuccess()
	c.setStatus(StatusConnected)
	c.logger.Printf("connected to NATS at %s", c.url)
	return nil
}

// WaitForConnection blocks until the client is connected or ctx is done.
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Client", "WaitForConnection", "wait for connection")
		case <-ticker.C:
		}
	}
}

// Close stops consumers and drains the connection. Safe to call twice.
func (c *Client) Close(ctx context.Context) error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.consumersMu.Lock()
		for name, cc := range c.consumers {
			cc.Stop()
			c.logger.Debugf("stopped consumer %s", name)
		}
		c.consumers = map[string]jetstream.ConsumeContext{}
		c.consumersMu.Unlock()

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.js = nil
		c.username, c.password, c.token = "", "", ""
		c.mu.Unlock()

		if conn == nil {
			c.setStatus(StatusDisconnected)
			return
		}

		timeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}

		drained := make(chan error, 1)
		go func() { drained <- conn.Drain() }()

		select {
		case err := <-drained:
			if err != nil {
				closeErr = errors.Wrap(err, "Client", "Close", "drain connection")
			}
		case <-time.After(timeout):
			closeErr = errors.WrapTransient(fmt.Errorf("drain timeout after %v", timeout), "Client", "Close", "drain connection")
		case <-ctx.Done():
			closeErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
		}
		conn.Close()
		c.setStatus(StatusDisconnected)
	})
	return closeErr
}

// JetStream returns the JetStream context, honouring the circuit breaker.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.circuitOpen() {
		return nil, ErrCircuitOpen
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.js == nil || c.conn == nil || !c.conn.IsConnected() {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// observe feeds an operation result into the circuit breaker. Errors that
// say nothing about connectivity are ignored.
func (c *Client) observe(err error) {
	switch {
	case err == nil:
		c.recordSuccess()
	case stderrors.Is(err, nats.ErrTimeout),
		stderrors.Is(err, nats.ErrConnectionClosed),
		stderrors.Is(err, nats.ErrNoResponders),
		stderrors.Is(err, context.DeadlineExceeded),
		stderrors.Is(err, jetstream.ErrJetStreamNotEnabled):
		c.recordFailure()
	}
}

// EnsureKeyValue returns the bucket named in cfg, creating it when missing.
func (c *Client) EnsureKeyValue(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	if kv, err := js.KeyValue(ctx, cfg.Bucket); err == nil {
		c.recordSuccess()
		return kv, nil
	} else if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
		c.observe(err)
		return nil, errors.WrapTransient(err, "Client", "EnsureKeyValue", "look up bucket "+cfg.Bucket)
	}

	kv, err := js.CreateKeyValue(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		// lost a creation race with another replica
		kv, err = js.KeyValue(ctx, cfg.Bucket)
	}
	c.observe(err)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureKeyValue", "create bucket "+cfg.Bucket)
	}
	c.logger.Printf("created KV bucket %s", cfg.Bucket)
	return kv, nil
}

// EnsureObjectStore returns the object store named in cfg, creating it when
// missing.
func (c *Client) EnsureObjectStore(ctx context.Context, cfg jetstream.ObjectStoreConfig) (jetstream.ObjectStore, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	if obs, err := js.ObjectStore(ctx, cfg.Bucket); err == nil {
		c.recordSuccess()
		return obs, nil
	}

	obs, err := js.CreateObjectStore(ctx, cfg)
	if err != nil && isAlreadyExistsError(err) {
		obs, err = js.ObjectStore(ctx, cfg.Bucket)
	}
	c.observe(err)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureObjectStore", "create bucket "+cfg.Bucket)
	}
	c.logger.Printf("created object store %s", cfg.Bucket)
	return obs, nil
}

// EnsureStream creates the stream or updates its configuration.
func (c *Client) EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	c.observe(err)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureStream", "create stream "+cfg.Name)
	}
	return stream, nil
}

// Publish sends data to a stream subject. A non-empty msgID enables
// server-side duplicate suppression within the stream's window.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}

	_, err = js.Publish(ctx, subject, data, opts...)
	c.observe(err)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// Consume attaches handler to a durable consumer on stream. The handler
// owns acknowledgement. Consumers are stopped on Close.
func (c *Client) Consume(ctx context.Context, stream string, cfg jetstream.ConsumerConfig,
	handler func(jetstream.Msg)) (jetstream.ConsumeContext, error) {

	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, stream, cfg)
	c.observe(err)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Consume", "create consumer "+cfg.Durable)
	}

	cc, err := consumer.Consume(handler)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "Consume", "start consumer "+cfg.Durable)
	}

	c.consumersMu.Lock()
	defer c.consumersMu.Unlock()
	if c.closed.Load() {
		cc.Stop()
		return nil, ErrClosed
	}
	key := stream + ":" + cfg.Durable
	if existing, ok := c.consumers[key]; ok {
		existing.Stop()
	}
	c.consumers[key] = cc
	return cc, nil
}

func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "already in use") || strings.Contains(msg, "already exists")
}
