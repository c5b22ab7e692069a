// Package http serves the Event Grid notification endpoint and the
// operator endpoints over HTTP.
package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/gateway"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/metric"
	"github.com/kevingbb/processorders/pkg/cache"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Notification outcomes, used as the metric label.
const (
	outcomeAccepted  = "accepted"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeValidated = "validated"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
)

// getOrGenerateRequestID extracts the request ID header or generates one.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get(RequestIDHeader); reqID != "" {
		return reqID
	}
	return uuid.NewString()
}

// Gateway turns Event Grid notifications into Receive calls.
type Gateway struct {
	name     string
	config   gateway.Config
	receiver gateway.Receiver
	admin    gateway.Admin
	seen     cache.Cache[bool]
	logger   *slog.Logger
	metrics  *metric.Metrics

	running atomic.Bool

	mu           sync.RWMutex
	startTime    time.Time
	lastActivity time.Time

	requestsTotal    atomic.Uint64
	requestsAccepted atomic.Uint64
	requestsRejected atomic.Uint64
	requestsFailed   atomic.Uint64
	duplicates       atomic.Uint64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAdmin mounts the operator endpoints backed by a.
func WithAdmin(a gateway.Admin) Option {
	return func(g *Gateway) { g.admin = a }
}

// WithDedupe remembers handled event IDs in c.
func WithDedupe(c cache.Cache[bool]) Option {
	return func(g *Gateway) { g.seen = c }
}

// WithMetrics records notification outcomes.
func WithMetrics(m *metric.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a gateway forwarding file arrivals to receiver.
func NewGateway(cfg gateway.Config, receiver gateway.Receiver, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Gateway", "NewGateway", "config validation")
	}
	if receiver == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Gateway", "NewGateway", "receiver is required")
	}

	g := &Gateway{
		name:     "http-gateway",
		config:   cfg,
		receiver: receiver,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", g.name)
	return g, nil
}

// Start marks the gateway ready.
func (g *Gateway) Start(_ context.Context) error {
	if g.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Gateway", "Start", "gateway already running")
	}
	g.mu.Lock()
	g.startTime = time.Now()
	g.mu.Unlock()
	g.running.Store(true)
	return nil
}

// Stop marks the gateway not ready and releases the dedupe cache.
func (g *Gateway) Stop(_ time.Duration) error {
	if !g.running.Swap(false) {
		return nil
	}
	if g.seen != nil {
		return g.seen.Close()
	}
	return nil
}

// Health reports whether the gateway accepts notifications.
func (g *Gateway) Health(_ context.Context) error {
	if !g.running.Load() {
		return errors.WrapTransient(errors.ErrNotStarted, "Gateway", "Health", "gateway not started")
	}
	return nil
}

// Stats is a snapshot of the request counters.
type Stats struct {
	RequestsTotal    uint64    `json:"requests_total"`
	RequestsAccepted uint64    `json:"requests_accepted"`
	RequestsRejected uint64    `json:"requests_rejected"`
	RequestsFailed   uint64    `json:"requests_failed"`
	Duplicates       uint64    `json:"duplicates"`
	LastActivity     time.Time `json:"last_activity"`
	Uptime           string    `json:"uptime"`
}

// Stats returns the request counters.
func (g *Gateway) Stats() Stats {
	g.mu.RLock()
	startTime, lastActivity := g.startTime, g.lastActivity
	g.mu.RUnlock()

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = time.Since(startTime).Round(time.Second)
	}
	return Stats{
		RequestsTotal:    g.requestsTotal.Load(),
		RequestsAccepted: g.requestsAccepted.Load(),
		RequestsRejected: g.requestsRejected.Load(),
		RequestsFailed:   g.requestsFailed.Load(),
		Duplicates:       g.duplicates.Load(),
		LastActivity:     lastActivity,
		Uptime:           uptime.String(),
	}
}

// RegisterHTTPHandlers mounts the notification route and, when an Admin
// is configured, the operator routes.
func (g *Gateway) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")

	mux.Handle("POST "+prefix+g.config.Path, g.withRequestID(g.handleNotification))

	if g.admin == nil {
		return
	}
	mux.Handle("GET "+prefix+"/api/orders/{key}", g.withRequestID(g.handleStatus))
	mux.Handle("POST "+prefix+"/api/orders/{key}/retry", g.withRequestID(g.handleRetry))
	mux.Handle("POST "+prefix+"/api/sweep", g.withRequestID(g.handleSweep))
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the gateway, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (g *Gateway) withRequestID(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set(RequestIDHeader, requestID)

		g.requestsTotal.Add(1)
		g.mu.Lock()
		g.lastActivity = time.Now()
		g.mu.Unlock()

		next(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
	})
}

// handleNotification implements the Event Grid webhook contract: exactly
// one event per request, the subscription handshake, and PutBlob
// BlobCreated events forwarded to the receiver.
func (g *Gateway) handleNotification(w http.ResponseWriter, r *http.Request) {
	logger := g.logger.With("request_id", RequestID(r.Context()))
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, g.config.MaxBodyBytes+1))
	if err != nil {
		g.reject(w, "", http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > g.config.MaxBodyBytes {
		g.reject(w, "", http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", g.config.MaxBodyBytes))
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil || len(batch) != 1 {
		logger.Warn("Malformed Event Grid batch", "events", len(batch), "error", err)
		g.reject(w, "", http.StatusBadRequest, "Expecting one item in the Event Grid message.")
		return
	}

	if err := gateway.ValidateEvent(batch[0]); err != nil {
		logger.Warn("Event failed schema validation", "error", err)
		g.reject(w, "", http.StatusBadRequest, "invalid event")
		return
	}
	var ev gateway.Event
	if err := json.Unmarshal(batch[0], &ev); err != nil {
		g.reject(w, "", http.StatusBadRequest, "invalid event")
		return
	}
	logger = logger.With("event_id", ev.ID, "event_type", ev.EventType)

	switch ev.EventType {
	case gateway.EventTypeSubscriptionValidation:
		g.handleValidation(w, ev, logger)
	case gateway.EventTypeBlobCreated:
		g.handleBlobCreated(w, r, ev, logger)
	default:
		logger.Debug("Ignoring event type")
		g.accept(w, ev.EventType, outcomeIgnored)
	}
}

func (g *Gateway) handleValidation(w http.ResponseWriter, ev gateway.Event, logger *slog.Logger) {
	data, err := ev.SubscriptionValidation()
	if err != nil || data.ValidationCode == "" {
		g.reject(w, ev.EventType, http.StatusBadRequest, "missing validation code")
		return
	}
	logger.Info("Subscription validation handshake")
	g.metrics.RecordNotification(ev.EventType, outcomeValidated)
	g.requestsAccepted.Add(1)
	writeJSON(w, http.StatusOK, gateway.ValidationResponse{ValidationResponse: data.ValidationCode})
}

func (g *Gateway) handleBlobCreated(w http.ResponseWriter, r *http.Request, ev gateway.Event, logger *slog.Logger) {
	data, err := ev.BlobCreated()
	if err != nil {
		g.reject(w, ev.EventType, http.StatusBadRequest, "invalid event data")
		return
	}
	if data.API != gateway.APIPutBlob {
		logger.Debug("Ignoring blob event", "api", data.API)
		g.accept(w, ev.EventType, outcomeIgnored)
		return
	}

	ref, ok := message.ParseFileReference(data.URL)
	if !ok {
		logger.Info("Ignoring blob that is not an order file", "url", data.URL)
		g.accept(w, ev.EventType, outcomeIgnored)
		return
	}

	if g.seen != nil && ev.ID != "" {
		first, err := g.seen.SetIfAbsent(ev.ID, true)
		if err == nil && !first {
			logger.Info("Duplicate notification", "order_key", ref.BatchPrefix)
			g.duplicates.Add(1)
			g.accept(w, ev.EventType, outcomeDuplicate)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.RequestTimeout)
	defer cancel()

	_, err = g.receiver.Receive(ctx, ref)
	switch {
	case err == nil:
		g.accept(w, ev.EventType, outcomeAccepted)
	case stderrors.Is(err, errors.ErrUnknownFileType):
		g.accept(w, ev.EventType, outcomeIgnored)
	default:
		// Forget the event so the redelivery is processed.
		if g.seen != nil && ev.ID != "" {
			_, _ = g.seen.Delete(ev.ID)
		}
		logger.Error("Failed to record file arrival",
			"order_key", ref.BatchPrefix, "file_type", ref.FileType, "error", err)
		g.requestsFailed.Add(1)
		g.metrics.RecordNotification(ev.EventType, outcomeFailed)
		g.metrics.RecordError(g.name, errors.Classify(err).String())
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	}
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	status, err := g.admin.Status(r.Context(), key)
	if err != nil {
		g.writeAdminError(w, r, err)
		return
	}
	if status.State == nil && status.Pass == nil {
		writeError(w, http.StatusNotFound, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (g *Gateway) handleRetry(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := g.admin.Retry(r.Context(), key); err != nil {
		g.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"key": key, "status": "retry requested"})
}

func (g *Gateway) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := g.admin.Sweep(r.Context())
	if err != nil {
		g.writeAdminError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (g *Gateway) writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		g.requestsFailed.Add(1)
		g.logger.Error("Admin request failed",
			"request_id", RequestID(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, sanitizeError(err))
}

func (g *Gateway) accept(w http.ResponseWriter, eventType, outcome string) {
	g.requestsAccepted.Add(1)
	g.metrics.RecordNotification(eventType, outcome)
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) reject(w http.ResponseWriter, eventType string, status int, message string) {
	if eventType == "" {
		eventType = "unknown"
	}
	g.requestsRejected.Add(1)
	g.metrics.RecordNotification(eventType, outcomeRejected)
	writeError(w, status, message)
}

// mapErrorToHTTPStatus maps classified errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrPassInFlight):
		return http.StatusConflict
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if stderrors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case errors.IsFatal(err):
		return http.StatusInternalServerError
	}

	errStr := err.Error()
	if strings.Contains(errStr, "not found") {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// sanitizeError returns a message safe to show external clients.
func sanitizeError(err error) string {
	switch mapErrorToHTTPStatus(err) {
	case http.StatusConflict:
		return "a completion pass is in flight"
	case http.StatusBadRequest:
		return "invalid request"
	case http.StatusGatewayTimeout:
		return "request timeout"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusNotFound:
		return "resource not found"
	default:
		return "internal server error"
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"error":  message,
		"status": statusCode,
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		statusCode = http.StatusInternalServerError
		data = []byte(`{"error":"internal server error","status":500}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(data)
}
