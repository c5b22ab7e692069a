package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kevingbb/processorders/errors"
)

// Event types and the blob API handled by the gateway.
const (
	EventTypeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
	EventTypeBlobCreated            = "Microsoft.Storage.BlobCreated"
	APIPutBlob                      = "PutBlob"
)

// Event is one Event Grid event.
type Event struct {
	ID              string          `json:"id"`
	Topic           string          `json:"topic,omitempty"`
	Subject         string          `json:"subject,omitempty"`
	EventType       string          `json:"eventType"`
	EventTime       time.Time       `json:"eventTime,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	DataVersion     string          `json:"dataVersion,omitempty"`
	MetadataVersion string          `json:"metadataVersion,omitempty"`
}

// BlobCreatedData is the data of a BlobCreated event.
type BlobCreatedData struct {
	API             string `json:"api"`
	ClientRequestID string `json:"clientRequestId,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
	ETag            string `json:"eTag,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
	ContentLength   int64  `json:"contentLength,omitempty"`
	BlobType        string `json:"blobType,omitempty"`
	URL             string `json:"url"`
	Sequencer       string `json:"sequencer,omitempty"`
}

// SubscriptionValidationData is the data of a handshake event.
type SubscriptionValidationData struct {
	ValidationCode string `json:"validationCode"`
	ValidationURL  string `json:"validationUrl,omitempty"`
}

// ValidationResponse echoes the handshake code.
type ValidationResponse struct {
	ValidationResponse string `json:"validationResponse"`
}

// BlobCreated decodes the event data as a BlobCreated payload.
func (e Event) BlobCreated() (BlobCreatedData, error) {
	var d BlobCreatedData
	if len(e.Data) == 0 {
		return d, errors.WrapInvalid(errors.ErrInvalidData, "Event", "BlobCreated", "event has no data")
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, errors.WrapInvalid(err, "Event", "BlobCreated", "decode data")
	}
	return d, nil
}

// SubscriptionValidation decodes the event data as a handshake payload.
func (e Event) SubscriptionValidation() (SubscriptionValidationData, error) {
	var d SubscriptionValidationData
	if len(e.Data) == 0 {
		return d, errors.WrapInvalid(errors.ErrInvalidData, "Event", "SubscriptionValidation", "event has no data")
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, errors.WrapInvalid(err, "Event", "SubscriptionValidation", "decode data")
	}
	return d, nil
}

// Config configures the ingestion endpoint.
type Config struct {
	// Path is the notification route, e.g. "/api/processorder".
	Path string `json:"path"`

	// MaxBodyBytes limits request body size.
	MaxBodyBytes int64 `json:"max_body_bytes"`

	// RequestTimeout bounds the Receive call for one notification.
	RequestTimeout time.Duration `json:"request_timeout"`

	// DedupeTTL is how long handled event IDs are remembered. Zero turns
	// deduplication off.
	DedupeTTL time.Duration `json:"dedupe_ttl"`
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Path:           "/api/processorder",
		MaxBodyBytes:   1 << 20,
		RequestTimeout: 30 * time.Second,
		DedupeTTL:      10 * time.Minute,
	}
}

// Validate ensures the gateway configuration is valid.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("path must start with /, got %q", c.Path))
	}
	if c.MaxBodyBytes <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_body_bytes must be positive")
	}
	if c.MaxBodyBytes > 100<<20 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "max_body_bytes cannot exceed 100MB")
	}
	if c.RequestTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "request_timeout must be positive")
	}
	if c.DedupeTTL < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "dedupe_ttl must not be negative")
	}
	return nil
}
