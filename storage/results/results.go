package results

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
	"github.com/kevingbb/processorders/pkg/retry"
)

// ErrNotFound is returned by Get when no row exists.
var ErrNotFound = stderrors.New("results: record not found")

// Store upserts combined order records keyed by (partition, row key).
type Store interface {
	Upsert(ctx context.Context, rec message.CombinedOrderRecord) error
	Get(ctx context.Context, partitionKey, rowKey string) (message.CombinedOrderRecord, error)
}

// PersistReport is the outcome of Persist.
type PersistReport struct {
	Outcome string
	Err     error
}

// OK reports whether the record was stored.
func (r PersistReport) OK() bool { return r.Err == nil }

// Persist upserts the combined content for key. Transient store errors are
// retried with cfg. Failures are logged and described in the report, never
// returned.
func Persist(ctx context.Context, store Store, key, content string, cfg retry.Config, logger *slog.Logger) PersistReport {
	if logger == nil {
		logger = slog.Default()
	}
	rec := message.NewCombinedOrderRecord(key, content)
	cfg.Retryable = errors.IsTransient

	err := retry.Do(ctx, cfg, func() error {
		return store.Upsert(ctx, rec)
	})
	if err != nil {
		report := PersistReport{
			Outcome: fmt.Sprintf("Storing entry %s to combinedorders Table failed: %v", key, err),
			Err:     err,
		}
		logger.Error(report.Outcome, "order_key", key)
		return report
	}

	report := PersistReport{Outcome: fmt.Sprintf("CombinedOrders %s saved.", key)}
	logger.Info(report.Outcome, "order_key", key, "bytes", len(content))
	return report
}
