package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/pkg/retry"
	"github.com/kevingbb/processorders/storage"
)

// ObjectName returns the object name addressed by a blob URL: the path
// below its first (container) segment.
func ObjectName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.WrapInvalid(err, "objectstore", "ObjectName", "parse url")
	}
	container, name, ok := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if !ok || container == "" || name == "" {
		return "", errors.WrapInvalid(errors.ErrInvalidData, "objectstore", "ObjectName",
			fmt.Sprintf("no object name in %q", rawURL))
	}
	return name, nil
}

// DeleteReport describes the outcome of DeleteSources.
type DeleteReport struct {
	// Outcome is the human readable summary recorded with the pass.
	Outcome string
	// Deleted lists the URLs whose objects are gone, including ones that
	// were already absent.
	Deleted []string
	// Failed maps URLs to the error that kept them from being deleted.
	Failed map[string]error
}

// OK reports whether every source was removed.
func (r DeleteReport) OK() bool { return len(r.Failed) == 0 }

// DeleteSources deletes the object behind every URL. Each URL is attempted
// regardless of earlier failures, and transient errors are retried with cfg.
// Nothing is returned as an error; failures are logged and summarised in the
// report.
func DeleteSources(ctx context.Context, store storage.Store, key string, urls []string, cfg retry.Config, logger *slog.Logger) DeleteReport {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Retryable = errors.IsTransient
	report := DeleteReport{Failed: make(map[string]error)}
	var msgs []string

	for _, raw := range urls {
		name, err := ObjectName(raw)
		if err == nil {
			err = retry.Do(ctx, cfg, func() error {
				return store.Delete(ctx, name)
			})
		}
		if err != nil {
			report.Failed[raw] = err
			msgs = append(msgs, fmt.Sprintf("%s: %v", raw, err))
			logger.Warn("Source delete failed", "order_key", key, "url", raw, "error", err)
			continue
		}
		report.Deleted = append(report.Deleted, raw)
		logger.Debug("Source deleted", "order_key", key, "object", name)
	}

	if report.OK() {
		report.Outcome = fmt.Sprintf("Deleting CombinedOrders %s completed.", key)
		logger.Info(report.Outcome)
	} else {
		report.Outcome = fmt.Sprintf("Deleting order %s from blob storage failed: %s", key, strings.Join(msgs, "; "))
		logger.Error(report.Outcome)
	}
	return report
}
