package results

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kevingbb/processorders/errors"
	"github.com/kevingbb/processorders/message"
)

const schema = `
CREATE TABLE IF NOT EXISTS combined_orders (
	partition_key TEXT NOT NULL,
	row_key       TEXT NOT NULL,
	text          TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (partition_key, row_key)
)`

// SQLStore keeps records in a SQLite table.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens (or creates) the database at path and ensures the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.WrapFatal(err, "SQLStore", "Open", "open database")
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLStore", "Open", "ping database")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "SQLStore", "Open", "create schema")
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

// Upsert inserts rec or replaces the text of the existing row.
func (s *SQLStore) Upsert(ctx context.Context, rec message.CombinedOrderRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO combined_orders (partition_key, row_key, text, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(partition_key, row_key) DO UPDATE SET
			text = excluded.text,
			updated_at = excluded.updated_at
	`, rec.PartitionKey, rec.RowKey, rec.Text, s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return errors.WrapTransient(err, "SQLStore", "Upsert", "upsert "+rec.RowKey)
	}
	return nil
}

// Get reads a record or returns ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, partitionKey, rowKey string) (message.CombinedOrderRecord, error) {
	rec := message.CombinedOrderRecord{PartitionKey: partitionKey, RowKey: rowKey}
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM combined_orders WHERE partition_key = ? AND row_key = ?`,
		partitionKey, rowKey).Scan(&rec.Text)
	if stderrors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, errors.WrapTransient(err, "SQLStore", "Get", "select "+rowKey)
	}
	return rec, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
