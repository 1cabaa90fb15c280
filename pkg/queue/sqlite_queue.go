package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/openshare/openshare/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

// SQLiteQueue is a single-node Queue backed by a SQLite table. It opens its
// own connection and can share the database file with the store (WAL mode
// allows concurrent readers).
type SQLiteQueue struct {
	db   *sql.DB
	path string
}

// NewSQLiteQueue creates a SQLite-backed queue.
func NewSQLiteQueue(path string) (*SQLiteQueue, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteQueue{path: path}, nil
}

// Init opens the connection and creates the queue table if absent.
func (q *SQLiteQueue) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", q.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS queue_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			payload TEXT NOT NULL,
			enqueued_at TIMESTAMP NOT NULL,
			leased_until TIMESTAMP,
			delivery_count INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_queue_leased_until ON queue_messages (leased_until);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create queue table: %w", err)
	}

	q.db = db
	return nil
}

// Close closes the database connection.
func (q *SQLiteQueue) Close() error {
	if q.db != nil {
		return q.db.Close()
	}
	return nil
}

// Enqueue appends a message.
func (q *SQLiteQueue) Enqueue(ctx context.Context, msg engine.ProvisionMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = q.db.ExecContext(ctx,
		"INSERT INTO queue_messages (payload, enqueued_at) VALUES (?, ?)",
		string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// Receive leases up to max messages whose lease is absent or expired. The
// select and lease update run in one immediate transaction so concurrent
// receivers never lease the same message.
func (q *SQLiteQueue) Receive(ctx context.Context, max int, lease time.Duration) ([]*Message, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload, delivery_count FROM queue_messages
		WHERE leased_until IS NULL OR leased_until <= ?
		ORDER BY id
		LIMIT ?
	`, now, max)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	var messages []*Message
	var ids []int64
	for rows.Next() {
		var id int64
		var payload string
		var deliveries int
		if err := rows.Scan(&id, &payload, &deliveries); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		var pm engine.ProvisionMessage
		if err := json.Unmarshal([]byte(payload), &pm); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to unmarshal message %d: %w", id, err)
		}

		messages = append(messages, &Message{
			Handle:        strconv.FormatInt(id, 10),
			Payload:       pm,
			DeliveryCount: deliveries + 1,
		})
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	leasedUntil := now.Add(lease)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"UPDATE queue_messages SET leased_until = ?, delivery_count = delivery_count + 1 WHERE id = ?",
			leasedUntil, id,
		); err != nil {
			return nil, fmt.Errorf("failed to lease message %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit lease: %w", err)
	}
	return messages, nil
}

// Ack deletes an acknowledged message.
func (q *SQLiteQueue) Ack(ctx context.Context, handle string) error {
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message handle %q: %w", handle, err)
	}

	if _, err := q.db.ExecContext(ctx, "DELETE FROM queue_messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nack clears the lease so the message is immediately visible again. The
// delivery count is not rewound; it keeps charging the retry budget.
func (q *SQLiteQueue) Nack(ctx context.Context, handle string) error {
	id, err := strconv.ParseInt(handle, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid message handle %q: %w", handle, err)
	}

	if _, err := q.db.ExecContext(ctx, "UPDATE queue_messages SET leased_until = NULL WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to nack message: %w", err)
	}
	return nil
}

// Depth returns the number of messages in the table, leased or not.
func (q *SQLiteQueue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM queue_messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
