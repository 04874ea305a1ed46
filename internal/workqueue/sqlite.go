package workqueue

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// SQLiteQueue is a persistent Queue backed by SQLite. Visibility is tracked
// per message; receiving a message pushes its visible_at forward and rotates
// its receipt, so a crashed consumer's messages reappear after the window.
type SQLiteQueue struct {
	db           *sql.DB
	visibility   time.Duration
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the messages table in the given DB and returns
// a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		visibility:   DefaultVisibility,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			body BLOB NOT NULL,
			receipt TEXT NOT NULL DEFAULT '',
			visible_at INTEGER NOT NULL,
			enqueued_at INTEGER NOT NULL
		);
	`)
	return err
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Send(ctx context.Context, body []byte) error {
	now := time.Now().UnixNano()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO messages (id, body, visible_at, enqueued_at)
		VALUES (?, ?, ?, ?)`,
		uuid.NewString(), body, now, now,
	)
	return err
}

func (q *SQLiteQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		return nil, nil
	}

	deadline := time.Now().Add(wait)
	for {
		msgs, err := q.receiveOnce(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		if wait <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *SQLiteQueue) receiveOnce(ctx context.Context, max int) ([]Message, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, body FROM messages
		WHERE visible_at <= ?
		ORDER BY enqueued_at, id
		LIMIT ?`,
		now.UnixNano(), max,
	)
	if err != nil {
		return nil, err
	}

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Body); err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	visibleAt := now.Add(q.visibility).UnixNano()
	for i := range msgs {
		msgs[i].Receipt = uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET visible_at = ?, receipt = ? WHERE id = ?`,
			visibleAt, msgs[i].Receipt, msgs[i].ID,
		); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (q *SQLiteQueue) Delete(ctx context.Context, id, receipt string) error {
	if receipt == "" {
		_, err := q.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
		return err
	}
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM messages WHERE id = ? AND receipt = ?`, id, receipt)
	return err
}

// Len returns the number of messages held, visible or not.
func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0
	}
	return n
}
