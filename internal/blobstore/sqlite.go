package blobstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/okarvi/tideflow/pkg/api"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
//
// The CAS token is a random string rotated on every write; compare-and-write
// is expressed as an UPDATE guarded on the stored token.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			rev INTEGER NOT NULL,
			cas TEXT NOT NULL,
			state BLOB NOT NULL
		);`,
	)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*Rec, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT rev, cas, state FROM blobs WHERE key = ?`, key)

	var rev int64
	var cas string
	var data []byte
	if err := row.Scan(&rev, &cas, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	st, err := DecodeState(data)
	if err != nil {
		return nil, err
	}
	return &Rec{Rev: rev, State: st, CAS: cas}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, st *api.State, cas string) (int64, error) {
	data, err := EncodeState(st)
	if err != nil {
		return 0, err
	}

	newCAS := uuid.NewString()

	if cas == "" {
		// Create-if-absent: INSERT OR IGNORE and treat "no row inserted"
		// as a presence conflict.
		res, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO blobs (key, rev, cas, state)
			VALUES (?, 1, ?, ?)`,
			key, newCAS, data,
		)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, ErrConflict
		}
		return 1, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE blobs SET rev = rev + 1, cas = ?, state = ?
		WHERE key = ? AND cas = ?`,
		newCAS, data, key, cas,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		// Either the token moved or the record is gone; both are conflicts.
		return 0, ErrConflict
	}

	var rev int64
	if err := tx.QueryRowContext(ctx, `SELECT rev FROM blobs WHERE key = ?`, key).Scan(&rev); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return rev, nil
}

func (s *SQLiteStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM blobs
		WHERE key >= ? AND key < ?
		ORDER BY key`,
		prefix, prefix+"\xff",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
