// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: One row per owner with the session serialized as a JSON payload

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/adventure-gateway/internal/session"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// State and timestamps are denormalized into columns so the supervisor's
// enumerations never have to decode payloads.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS adventures (
			owner_id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at DATETIME NOT NULL,
			last_active_at DATETIME NOT NULL,
			last_saved_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_adventures_state_active
			ON adventures(state, last_active_at);

		CREATE INDEX IF NOT EXISTS idx_adventures_saved
			ON adventures(last_saved_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Get returns the session for ownerID, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, ownerID string) (*session.Session, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM adventures WHERE owner_id = ?", ownerID,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}

	var sess session.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, &StorageError{Op: "decode", Err: err}
	}
	return &sess, nil
}

// Put atomically writes the full session via upsert. The write either
// lands completely or leaves the previous row untouched.
func (s *SQLiteStore) Put(ctx context.Context, sess *session.Session) error {
	now := time.Now().UTC()
	saved := sess.LastSavedAt
	sess.LastSavedAt = now

	payload, err := json.Marshal(sess)
	if err != nil {
		sess.LastSavedAt = saved
		return &StorageError{Op: "encode", Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO adventures (owner_id, state, payload, created_at, last_active_at, last_saved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			state = excluded.state,
			payload = excluded.payload,
			last_active_at = excluded.last_active_at,
			last_saved_at = excluded.last_saved_at`,
		sess.OwnerID, string(sess.State), payload,
		sess.CreatedAt, sess.LastActiveAt, now,
	)
	if err != nil {
		sess.LastSavedAt = saved
		return &StorageError{Op: "put", Err: err}
	}
	return nil
}

// Delete removes the owner's record, reporting whether one existed.
func (s *SQLiteStore) Delete(ctx context.Context, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM adventures WHERE owner_id = ?", ownerID)
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	return n > 0, nil
}

// ListActive returns the owners of every active session.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]string, error) {
	return s.listOwners(ctx, "list active",
		"SELECT owner_id FROM adventures WHERE state = ?",
		string(session.StateActive))
}

// ListOwners returns every owner with a record.
func (s *SQLiteStore) ListOwners(ctx context.Context) ([]string, error) {
	return s.listOwners(ctx, "list owners", "SELECT owner_id FROM adventures")
}

// ListIdle returns owners of active sessions idle longer than olderThan.
func (s *SQLiteStore) ListIdle(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.listOwners(ctx, "list idle",
		"SELECT owner_id FROM adventures WHERE state = ? AND last_active_at < ?",
		string(session.StateActive), cutoff)
}

// ListStale returns owners whose last save is older than olderThan.
func (s *SQLiteStore) ListStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	return s.listOwners(ctx, "list stale",
		"SELECT owner_id FROM adventures WHERE last_saved_at < ?", cutoff)
}

func (s *SQLiteStore) listOwners(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, &StorageError{Op: op, Err: err}
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	return owners, nil
}

// ListExpired lazily yields owners whose last save exceeds maxAge. Rows are
// streamed straight off the cursor; the sequence is one-shot.
func (s *SQLiteStore) ListExpired(ctx context.Context, maxAge time.Duration) iter.Seq2[string, error] {
	cutoff := time.Now().UTC().Add(-maxAge)
	return func(yield func(string, error) bool) {
		rows, err := s.db.QueryContext(ctx,
			"SELECT owner_id FROM adventures WHERE last_saved_at < ?", cutoff)
		if err != nil {
			yield("", &StorageError{Op: "list expired", Err: err})
			return
		}
		defer rows.Close()

		for rows.Next() {
			var owner string
			if err := rows.Scan(&owner); err != nil {
				yield("", &StorageError{Op: "list expired", Err: err})
				return
			}
			if !yield(owner, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield("", &StorageError{Op: "list expired", Err: err})
		}
	}
}

// ClearAll removes every record and returns the number removed.
func (s *SQLiteStore) ClearAll(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM adventures")
	if err != nil {
		return 0, &StorageError{Op: "clear all", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "clear all", Err: err}
	}
	s.logger.Info("cleared all sessions", "count", n)
	return int(n), nil
}

// Stats reports cache-wide counts.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		FROM adventures`,
		string(session.StateActive), string(session.StatePaused),
	).Scan(&st.Total, &st.Active, &st.Paused)
	if err != nil {
		return Stats{}, &StorageError{Op: "stats", Err: err}
	}

	var oldest time.Time
	err = s.db.QueryRowContext(ctx,
		"SELECT created_at FROM adventures ORDER BY created_at LIMIT 1",
	).Scan(&oldest)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return Stats{}, &StorageError{Op: "stats", Err: err}
	default:
		st.Oldest = oldest
	}
	return st, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
