package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/wirecall/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id         TEXT PRIMARY KEY,
	caller_id  TEXT NOT NULL,
	callee_id  TEXT NOT NULL,
	room_id    TEXT NOT NULL UNIQUE,
	status     TEXT NOT NULL DEFAULT 'pending',
	end_reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	ended_at   DATETIME
);

CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls(caller_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_calls_callee ON calls(callee_id, created_at DESC);
`

// SQLiteStore implements store.CallStore for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the call schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateCall creates a new call.
func (s *SQLiteStore) CreateCall(ctx context.Context, call *store.Call) error {
	query := `
		INSERT INTO calls (id, caller_id, callee_id, room_id, status, end_reason, created_at, updated_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	updatedAt := call.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = call.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, query,
		call.ID,
		call.CallerID,
		call.CalleeID,
		call.RoomID,
		string(call.Status),
		string(call.EndReason),
		call.CreatedAt.UTC(),
		updatedAt.UTC(),
		call.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}
	return nil
}

// UpdateCallStatus updates the status of an existing call.
func (s *SQLiteStore) UpdateCallStatus(ctx context.Context, callID string, status store.CallStatus, reason store.EndReason, at time.Time) error {
	query := `
		UPDATE calls
		SET status = ?,
		    end_reason = CASE WHEN ? <> '' THEN ? ELSE end_reason END,
		    updated_at = ?,
		    ended_at = CASE WHEN ? = 'ended' AND ended_at IS NULL THEN ? ELSE ended_at END
		WHERE id = ?
	`
	at = at.UTC()
	result, err := s.db.ExecContext(ctx, query,
		string(status),
		string(reason), string(reason),
		at,
		string(status), at,
		callID,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update call %s: %w", callID, store.ErrNotFound)
	}
	return nil
}

// GetCall retrieves a call by ID.
func (s *SQLiteStore) GetCall(ctx context.Context, id string) (*store.Call, error) {
	query := `
		SELECT id, caller_id, callee_id, room_id, status, end_reason, created_at, updated_at, ended_at
		FROM calls
		WHERE id = ?
	`
	call, err := scanCall(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("call %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query call: %w", err)
	}
	return call, nil
}

// ListCallsForParticipant lists recent calls for a participant, newest first.
func (s *SQLiteStore) ListCallsForParticipant(ctx context.Context, identity string, limit int) ([]*store.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, caller_id, callee_id, room_id, status, end_reason, created_at, updated_at, ended_at
		FROM calls
		WHERE caller_id = ? OR callee_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, identity, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := make([]*store.Call, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, call)
	}

	return calls, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*store.Call, error) {
	var call store.Call
	var status, reason string
	var endedAt sql.NullTime

	if err := row.Scan(
		&call.ID,
		&call.CallerID,
		&call.CalleeID,
		&call.RoomID,
		&status,
		&reason,
		&call.CreatedAt,
		&call.UpdatedAt,
		&endedAt,
	); err != nil {
		return nil, err
	}

	call.Status = store.CallStatus(status)
	call.EndReason = store.EndReason(reason)
	if endedAt.Valid {
		call.EndedAt = &endedAt.Time
	}
	return &call, nil
}

// Ensure SQLiteStore implements store.CallStore
var _ store.CallStore = (*SQLiteStore)(nil)
