// Package local provides the on-device cache for quiz attempts and user profiles.
//
// The cache is an embedded SQLite database (ncruces/go-sqlite3) opened in WAL
// mode so that live history queries can read while the push worker writes.
//
// Architecture:
//   - Database file: $QUIZSYNC_HOME/quiz.db
//   - Tables: users, quiz_attempts (FK user_id -> users.uid, ON DELETE CASCADE)
//   - Every write notifies subscribers of the affected user (see notify.go)
//
// Each exported write is a single statement or a single transaction, so
// readers never observe a half-applied change.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/quizapp/quizsync/internal/quiz/schema"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite connection holding the local cache.
type Store struct {
	conn     *sql.DB
	path     string
	notifier *notifier
}

// Open creates or opens the cache database at path.
//
// Pragmas are passed in the DSN so that every pooled connection gets them,
// not only the first one.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	params := url.Values{}
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	connStr := "file:" + path + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &Store{
		conn:     conn,
		path:     path,
		notifier: newNotifier(),
	}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	s.notifier.closeAll()

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the cache tables if they don't exist. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS users (
		uid TEXT PRIMARY KEY,
		name TEXT,
		email TEXT
	);

	CREATE TABLE IF NOT EXISTS quiz_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		remote_id TEXT,
		user_id TEXT NOT NULL,
		score INTEGER NOT NULL,
		total_questions INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		sync_state TEXT NOT NULL DEFAULT 'pending'
			CHECK (sync_state IN ('pending', 'syncing', 'synced')),
		claimed_at INTEGER,
		FOREIGN KEY (user_id) REFERENCES users(uid) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_user ON quiz_attempts(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_attempts_state ON quiz_attempts(sync_state, timestamp);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_remote
		ON quiz_attempts(remote_id) WHERE remote_id IS NOT NULL;
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s.migrateClaimedAt(ctx)
}

// migrateClaimedAt adds the claim lease column to caches created before it
// existed. Rows already syncing get a NULL lease and count as stale.
func (s *Store) migrateClaimedAt(ctx context.Context) error {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('quiz_attempts') WHERE name = 'claimed_at'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to inspect quiz_attempts: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.conn.ExecContext(ctx, `ALTER TABLE quiz_attempts ADD COLUMN claimed_at INTEGER`); err != nil {
		return fmt.Errorf("failed to add claimed_at column: %w", err)
	}
	return nil
}

const attemptColumns = `id, remote_id, user_id, score, total_questions, timestamp, sync_state`

// InsertAttempt inserts a new attempt and returns its local id.
//
// A bare profile row is created for unknown users in the same transaction so
// that the foreign key always holds.
func (s *Store) InsertAttempt(ctx context.Context, a *schema.QuizAttempt) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, fmt.Errorf("invalid attempt: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO users (uid) VALUES (?) ON CONFLICT(uid) DO NOTHING`, a.UserID); err != nil {
		return 0, fmt.Errorf("failed to ensure user %s: %w", a.UserID, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO quiz_attempts (remote_id, user_id, score, total_questions, timestamp, sync_state)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullString(a.RemoteID), a.UserID, a.Score, a.TotalQuestions, a.Timestamp, string(a.SyncState),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert attempt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read attempt id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	a.LocalID = id
	s.notifier.notify(a.UserID)
	return id, nil
}

// UpdateAttempt overwrites every column of the row identified by a.LocalID.
// Returns ErrNotFound if the row doesn't exist.
func (s *Store) UpdateAttempt(ctx context.Context, a *schema.QuizAttempt) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid attempt: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE quiz_attempts
		SET remote_id = ?, user_id = ?, score = ?, total_questions = ?, timestamp = ?, sync_state = ?,
			claimed_at = NULL
		WHERE id = ?`,
		nullString(a.RemoteID), a.UserID, a.Score, a.TotalQuestions, a.Timestamp, string(a.SyncState), a.LocalID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt %d: %w", a.LocalID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("attempt %d: %w", a.LocalID, ErrNotFound)
	}

	s.notifier.notify(a.UserID)
	return nil
}

// GetAttempt retrieves an attempt by local id.
// Returns ErrNotFound if no row matches.
func (s *Store) GetAttempt(ctx context.Context, id int64) (*schema.QuizAttempt, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attempt %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt %d: %w", id, err)
	}
	return a, nil
}

// GetAttemptByRemoteID retrieves the attempt mapped to a remote document.
// Returns ErrNotFound if no row matches.
func (s *Store) GetAttemptByRemoteID(ctx context.Context, remoteID string) (*schema.QuizAttempt, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts WHERE remote_id = ? LIMIT 1`, remoteID)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attempt with remote id %s: %w", remoteID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt by remote id %s: %w", remoteID, err)
	}
	return a, nil
}

// AttemptFilter configures ListAttempts.
type AttemptFilter struct {
	// UserID filters by owner (empty = all users)
	UserID string
	// State filters by sync state (empty = all states)
	State schema.SyncState
	// Since keeps attempts at or after this time in ms (0 = no bound)
	Since int64
	// Ascending orders oldest first; the default is newest first
	Ascending bool
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListAttempts returns attempts matching the filter, ordered by timestamp.
func (s *Store) ListAttempts(ctx context.Context, filter AttemptFilter) ([]*schema.QuizAttempt, error) {
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.State != "" {
		conditions = append(conditions, "sync_state = ?")
		args = append(args, string(filter.State))
	}
	if filter.Since > 0 {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since)
	}

	query := `SELECT ` + attemptColumns + ` FROM quiz_attempts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if filter.Ascending {
		query += " ORDER BY timestamp ASC, id ASC"
	} else {
		query += " ORDER BY timestamp DESC, id DESC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*schema.QuizAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}

// HistoryForUser returns the user's attempts, newest first.
func (s *Store) HistoryForUser(ctx context.Context, userID string) ([]*schema.QuizAttempt, error) {
	return s.ListAttempts(ctx, AttemptFilter{UserID: userID})
}

// PendingAttempts returns every attempt not yet pushed, oldest first.
func (s *Store) PendingAttempts(ctx context.Context) ([]*schema.QuizAttempt, error) {
	return s.ListAttempts(ctx, AttemptFilter{State: schema.SyncPending, Ascending: true})
}

// ClaimAttempt moves an attempt from pending to syncing and stamps the claim
// with now. It returns false if the row is not pending, meaning another push
// owns it or it is already synced.
func (s *Store) ClaimAttempt(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE quiz_attempts SET sync_state = 'syncing', claimed_at = ?
		WHERE id = ? AND sync_state = 'pending'`, now.UnixMilli(), id)
	if err != nil {
		return false, fmt.Errorf("failed to claim attempt %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim attempt %d: %w", id, err)
	}
	return n == 1, nil
}

// MarkSynced records the remote id of a claimed attempt and marks it synced.
func (s *Store) MarkSynced(ctx context.Context, id int64, remoteID string) error {
	var userID string
	err := s.conn.QueryRowContext(ctx, `
		UPDATE quiz_attempts SET remote_id = ?, sync_state = 'synced', claimed_at = NULL
		WHERE id = ?
		RETURNING user_id`, remoteID, id).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("attempt %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to mark attempt %d synced: %w", id, err)
	}
	s.notifier.notify(userID)
	return nil
}

// ReleaseAttempt returns a claimed attempt to pending after a failed push.
func (s *Store) ReleaseAttempt(ctx context.Context, id int64) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE quiz_attempts SET sync_state = 'pending', claimed_at = NULL WHERE id = ? AND sync_state = 'syncing'`, id)
	if err != nil {
		return fmt.Errorf("failed to release attempt %d: %w", id, err)
	}
	return nil
}

// ResetStaleClaims returns syncing rows claimed before cutoff to pending.
// Claims stamped at or after cutoff belong to a push that may still be running,
// possibly in another process sharing the cache file, and are left alone.
func (s *Store) ResetStaleClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE quiz_attempts SET sync_state = 'pending', claimed_at = NULL
		WHERE sync_state = 'syncing' AND (claimed_at IS NULL OR claimed_at < ?)`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale claims: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.notifier.notifyAll()
	}
	return n, nil
}

// DeleteAttemptsForUser removes every attempt of a user. Idempotent.
func (s *Store) DeleteAttemptsForUser(ctx context.Context, userID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM quiz_attempts WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete attempts for %s: %w", userID, err)
	}
	s.notifier.notify(userID)
	return nil
}

// CountAttempts returns the number of attempts, optionally for one user.
func (s *Store) CountAttempts(ctx context.Context, userID string) (int, error) {
	query := "SELECT COUNT(*) FROM quiz_attempts"
	var args []interface{}
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	var count int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

// StateCounts returns the number of attempts per sync state.
func (s *Store) StateCounts(ctx context.Context) (map[schema.SyncState]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT sync_state, COUNT(*) FROM quiz_attempts GROUP BY sync_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sync states: %w", err)
	}
	defer rows.Close()

	counts := make(map[schema.SyncState]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan sync state count: %w", err)
		}
		counts[schema.SyncState(state)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*schema.QuizAttempt, error) {
	var a schema.QuizAttempt
	var remoteID sql.NullString
	var state string

	if err := row.Scan(
		&a.LocalID,
		&remoteID,
		&a.UserID,
		&a.Score,
		&a.TotalQuestions,
		&a.Timestamp,
		&state,
	); err != nil {
		return nil, err
	}

	if remoteID.Valid {
		id := remoteID.String
		a.RemoteID = &id
	}
	a.SyncState = schema.SyncState(state)
	return &a, nil
}

// nullString converts an optional string to a nullable SQL value.
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
