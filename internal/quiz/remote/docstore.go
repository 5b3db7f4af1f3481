package remote

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DefaultMaxAttempts is how many times RunTransaction runs its body before
// giving up with ErrConflict.
const DefaultMaxAttempts = 5

// Options configures a DocStore.
type Options struct {
	// MaxAttempts bounds transaction retries (default: DefaultMaxAttempts)
	MaxAttempts int

	// Logger for conflict retries (default: stderr with [remote] prefix)
	Logger *log.Logger
}

// DocStore is a Store kept in a single SQL table of JSON documents.
//
// It runs against an sqlite3 file, a libsql/Turso database, or postgres.
// Transactions are optimistic: every document carries a version that the
// commit checks and bumps.
type DocStore struct {
	conn        *sql.DB
	dialect     dialect
	maxAttempts int
	logger      *log.Logger
}

// Open connects to the backend named by driver ("sqlite3", "libsql" or
// "postgres") and creates the documents table if needed.
//
// For sqlite3 a bare file path is accepted and gets WAL and busy-timeout
// pragmas.
func Open(ctx context.Context, driver, dsn string, opts Options) (*DocStore, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("remote dsn is required")
	}

	if driver == "sqlite3" && !strings.HasPrefix(dsn, "file:") {
		params := url.Values{}
		params.Add("_pragma", "journal_mode(wal)")
		params.Add("_pragma", "busy_timeout(10000)")
		params.Set("_txlock", "immediate")
		dsn = "file:" + dsn + "?" + params.Encode()
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to remote store: %w: %w", ErrUnavailable, err)
	}

	s := NewDocStore(conn, d.name, opts)
	if err := s.InitSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// NewDocStore wraps an already open connection. The caller must run
// InitSchema before first use.
func NewDocStore(conn *sql.DB, driver string, opts Options) *DocStore {
	d, _ := dialectFor(driver)
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &DocStore{
		conn:        conn,
		dialect:     d,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
	}
}

// InitSchema creates the documents table.
func (s *DocStore) InitSchema(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, documentsDDL); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *DocStore) Close() error {
	return s.conn.Close()
}

// Driver returns the backend driver name.
func (s *DocStore) Driver() string {
	return s.dialect.name
}

// NewID returns a fresh document id: 32 lowercase hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// AddDocument implements Store.
func (s *DocStore) AddDocument(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := checkPath(collection, "x"); err != nil {
		return "", err
	}
	raw, err := encodeFields(fields)
	if err != nil {
		return "", err
	}

	id := NewID()
	_, err = s.conn.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO documents (collection, id, fields, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
	`), collection, id, raw, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("failed to add document to %s: %w: %w", collection, ErrUnavailable, err)
	}
	return id, nil
}

// GetDocument implements Store.
func (s *DocStore) GetDocument(ctx context.Context, collection, id string) (map[string]any, error) {
	if err := checkPath(collection, id); err != nil {
		return nil, err
	}
	fields, _, err := s.read(ctx, s.conn, collection, id)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	return fields, nil
}

// SetDocument implements Store.
func (s *DocStore) SetDocument(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := checkPath(collection, id); err != nil {
		return err
	}
	raw, err := encodeFields(fields)
	if err != nil {
		return err
	}
	if _, err := s.conn.ExecContext(ctx, s.dialect.rebind(upsertSQL), collection, id, raw, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to set document %s/%s: %w: %w", collection, id, ErrUnavailable, err)
	}
	return nil
}

// QueryCollection implements Store.
func (s *DocStore) QueryCollection(ctx context.Context, q Query) ([]Document, error) {
	if err := checkPath(q.Collection, "x"); err != nil {
		return nil, err
	}

	var b strings.Builder
	args := []any{q.Collection}
	b.WriteString(`SELECT id, fields FROM documents WHERE collection = ?`)

	for _, f := range q.Filters {
		expr, err := s.dialect.fieldExpr(f.Field)
		if err != nil {
			return nil, err
		}
		arg, placeholder, err := s.dialect.filterArg(f.Value)
		if err != nil {
			return nil, err
		}
		b.WriteString(" AND " + expr + " = " + placeholder)
		args = append(args, arg)
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	if q.OrderBy != "" {
		expr, err := s.dialect.fieldExpr(q.OrderBy)
		if err != nil {
			return nil, err
		}
		b.WriteString(" ORDER BY " + expr + " " + dir + ", id ASC")
	} else {
		b.WriteString(" ORDER BY id " + dir)
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, s.dialect.rebind(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w: %w", q.Collection, ErrUnavailable, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s/%s: %w", q.Collection, id, err)
		}
		docs = append(docs, Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w: %w", q.Collection, ErrUnavailable, err)
	}
	return docs, nil
}

// RunTransaction implements Store.
func (s *DocStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Txn) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		t := newTxn(ctx, s)
		if err := fn(ctx, t); err != nil {
			return err
		}

		err := s.commit(ctx, t)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
		lastErr = err

		if attempt < s.maxAttempts {
			s.logger.Printf("transaction conflict (attempt %d/%d), retrying", attempt, s.maxAttempts)
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", s.maxAttempts, lastErr)
}

const upsertSQL = `
	INSERT INTO documents (collection, id, fields, version, updated_at)
	VALUES (?, ?, ?, 1, ?)
	ON CONFLICT (collection, id) DO UPDATE SET
		fields = excluded.fields,
		version = documents.version + 1,
		updated_at = excluded.updated_at
`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// read returns a document's fields and version. Missing documents return
// nil fields and version 0.
func (s *DocStore) read(ctx context.Context, q querier, collection, id string) (map[string]any, int64, error) {
	var raw string
	var version int64
	err := q.QueryRowContext(ctx, s.dialect.rebind(`
		SELECT fields, version FROM documents WHERE collection = ? AND id = ?
	`), collection, id).Scan(&raw, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s/%s: %w: %w", collection, id, ErrUnavailable, err)
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("document %s/%s: %w", collection, id, err)
	}
	return fields, version, nil
}

// commit applies the buffered writes of t in one SQL transaction.
// Any document whose version moved since t read it fails the commit with
// ErrConflict.
func (s *DocStore) commit(ctx context.Context, t *txn) error {
	if len(t.writes) == 0 && len(t.reads) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	written := make(map[docKey]bool, len(t.writes))

	for _, w := range t.writes {
		written[w.key] = true
		raw, err := encodeFields(w.fields)
		if err != nil {
			return err
		}

		seen, wasRead := t.reads[w.key]
		var res sql.Result
		switch {
		case !wasRead:
			res, err = tx.ExecContext(ctx, s.dialect.rebind(upsertSQL), w.key.collection, w.key.id, raw, now)
		case seen.version == 0:
			res, err = tx.ExecContext(ctx, s.dialect.rebind(`
				INSERT INTO documents (collection, id, fields, version, updated_at)
				VALUES (?, ?, ?, 1, ?)
				ON CONFLICT (collection, id) DO NOTHING
			`), w.key.collection, w.key.id, raw, now)
		default:
			res, err = tx.ExecContext(ctx, s.dialect.rebind(`
				UPDATE documents SET fields = ?, version = version + 1, updated_at = ?
				WHERE collection = ? AND id = ? AND version = ?
			`), raw, now, w.key.collection, w.key.id, seen.version)
		}
		if err != nil {
			return fmt.Errorf("failed to write %s: %w: %w", w.key, ErrUnavailable, err)
		}
		if !wasRead {
			continue
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check write of %s: %w", w.key, err)
		}
		if n == 0 {
			return fmt.Errorf("%s changed concurrently: %w", w.key, ErrConflict)
		}
		// a later write of the same key checks against our own bump
		t.reads[w.key] = readState{version: seen.version + 1}
	}

	// Documents that were only read must still be at the version we saw.
	for key, seen := range t.reads {
		if written[key] {
			continue
		}
		_, version, err := s.read(ctx, tx, key.collection, key.id)
		if err != nil {
			return err
		}
		if version != seen.version {
			return fmt.Errorf("%s changed concurrently: %w", key, ErrConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// sleepBackoff waits roughly 10ms * attempt plus jitter.
func sleepBackoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt)*10*time.Millisecond + rand.N(10*time.Millisecond)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func checkPath(collection, id string) error {
	if collection == "" || strings.HasPrefix(collection, "/") || strings.HasSuffix(collection, "/") {
		return fmt.Errorf("invalid collection path %q", collection)
	}
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("invalid document id %q", id)
	}
	return nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode document fields: %w", err)
	}
	return string(raw), nil
}

// decodeFields keeps numbers as json.Number so int64 counters round-trip
// exactly.
func decodeFields(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode document fields: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}
