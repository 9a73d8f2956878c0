/*
Package sqlite provides a SQLite-backed implementation of station.TxStore.

PURPOSE:
  Persists every collection in one documents table keyed by
  (collection, id). Record bodies are JSON; the version column carries the
  optimistic concurrency counter surfaced as "_version".

KEY TABLES:
  documents: collection, id, version, body (JSON), updated_at

INDEXES:
  - primary key (collection, id): point reads and CAS updates
  - idx_documents_timestamp: date-range scans for sales and expenses

CONCURRENCY:
  Update is a compare-and-swap (UPDATE ... WHERE version = ?). A busy or
  locked database surfaces as ErrConflictRetry; anything else the driver
  reports is ErrStoreUnavailable.

  The pool is limited to one connection. SQLite has a single writer anyway,
  and ":memory:" databases are per-connection, so more connections would
  see different databases.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/station.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - station/store.go: Interface definitions
  - station/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/station-engine/station"
)

// Store implements station.TxStore using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_timestamp
		ON documents(collection, json_extract(body, '$.timestamp'));
	`
	_, err := s.db.Exec(schema)
	return err
}

// Reset removes every document. Used when loading demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return mapError("reset", err)
	}
	return nil
}

// =============================================================================
// STORE
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Get(ctx context.Context, coll station.Collection, id string) (station.Document, error) {
	return get(ctx, s.db, coll, id)
}

func (s *Store) Create(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return create(ctx, s.db, coll, id, doc)
}

func (s *Store) Put(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return put(ctx, s.db, coll, id, doc)
}

func (s *Store) Update(ctx context.Context, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	return update(ctx, s.db, coll, id, partial, ifVersion)
}

func (s *Store) Delete(ctx context.Context, coll station.Collection, id string) error {
	return remove(ctx, s.db, coll, id)
}

func (s *Store) Query(ctx context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	return query(ctx, s.db, coll, filters)
}

// WithTx executes a function within a database transaction.
// The passed Store uses the sql.Tx for every read and write.
func (s *Store) WithTx(ctx context.Context, fn func(store station.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return mapError("commit", err)
	}
	return nil
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Get(ctx context.Context, coll station.Collection, id string) (station.Document, error) {
	return get(ctx, ts.tx, coll, id)
}

func (ts *txStore) Create(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return create(ctx, ts.tx, coll, id, doc)
}

func (ts *txStore) Put(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	return put(ctx, ts.tx, coll, id, doc)
}

func (ts *txStore) Update(ctx context.Context, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	return update(ctx, ts.tx, coll, id, partial, ifVersion)
}

func (ts *txStore) Delete(ctx context.Context, coll station.Collection, id string) error {
	return remove(ctx, ts.tx, coll, id)
}

func (ts *txStore) Query(ctx context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	return query(ctx, ts.tx, coll, filters)
}

// =============================================================================
// STATEMENTS
// =============================================================================

func get(ctx context.Context, q querier, coll station.Collection, id string) (station.Document, error) {
	var (
		version int64
		body    string
	)
	err := q.QueryRowContext(ctx,
		`SELECT version, body FROM documents WHERE collection = ? AND id = ?`,
		string(coll), id,
	).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, station.NotFound(coll, id)
	}
	if err != nil {
		return nil, mapError("get", err)
	}
	return decodeBody(body, version)
}

func create(ctx context.Context, q querier, coll station.Collection, id string, doc station.Document) (int64, error) {
	body, err := encodeBody(id, doc)
	if err != nil {
		return 0, err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, version, body, updated_at)
		VALUES (?, ?, 1, ?, ?)`,
		string(coll), id, body, now(),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return 0, station.Conflict("%s/%s already exists", coll, id)
	}
	if err != nil {
		return 0, mapError("create", err)
	}
	return 1, nil
}

func put(ctx context.Context, q querier, coll station.Collection, id string, doc station.Document) (int64, error) {
	body, err := encodeBody(id, doc)
	if err != nil {
		return 0, err
	}
	var version int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO documents (collection, id, version, body, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			version = documents.version + 1,
			body = excluded.body,
			updated_at = excluded.updated_at
		RETURNING version`,
		string(coll), id, body, now(),
	).Scan(&version)
	if err != nil {
		return 0, mapError("put", err)
	}
	return version, nil
}

func update(ctx context.Context, q querier, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	cur, err := get(ctx, q, coll, id)
	if err != nil {
		return 0, err
	}
	if ifVersion > 0 && cur.Version() != ifVersion {
		return 0, station.Conflict("%s/%s at version %d, expected %d", coll, id, cur.Version(), ifVersion)
	}
	for k, v := range partial {
		cur[k] = v
	}
	body, err := encodeBody(id, cur)
	if err != nil {
		return 0, err
	}

	// Guard on the version just read even for unconditional updates, so a
	// write between the read and this statement is not lost.
	res, err := q.ExecContext(ctx, `
		UPDATE documents SET version = version + 1, body = ?, updated_at = ?
		WHERE collection = ? AND id = ? AND version = ?`,
		body, now(), string(coll), id, cur.Version(),
	)
	if err != nil {
		return 0, mapError("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, mapError("update", err)
	}
	if n == 0 {
		return 0, station.Conflict("%s/%s changed during update", coll, id)
	}
	return cur.Version() + 1, nil
}

func remove(ctx context.Context, q querier, coll station.Collection, id string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, string(coll), id)
	if err != nil {
		return mapError("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError("delete", err)
	}
	if n == 0 {
		return station.NotFound(coll, id)
	}
	return nil
}

var fieldName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// query pushes exact string/bool matches down to json_extract and checks
// every filter again in Go. Rows are read fully before yielding so the
// consumer may issue further statements on the single connection.
func query(ctx context.Context, q querier, coll station.Collection, filters []station.Filter) iter.Seq2[station.Document, error] {
	return func(yield func(station.Document, error) bool) {
		stmt := `SELECT version, body FROM documents WHERE collection = ?`
		args := []any{string(coll)}
		for _, f := range filters {
			v, ok := f.EqualityValue()
			if !ok || !fieldName.MatchString(f.Field) {
				continue
			}
			stmt += fmt.Sprintf(` AND json_extract(body, '$.%s') = ?`, f.Field)
			args = append(args, v)
		}
		stmt += ` ORDER BY id`

		docs, err := fetch(ctx, q, stmt, args)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, doc := range docs {
			if !station.MatchAll(doc, filters) {
				continue
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func fetch(ctx context.Context, q querier, stmt string, args []any) ([]station.Document, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, mapError("query", err)
	}
	defer rows.Close()

	var docs []station.Document
	for rows.Next() {
		var (
			version int64
			body    string
		)
		if err := rows.Scan(&version, &body); err != nil {
			return nil, mapError("scan", err)
		}
		doc, err := decodeBody(body, version)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("query", err)
	}
	return docs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func encodeBody(id string, doc station.Document) (string, error) {
	cp := doc.Clone()
	if cp == nil {
		cp = station.Document{}
	}
	delete(cp, station.VersionField)
	cp["id"] = id
	raw, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(raw), nil
}

func decodeBody(body string, version int64) (station.Document, error) {
	var doc station.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc[station.VersionField] = version
	return doc, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// mapError classifies driver errors: busy/locked is a lost race, the rest
// means the store is unusable.
func mapError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
		return station.Conflict("%s: %v", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return station.Unavailable(op, err)
}
