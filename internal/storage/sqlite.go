package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "commentbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// sqliteStore loads every known key at open and writes new rows in a single
// transaction on Flush.
//
// Opening creates the database file, so Existed is tracked by an
// "initialized" meta row written on the first Flush rather than by file
// presence. A dry run therefore never counts as a previous run.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	mu      sync.Mutex
	existed bool
	known   map[string]struct{}
	pending map[string]Record
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{
		db:      db,
		log:     log,
		known:   map[string]struct{}{},
		pending: map[string]Record{},
	}
	ctx := context.Background()
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := st.loadKeys(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("dedupe state loaded",
		logx.String("path", path),
		logx.Bool("existed", st.existed),
		logx.Int("seen", len(st.known)),
	)
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *sqliteStore) loadKeys(ctx context.Context) error {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE name = 'initialized'`).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.existed = false
	case err != nil:
		return err
	default:
		s.existed = true
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM seen`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return err
		}
		s.known[k] = struct{}{}
	}
	return rows.Err()
}

func (s *sqliteStore) Existed() bool { return s.existed }

func (s *sqliteStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.known[key]; ok {
		return true
	}
	_, ok := s.pending[key]
	return ok
}

func (s *sqliteStore) Put(key string, rec Record) {
	if key == "" {
		return
	}
	s.mu.Lock()
	s.pending[key] = rec
	s.mu.Unlock()
}

func (s *sqliteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.known)
	for k := range s.pending {
		if _, ok := s.known[k]; !ok {
			n++
		}
	}
	return n
}

func (s *sqliteStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta(name, value) VALUES('initialized', ?) ON CONFLICT(name) DO NOTHING`,
		time.Now().UTC().Format(SavedAtLayout),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO seen(key, created_at, assignment_id, author_id, saved_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   created_at=excluded.created_at,
		   assignment_id=excluded.assignment_id,
		   author_id=excluded.author_id,
		   saved_at=excluded.saved_at`,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for k, rec := range s.pending {
		if _, err := stmt.ExecContext(ctx, k, nullStr(rec.CreatedAt), nullInt(rec.AssignmentID), nullInt(rec.AuthorID), rec.SavedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for k := range s.pending {
		s.known[k] = struct{}{}
	}
	s.pending = map[string]Record{}
	return nil
}

// Records returns every persisted record. Used by the state inspection command.
func (s *sqliteStore) Records(ctx context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, created_at, assignment_id, author_id, saved_at FROM seen`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]Record{}
	for rows.Next() {
		var (
			k         string
			createdAt sql.NullString
			assignID  sql.NullInt64
			authorID  sql.NullInt64
			savedAt   string
		)
		if err := rows.Scan(&k, &createdAt, &assignID, &authorID, &savedAt); err != nil {
			return nil, err
		}
		rec := Record{SavedAt: savedAt}
		if createdAt.Valid {
			v := createdAt.String
			rec.CreatedAt = &v
		}
		if assignID.Valid {
			v := assignID.Int64
			rec.AssignmentID = &v
		}
		if authorID.Valid {
			v := authorID.Int64
			rec.AuthorID = &v
		}
		out[k] = rec
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	if len(s.pending) > 0 {
		s.log.Debug("closing dedupe state with unflushed records", logx.Int("pending", len(s.pending)))
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
