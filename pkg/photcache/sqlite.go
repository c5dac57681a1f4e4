package photcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

const (
	sqliteDriver        = "sqlite"
	sqliteSchemaVersion = 1

	// Fixed width so fetched_at sorts lexically.
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// Path is a local filesystem path, a file: DSN, or ":memory:".
	Path string
}

// SQLiteStore keeps entries in a single SQLite database, one row per
// fingerprint.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (and creates if needed) a SQLite-backed cache.
//
// Local files get WAL and busy_timeout so concurrent CLI processes can read
// while one writes.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	if err := configureSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func buildDSN(cfg SQLiteConfig) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("cache db path is required")
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if err := ensureStoreDir(path); err != nil {
		return "", err
	}
	return "file:" + filepath.Clean(path), nil
}

func ensureStoreDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache db directory: %w", err)
	}
	return nil
}

func configureSQLite(ctx context.Context, db *sql.DB, dsn string) error {
	// One connection keeps :memory: databases coherent and avoids writer
	// lock contention on files.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var journalMode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busyTimeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`INSERT OR IGNORE INTO cache_meta (id, schema_version, created_at) VALUES (1, ?, ?);`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			fingerprint TEXT PRIMARY KEY,
			fetched_at TEXT NOT NULL,
			request_json TEXT NOT NULL,
			records_json TEXT NOT NULL,
			record_count INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_fetched_at ON cache_entries(fetched_at);`,
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, stmt := range stmts {
		if i == 1 {
			if _, err := s.db.ExecContext(ctx, stmt, sqliteSchemaVersion, now); err != nil {
				return fmt.Errorf("init schema meta: %w", err)
			}
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, entry *Entry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	reqJSON, err := json.Marshal(entry.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	records := entry.Records
	if records == nil {
		records = []photometry.PhotometryRecord{}
	}
	recJSON, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (fingerprint, fetched_at, request_json, records_json, record_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			fetched_at=excluded.fetched_at,
			request_json=excluded.request_json,
			records_json=excluded.records_json,
			record_count=excluded.record_count
	`, entry.Fingerprint, entry.FetchedAt.UTC().Format(sqliteTimeLayout), string(reqJSON), string(recJSON), len(entry.Records))
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, fingerprint string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, fetched_at, request_json, records_json
		FROM cache_entries WHERE fingerprint = ?
	`, fingerprint)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT fingerprint, fetched_at, request_json, records_json
		FROM cache_entries ORDER BY fetched_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (*Entry, error) {
	var (
		e                           Entry
		fetchedAt, reqJSON, recJSON string
	)
	if err := r.Scan(&e.Fingerprint, &fetchedAt, &reqJSON, &recJSON); err != nil {
		return nil, err
	}
	t, err := time.Parse(sqliteTimeLayout, fetchedAt)
	if err != nil {
		return nil, fmt.Errorf("parse fetched_at for %s: %w", e.Fingerprint, err)
	}
	e.FetchedAt = t
	if err := json.Unmarshal([]byte(reqJSON), &e.Request); err != nil {
		return nil, fmt.Errorf("parse request for %s: %w", e.Fingerprint, err)
	}
	if err := json.Unmarshal([]byte(recJSON), &e.Records); err != nil {
		return nil, fmt.Errorf("parse records for %s: %w", e.Fingerprint, err)
	}
	return &e, nil
}
