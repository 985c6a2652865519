package scriptcache

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// FileName is the database file created inside the cache directory.
const FileName = "scripts.sqlite3"

const schema = `CREATE TABLE IF NOT EXISTS scripts (
	key        TEXT PRIMARY KEY,
	origin     TEXT NOT NULL,
	loader     TEXT NOT NULL,
	code       BLOB NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLite persists prepared scripts in a SQLite database with
// brotli-compressed code, fronted by an in-memory LRU.
type SQLite struct {
	db  *sql.DB
	mem *Memory
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) {dir}/scripts.sqlite3. memEntries sizes
// the in-memory front cache.
func OpenSQLite(dir string, memEntries int) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return openDSN(filepath.Join(dir, FileName), memEntries)
}

// OpenSQLiteMemory opens a cache backed by an in-memory database.
func OpenSQLiteMemory(memEntries int) (*SQLite, error) {
	return openDSN(":memory:", memEntries)
}

func openDSN(dsn string, memEntries int) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening script cache %q: %w", dsn, err)
	}
	if dsn == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating script cache schema: %w", err)
	}
	return &SQLite{db: db, mem: NewMemory(memEntries)}, nil
}

// Get looks in memory first, then in the database.
func (s *SQLite) Get(key string) (Entry, bool, error) {
	if e, ok, _ := s.mem.Get(key); ok {
		return e, true, nil
	}
	var (
		e       Entry
		blob    []byte
		created int64
	)
	err := s.db.QueryRow(
		"SELECT key, origin, loader, code, created_at FROM scripts WHERE key = ?", key,
	).Scan(&e.Key, &e.Origin, &e.Loader, &blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("reading cached script: %w", err)
	}
	code, err := decompress(blob)
	if err != nil {
		return Entry{}, false, fmt.Errorf("decompressing cached script %s: %w", key, err)
	}
	e.Code = code
	e.CreatedAt = time.Unix(0, created)
	_ = s.mem.Put(e)
	return e, true, nil
}

// Put writes e to the database and the memory cache.
func (s *SQLite) Put(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	blob, err := compress(e.Code)
	if err != nil {
		return fmt.Errorf("compressing script: %w", err)
	}
	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO scripts (key, origin, loader, code, created_at) VALUES (?, ?, ?, ?, ?)",
		e.Key, e.Origin, e.Loader, blob, e.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("writing cached script: %w", err)
	}
	return s.mem.Put(e)
}

// Len returns the number of scripts in the database.
func (s *SQLite) Len() int {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM scripts").Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close closes the database.
func (s *SQLite) Close() error {
	_ = s.mem.Close()
	return s.db.Close()
}

func compress(code string) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := io.WriteString(w, code); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(blob []byte) (string, error) {
	data, err := io.ReadAll(brotli.NewReader(bytes.NewReader(blob)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
