package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS cookies (
	name    TEXT PRIMARY KEY,
	value   TEXT NOT NULL,
	expires INTEGER NOT NULL DEFAULT 0
);`

// SQLite persists state in a single database file. Every write is committed
// before the call returns.
type SQLite struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("storage: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return &SQLite{db: db, path: path, now: time.Now}, nil
}

func sqliteDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Get(key string) (string, bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *SQLite) Set(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

func (s *SQLite) Remove(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, k); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) Cookie(name string) (string, bool, error) {
	var v string
	var expires int64
	err := s.db.QueryRow(`SELECT value, expires FROM cookies WHERE name = ?`, name).Scan(&v, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if expires != 0 && expires <= s.now().Unix() {
		return "", false, nil
	}
	return v, true, nil
}

func (s *SQLite) SetCookie(name, value string, expires time.Time) error {
	var exp int64
	if !expires.IsZero() {
		exp = expires.Unix()
	}
	_, err := s.db.Exec(`INSERT INTO cookies (name, value, expires) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, expires = excluded.expires`, name, value, exp)
	return err
}

func (s *SQLite) ExpireCookie(name string) error {
	// Unix 0 means "session cookie" in this table, so expire one second later.
	return s.SetCookie(name, "", cookieEpoch.Add(time.Second))
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
