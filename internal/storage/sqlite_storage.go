// internal/storage/sqlite_storage.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStorage keeps user properties in a single sqlite table.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLite opens (and creates) the sqlite database at path.
func OpenSQLite(path string) (*SQLiteStorage, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing sqlite path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	// modernc.org/sqlite uses a file path as DSN.
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// single-process local DB
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS user_properties (
	user_id TEXT NOT NULL,
	prop_key TEXT NOT NULL,
	prop_value TEXT NOT NULL,
	updated_at_unix_ms INTEGER NOT NULL,
	PRIMARY KEY (user_id, prop_key)
);
`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// GetProperty implements PropertyBag.
func (s *SQLiteStorage) GetProperty(ctx context.Context, userID, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("sqlite storage not initialized")
	}
	if err := ValidateUserID(userID); err != nil {
		return "", false, err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `
SELECT prop_value FROM user_properties WHERE user_id = ? AND prop_key = ?
`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetProperty implements PropertyBag.
func (s *SQLiteStorage) SetProperty(ctx context.Context, userID, key, value string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite storage not initialized")
	}
	if err := ValidateUserID(userID); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_properties (user_id, prop_key, prop_value, updated_at_unix_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(user_id, prop_key) DO UPDATE SET
	prop_value = excluded.prop_value,
	updated_at_unix_ms = excluded.updated_at_unix_ms
`, userID, key, value, time.Now().UnixMilli())
	return err
}

// Close implements PropertyBag.
func (s *SQLiteStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
