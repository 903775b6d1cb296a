// Package db stores the history of scenario runs in a local SQLite database.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB is an open history database.
type DB struct {
	path string
	conn *sql.DB
}

// Open opens the database at DefaultPath.
func Open() (*DB, error) {
	return OpenAt(DefaultPath())
}

// OpenAt opens or creates the database at path and brings its schema up to
// date. A file that is not a valid database is renamed to
// <path>.corrupt.<timestamp> and replaced by an empty one.
func OpenAt(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	conn, err := openAndInit(clean)
	if err == nil {
		return &DB{path: clean, conn: conn}, nil
	}
	if !isCorrupt(err) {
		return nil, err
	}

	if _, statErr := os.Stat(clean); statErr == nil {
		backup := clean + ".corrupt." + time.Now().UTC().Format("20060102T150405Z")
		if renameErr := os.Rename(clean, backup); renameErr != nil {
			return nil, fmt.Errorf("db appears corrupt (%v), and rename failed: %w", err, renameErr)
		}
	}

	conn, err = openAndInit(clean)
	if err != nil {
		return nil, err
	}
	return &DB{path: clean, conn: conn}, nil
}

// Close releases the connection. Closing a nil DB is a no-op.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// Path returns the database file.
func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// DefaultPath is $TUITEST_HOME/data/history.db, or
// ~/.tuitest/data/history.db.
func DefaultPath() string {
	if home := os.Getenv("TUITEST_HOME"); home != "" {
		return filepath.Join(home, "data", "history.db")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".tuitest", "data", "history.db")
	}
	return filepath.Join(homeDir, ".tuitest", "data", "history.db")
}

func openAndInit(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", "file:"+filepath.ToSlash(path)+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMAs are per connection, so keep exactly one.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := initConn(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func initConn(conn *sql.DB) error {
	if err := conn.Ping(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if _, err := conn.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("set journal_mode=WAL: %w", err)
	}
	if _, err := conn.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		return fmt.Errorf("set foreign_keys=ON: %w", err)
	}
	return migrate(conn)
}

func isCorrupt(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrInvalid) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}
