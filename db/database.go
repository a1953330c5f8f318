package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("db: database is closed")

// Database owns the application connection and its lifecycle.
//
// Usage:
//
//	database, err := db.Open(ctx, db.DefaultConfig("data/retouch.db"))
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	users := db.NewUserStore(database)
type Database struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Config holds Database settings.
type Config struct {
	Path string
	// Connection overrides the default pool settings.
	Connection *ConnectionConfig
	// SkipMigrations leaves the schema untouched.
	SkipMigrations bool
}

// DefaultConfig returns a config that migrates on open.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Open creates parent directories, applies pending migrations and opens the
// application connection.
func Open(ctx context.Context, config Config) (*Database, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if dir := filepath.Dir(config.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	// Migrations run on their own connection; golang-migrate closes the
	// connection it is handed.
	if !config.SkipMigrations {
		if err := MigrateUp(ctx, config.Path); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}

	connConfig := DefaultConnectionConfig(config.Path)
	if config.Connection != nil {
		connConfig = *config.Connection
		connConfig.Path = config.Path
	}
	conn, err := NewSQLiteConnection(ctx, connConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	return &Database{db: conn, path: config.Path}, nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// conn returns the live connection or ErrClosed.
func (d *Database) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrClosed
	}
	return d.db, nil
}

// Ping verifies the connection is alive. Used by the health endpoint.
func (d *Database) Ping(ctx context.Context) error {
	conn, err := d.conn()
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

// Close closes the connection. Calling Close twice is safe.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
