// Package sqlite implements the repository interfaces on SQLite through
// database/sql and the pure-Go modernc.org/sqlite driver (no CGo, so the
// binary cross-compiles anywhere Go runs).
//
// The schema is the arbitration point for the core's consistency rules:
// the unique index on email(email) (NOCASE collation) decides DuplicateEmail
// races, the unique index on social_login(provider, provider_user_id)
// decides concurrent-linking races, and ON DELETE CASCADE implements the
// ownership graph — deleting a user takes its emails, social logins, roles,
// and direct grants with it, while grants the user issued to others survive
// with granted_by set NULL.
//
// Multi-row mutations run inside a single transaction; a half-applied
// primary switch or link is never visible to a concurrent reader.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/letsyahu/identity/internal/model"
)

// DB wraps the connection pool and implements the repository interfaces.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath, applies the pragmas the
// server depends on, runs migrations, and seeds the role → permission
// configuration. Use ":memory:" in tests.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each pooled connection to ":memory:" would get its own empty
	// database; pin the pool to one connection so they all see the same.
	if strings.Contains(dbPath, ":memory:") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets reads proceed during a write; foreign_keys is off by
	// default in SQLite and the cascade graph depends on it. busy_timeout
	// makes concurrent writers queue instead of failing immediately.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	if err := db.seedRolePermissions(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: seeding role permissions: %w", err)
	}

	return db, nil
}

// Close closes the connection pool, flushing the WAL.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS user (
			user_id       TEXT PRIMARY KEY,
			password_hash TEXT,
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS email (
			email_id   TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES user(user_id) ON DELETE CASCADE,
			email      TEXT NOT NULL COLLATE NOCASE,
			verified   INTEGER NOT NULL DEFAULT 0,
			is_primary INTEGER NOT NULL DEFAULT 0
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_email_address ON email(email);
		CREATE INDEX IF NOT EXISTS idx_email_user ON email(user_id);

		CREATE TABLE IF NOT EXISTS social_login (
			social_login_id  TEXT PRIMARY KEY,
			email_id         TEXT NOT NULL REFERENCES email(email_id) ON DELETE CASCADE,
			user_id          TEXT NOT NULL REFERENCES user(user_id) ON DELETE CASCADE,
			provider         TEXT NOT NULL,
			provider_user_id TEXT NOT NULL,
			UNIQUE (provider, provider_user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_social_login_user ON social_login(user_id);

		CREATE TABLE IF NOT EXISTS user_role (
			user_id TEXT NOT NULL REFERENCES user(user_id) ON DELETE CASCADE,
			role    TEXT NOT NULL,
			PRIMARY KEY (user_id, role)
		);

		CREATE TABLE IF NOT EXISTS role_permission (
			role       TEXT NOT NULL,
			permission TEXT NOT NULL,
			PRIMARY KEY (role, permission)
		);

		CREATE TABLE IF NOT EXISTS user_permission (
			user_id    TEXT NOT NULL REFERENCES user(user_id) ON DELETE CASCADE,
			permission TEXT NOT NULL,
			granted_by TEXT REFERENCES user(user_id) ON DELETE SET NULL,
			created_at DATETIME NOT NULL,
			PRIMARY KEY (user_id, permission)
		);

		CREATE TABLE IF NOT EXISTS revocation (
			user_id        TEXT PRIMARY KEY,
			revoked_before DATETIME NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// seedRolePermissions loads the closed role → permission configuration.
// INSERT OR IGNORE makes bootstrap idempotent; the table is never written
// again after startup.
func (db *DB) seedRolePermissions() error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for role, perms := range model.DefaultRolePermissions {
		for _, p := range perms {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO role_permission (role, permission) VALUES (?, ?)`,
				string(role), string(p),
			); err != nil {
				return fmt.Errorf("seeding %s/%s: %w", role, p, err)
			}
		}
	}
	return tx.Commit()
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on
// the given column (formatted "table.column" by SQLite). String matching is
// the portable way to do this with modernc.org/sqlite, which formats
// constraint errors the same way the C library does.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}

// inTx runs fn inside a transaction, rolling back on error.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing transaction: %w", err)
	}
	return nil
}
