// Package household persists what the family tells Memu: remembered
// facts, shared list items, reminders, per-room assistant modes and the
// backup job's history.
//
// The production deployment runs on Postgres (via pgx); a single-file
// SQLite database is supported for small installs and tests. Queries are
// written once with $N placeholders and rebound for SQLite.
package household

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup or update matches no row.
var ErrNotFound = errors.New("not found")

// Dialect selects SQL syntax differences between backends.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// Store is the household database. All methods are safe for concurrent
// use; the underlying *sql.DB pools connections.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewStore opens the database for driver ("postgres" or "sqlite") and
// creates the schema if needed.
func NewStore(driver, dsn string) (*Store, error) {
	var (
		sqlDriver string
		dialect   Dialect
	)
	switch driver {
	case "postgres":
		sqlDriver, dialect = "pgx", DialectPostgres
	case "sqlite":
		sqlDriver, dialect = "sqlite3", DialectSQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == DialectSQLite {
		// One writer avoids SQLITE_BUSY between the loops and handlers.
		db.SetMaxOpenConns(1)
	}

	s, err := New(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database. The schema is migrated before
// returning.
func New(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) migrate(ctx context.Context) error {
	serial := "SERIAL PRIMARY KEY"
	if s.dialect == DialectSQLite {
		serial = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS household_memory (
			id         ` + serial + `,
			room_id    TEXT NOT NULL,
			fact       TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_room ON household_memory(room_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS shared_lists (
			id           ` + serial + `,
			room_id      TEXT NOT NULL,
			item         TEXT NOT NULL,
			added_by     TEXT NOT NULL,
			added_at     BIGINT NOT NULL,
			completed    BOOLEAN NOT NULL DEFAULT FALSE,
			completed_at BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lists_room ON shared_lists(room_id, completed)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id         ` + serial + `,
			room_id    TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			content    TEXT NOT NULL,
			due_at     BIGINT NOT NULL,
			created_at BIGINT NOT NULL,
			processed  BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_due ON reminders(processed, due_at)`,
		`CREATE TABLE IF NOT EXISTS room_settings (
			room_id    TEXT PRIMARY KEY,
			ai_mode    TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS backup_history (
			id                ` + serial + `,
			filename          TEXT NOT NULL,
			size_bytes        BIGINT NOT NULL DEFAULT 0,
			status            TEXT NOT NULL,
			error             TEXT,
			duration_seconds  INTEGER NOT NULL DEFAULT 0,
			usb_copied_at     BIGINT,
			notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
			created_at        BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backup_created ON backup_history(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

var placeholderRE = regexp.MustCompile(`\$\d+`)

// q rebinds a $N query for the store's dialect. Placeholders must appear
// in argument order and only once each.
func (s *Store) q(query string) string {
	if s.dialect == DialectSQLite {
		return placeholderRE.ReplaceAllString(query, "?")
	}
	return query
}

// containsPattern builds a case-insensitive substring LIKE pattern with
// wildcards in the user's text escaped. Pair with `LOWER(col) LIKE $N
// ESCAPE '\'`.
func containsPattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(text)) + "%"
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullMillis(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.UnixMilli(n.Int64)
}
