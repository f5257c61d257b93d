// Package store implements SQLite persistence for the shelter registry
// mirror: shelter rows, the scan cursor singleton, and run history. It is
// the sole writer to the database; per-page reconciliation results and the
// advanced cursor commit in a single transaction so a crash between pages
// never records a page as done without its records.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Store is the handle to the local state database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the SQLite database at dbPath, runs migrations, and returns a
// ready-to-use store. The database uses WAL mode with synchronous=FULL for
// crash-safe durability.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	logger.Debug("store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Times are stored as RFC3339 UTC strings truncated to whole seconds. The
// fixed width makes string comparison in SQL equivalent to time comparison,
// which the seen-watermark queries rely on.
func timeString(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// nullTimeString renders an optional time for a nullable column.
func nullTimeString(t *time.Time) any {
	if t == nil {
		return nil
	}

	return timeString(*t)
}

// parseTime parses a stored timestamp.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parsing timestamp %q: %w", s, err)
	}

	return t, nil
}

// parseNullTime parses a nullable stored timestamp.
func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}

	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// nullableString renders "" as NULL so empty attribute values do not
// masquerade as data.
func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
