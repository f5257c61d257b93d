package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQL statements for the cursor singleton.
const (
	sqlSelectCursor = `SELECT position, cycle_started_at, updated_at FROM sync_state WHERE id = 1`

	sqlUpsertCursor = `INSERT INTO sync_state (id, position, cycle_started_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 position = excluded.position,
		 cycle_started_at = excluded.cycle_started_at,
		 updated_at = excluded.updated_at`
)

// Cursor is the persisted scan position. Position is the last fully
// processed page (0 = none yet); CycleStartedAt anchors the current
// fixed-length scan cycle.
type Cursor struct {
	Position       int
	CycleStartedAt time.Time
	UpdatedAt      time.Time
}

// Cursor returns the persisted scan cursor, or nil when no run has ever
// saved one.
func (s *Store) Cursor(ctx context.Context) (*Cursor, error) {
	var (
		c          Cursor
		cycleStart string
		updatedAt  string
	)

	err := s.db.QueryRowContext(ctx, sqlSelectCursor).Scan(&c.Position, &cycleStart, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading cursor: %w", err)
	}

	if c.CycleStartedAt, err = parseTime(cycleStart); err != nil {
		return nil, err
	}

	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &c, nil
}

// SaveCursor persists the cursor outside a page transaction. The engine
// uses this when a new cycle resets the position before any page is fetched.
func (s *Store) SaveCursor(ctx context.Context, c *Cursor) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertCursor,
		c.Position, timeString(c.CycleStartedAt), timeString(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: saving cursor: %w", err)
	}

	return nil
}

// saveCursorTx persists the cursor inside an ongoing page transaction.
func saveCursorTx(ctx context.Context, tx *sql.Tx, c *Cursor) error {
	_, err := tx.ExecContext(ctx, sqlUpsertCursor,
		c.Position, timeString(c.CycleStartedAt), timeString(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("store: saving cursor: %w", err)
	}

	return nil
}
