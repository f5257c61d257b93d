package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQL statements for run history.
const (
	sqlInsertRun = `INSERT INTO runs
		(run_id, started_at, finished_at, state, pages_processed,
		 new_count, updated_count, restored_count, unchanged_count,
		 address_refreshed, missing_location, data_errors,
		 delete_candidates, delete_blocked, soft_deleted,
		 consecutive_errors, cursor_position, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectLastRun = `SELECT run_id, started_at, finished_at, state, pages_processed,
		new_count, updated_count, restored_count, unchanged_count,
		address_refreshed, missing_location, data_errors,
		delete_candidates, delete_blocked, soft_deleted,
		consecutive_errors, cursor_position, dry_run
		FROM runs ORDER BY started_at DESC, run_id DESC LIMIT 1`
)

// RunRecord is one row of run history, kept so the status command can show
// what the last invocation did without scraping logs.
type RunRecord struct {
	RunID             string
	StartedAt         time.Time
	FinishedAt        time.Time
	State             string
	PagesProcessed    int
	NewCount          int
	UpdatedCount      int
	RestoredCount     int
	UnchangedCount    int
	AddressRefreshed  int
	MissingLocation   int
	DataErrors        int
	DeleteCandidates  int
	DeleteBlocked     bool
	SoftDeleted       int
	ConsecutiveErrors int
	CursorPosition    int
	DryRun            bool
}

// RecordRun appends one run to the history.
func (s *Store) RecordRun(ctx context.Context, r *RunRecord) error {
	_, err := s.db.ExecContext(ctx, sqlInsertRun,
		r.RunID, timeString(r.StartedAt), timeString(r.FinishedAt), r.State, r.PagesProcessed,
		r.NewCount, r.UpdatedCount, r.RestoredCount, r.UnchangedCount,
		r.AddressRefreshed, r.MissingLocation, r.DataErrors,
		r.DeleteCandidates, boolInt(r.DeleteBlocked), r.SoftDeleted,
		r.ConsecutiveErrors, r.CursorPosition, boolInt(r.DryRun),
	)
	if err != nil {
		return fmt.Errorf("store: recording run %s: %w", r.RunID, err)
	}

	return nil
}

// LastRun returns the most recent run, or false when history is empty.
func (s *Store) LastRun(ctx context.Context) (*RunRecord, bool, error) {
	var (
		r          RunRecord
		startedAt  string
		finishedAt string
		blocked    int
		dryRun     int
	)

	err := s.db.QueryRowContext(ctx, sqlSelectLastRun).Scan(
		&r.RunID, &startedAt, &finishedAt, &r.State, &r.PagesProcessed,
		&r.NewCount, &r.UpdatedCount, &r.RestoredCount, &r.UnchangedCount,
		&r.AddressRefreshed, &r.MissingLocation, &r.DataErrors,
		&r.DeleteCandidates, &blocked, &r.SoftDeleted,
		&r.ConsecutiveErrors, &r.CursorPosition, &dryRun,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("store: loading last run: %w", err)
	}

	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, false, err
	}

	if r.FinishedAt, err = parseTime(finishedAt); err != nil {
		return nil, false, err
	}

	r.DeleteBlocked = blocked != 0
	r.DryRun = dryRun != 0

	return &r, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
