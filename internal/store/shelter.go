package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SQL statements for shelter operations.
const (
	sqlSelectShelter = `SELECT bygning_id, shelter_capacity, anvendelse, kommunekode,
		husnummer_id, address, vejnavn, husnummer, postnummer, location,
		deleted, deleted_reason, created_at, updated_at,
		last_checked, last_seen_at, last_address_checked
		FROM shelters WHERE bygning_id = ?`

	sqlUpsertShelter = `INSERT INTO shelters
		(bygning_id, shelter_capacity, anvendelse, kommunekode,
		 husnummer_id, address, vejnavn, husnummer, postnummer, location,
		 deleted, deleted_reason, created_at, updated_at,
		 last_checked, last_seen_at, last_address_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bygning_id) DO UPDATE SET
		 shelter_capacity = excluded.shelter_capacity,
		 anvendelse = excluded.anvendelse,
		 kommunekode = excluded.kommunekode,
		 husnummer_id = excluded.husnummer_id,
		 address = excluded.address,
		 vejnavn = excluded.vejnavn,
		 husnummer = excluded.husnummer,
		 postnummer = excluded.postnummer,
		 location = excluded.location,
		 deleted = excluded.deleted,
		 deleted_reason = excluded.deleted_reason,
		 updated_at = excluded.updated_at,
		 last_checked = excluded.last_checked,
		 last_seen_at = excluded.last_seen_at,
		 last_address_checked = excluded.last_address_checked`

	sqlTouchShelter = `UPDATE shelters
		SET last_seen_at = ?, last_checked = ?
		WHERE bygning_id = ?`

	sqlCountActive = `SELECT COUNT(*) FROM shelters WHERE deleted IS NULL`

	sqlCountDeleted = `SELECT COUNT(*) FROM shelters WHERE deleted IS NOT NULL`

	sqlCountSeenSince = `SELECT COUNT(*) FROM shelters
		WHERE deleted IS NULL AND last_seen_at IS NOT NULL AND last_seen_at >= ?`

	sqlListMissingSince = `SELECT bygning_id FROM shelters
		WHERE deleted IS NULL AND (last_seen_at IS NULL OR last_seen_at < ?)
		ORDER BY bygning_id`

	sqlListStale = `SELECT bygning_id, shelter_capacity, anvendelse, kommunekode,
		husnummer_id, address, vejnavn, husnummer, postnummer, location,
		deleted, deleted_reason, created_at, updated_at,
		last_checked, last_seen_at, last_address_checked
		FROM shelters
		WHERE deleted IS NULL AND (last_checked IS NULL OR last_checked < ?)
		ORDER BY last_checked
		LIMIT ?`
)

// Shelter is one row of the local shelter mirror. A nil Deleted means the
// record is active; soft-deleted rows keep all their data plus the deletion
// timestamp and reason. Rows are never hard-deleted.
type Shelter struct {
	BygningID          string
	Capacity           int
	Anvendelse         string
	Kommunekode        string
	HusnummerID        string // DAR husnummer UUID, the address lookup key
	Address            string
	Vejnavn            string
	Husnummer          string
	Postnummer         string
	Location           string // GeoJSON point, "" when unknown
	Deleted            *time.Time
	DeletedReason      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	LastChecked        *time.Time
	LastSeenAt         *time.Time
	LastAddressChecked *time.Time
}

// PageMutations is everything one reconciled page writes: full-row upserts
// for new/changed/restored shelters and last-seen touches for unchanged
// ones. SeenAt stamps the touches.
type PageMutations struct {
	Upserts []*Shelter
	Touches []string
	SeenAt  time.Time
}

// Empty reports whether the page produced no writes.
func (m *PageMutations) Empty() bool {
	return len(m.Upserts) == 0 && len(m.Touches) == 0
}

// GetShelter looks up a shelter by bygning id. The second return is false
// when no row exists.
func (s *Store) GetShelter(ctx context.Context, bygningID string) (*Shelter, bool, error) {
	row := s.db.QueryRowContext(ctx, sqlSelectShelter, bygningID)

	sh, err := scanShelter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return sh, true, nil
}

// SaveShelter upserts a single shelter row outside a page transaction.
// The audit path uses this for its one-at-a-time corrections.
func (s *Store) SaveShelter(ctx context.Context, sh *Shelter) error {
	_, err := s.db.ExecContext(ctx, sqlUpsertShelter, upsertArgs(sh)...)
	if err != nil {
		return fmt.Errorf("store: saving shelter %s: %w", sh.BygningID, err)
	}

	return nil
}

// ApplyPage atomically persists one page's reconciliation results together
// with the advanced cursor. This is the engine's durability contract: a page
// is either fully recorded with its cursor advance or not at all.
func (s *Store) ApplyPage(ctx context.Context, muts *PageMutations, cur *Cursor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning page transaction: %w", err)
	}
	defer tx.Rollback()

	for _, sh := range muts.Upserts {
		if _, err := tx.ExecContext(ctx, sqlUpsertShelter, upsertArgs(sh)...); err != nil {
			return fmt.Errorf("store: upserting shelter %s: %w", sh.BygningID, err)
		}
	}

	seenAt := timeString(muts.SeenAt)
	for _, id := range muts.Touches {
		if _, err := tx.ExecContext(ctx, sqlTouchShelter, seenAt, seenAt, id); err != nil {
			return fmt.Errorf("store: touching shelter %s: %w", id, err)
		}
	}

	if err := saveCursorTx(ctx, tx, cur); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing page transaction: %w", err)
	}

	s.logger.Debug("page persisted",
		slog.Int("upserts", len(muts.Upserts)),
		slog.Int("touches", len(muts.Touches)),
		slog.Int("cursor_position", cur.Position),
	)

	return nil
}

// CountActive returns the number of live (not soft-deleted) shelters.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	return s.countQuery(ctx, sqlCountActive)
}

// CountDeleted returns the number of soft-deleted shelters.
func (s *Store) CountDeleted(ctx context.Context) (int, error) {
	return s.countQuery(ctx, sqlCountDeleted)
}

// CountSeenSince returns how many live shelters were last seen at or after
// the cutoff — the pass coverage number the delete guard evaluates.
func (s *Store) CountSeenSince(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqlCountSeenSince, timeString(cutoff)).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting seen shelters: %w", err)
	}

	return n, nil
}

// ListMissingSince returns ids of live shelters not seen since the cutoff.
// At cycle completion these are the records absent from the entire pass.
func (s *Store) ListMissingSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlListMissingSince, timeString(cutoff))
	if err != nil {
		return nil, fmt.Errorf("store: listing missing shelters: %w", err)
	}
	defer rows.Close()

	var ids []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning missing shelter id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating missing shelters: %w", err)
	}

	return ids, nil
}

// SoftDelete marks the given shelters deleted with a shared reason.
// Already-deleted rows are left untouched so the original deletion time and
// reason survive repeated passes. Returns the number of rows marked.
func (s *Store) SoftDelete(ctx context.Context, ids []string, reason string, now time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	query := fmt.Sprintf(`UPDATE shelters SET deleted = ?, deleted_reason = ?, updated_at = ?
		WHERE deleted IS NULL AND bygning_id IN (%s)`, placeholders)

	args := make([]any, 0, len(ids)+3)
	ts := timeString(now)
	args = append(args, ts, reason, ts)

	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: soft-deleting shelters: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reading soft-delete count: %w", err)
	}

	return int(n), nil
}

// ListStale returns live shelters whose last individual check is older than
// the cutoff, oldest first. The audit command re-verifies these against the
// registry one by one.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Shelter, error) {
	rows, err := s.db.QueryContext(ctx, sqlListStale, timeString(cutoff), limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing stale shelters: %w", err)
	}
	defer rows.Close()

	var shelters []*Shelter

	for rows.Next() {
		sh, err := scanShelter(rows)
		if err != nil {
			return nil, err
		}

		shelters = append(shelters, sh)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating stale shelters: %w", err)
	}

	return shelters, nil
}

func (s *Store) countQuery(ctx context.Context, query string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting shelters: %w", err)
	}

	return n, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanShelter scans a full shelter row, handling nullable columns with
// sql.Null* types.
func scanShelter(row rowScanner) (*Shelter, error) {
	var (
		sh          Shelter
		anvendelse  sql.NullString
		kommunekode sql.NullString
		husnummerID sql.NullString
		address     sql.NullString
		vejnavn     sql.NullString
		husnummer   sql.NullString
		postnummer  sql.NullString
		location    sql.NullString
		deleted     sql.NullString
		delReason   sql.NullString
		createdAt   string
		updatedAt   string
		lastChecked sql.NullString
		lastSeen    sql.NullString
		lastAddr    sql.NullString
	)

	err := row.Scan(
		&sh.BygningID, &sh.Capacity, &anvendelse, &kommunekode,
		&husnummerID, &address, &vejnavn, &husnummer, &postnummer, &location,
		&deleted, &delReason, &createdAt, &updatedAt,
		&lastChecked, &lastSeen, &lastAddr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("store: scanning shelter row: %w", err)
	}

	sh.Anvendelse = anvendelse.String
	sh.Kommunekode = kommunekode.String
	sh.HusnummerID = husnummerID.String
	sh.Address = address.String
	sh.Vejnavn = vejnavn.String
	sh.Husnummer = husnummer.String
	sh.Postnummer = postnummer.String
	sh.Location = location.String
	sh.DeletedReason = delReason.String

	if sh.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}

	if sh.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	if sh.Deleted, err = parseNullTime(deleted); err != nil {
		return nil, err
	}

	if sh.LastChecked, err = parseNullTime(lastChecked); err != nil {
		return nil, err
	}

	if sh.LastSeenAt, err = parseNullTime(lastSeen); err != nil {
		return nil, err
	}

	if sh.LastAddressChecked, err = parseNullTime(lastAddr); err != nil {
		return nil, err
	}

	return &sh, nil
}

// upsertArgs flattens a Shelter into the argument list for sqlUpsertShelter.
func upsertArgs(sh *Shelter) []any {
	return []any{
		sh.BygningID,
		sh.Capacity,
		nullableString(sh.Anvendelse),
		nullableString(sh.Kommunekode),
		nullableString(sh.HusnummerID),
		nullableString(sh.Address),
		nullableString(sh.Vejnavn),
		nullableString(sh.Husnummer),
		nullableString(sh.Postnummer),
		nullableString(sh.Location),
		nullTimeString(sh.Deleted),
		nullableString(sh.DeletedReason),
		timeString(sh.CreatedAt),
		timeString(sh.UpdatedAt),
		nullTimeString(sh.LastChecked),
		nullTimeString(sh.LastSeenAt),
		nullTimeString(sh.LastAddressChecked),
	}
}
