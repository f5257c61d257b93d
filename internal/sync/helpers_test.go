package sync

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/svanecode/shelter-updater/internal/bbr"
	"github.com/svanecode/shelter-updater/internal/dawa"
	"github.com/svanecode/shelter-updater/internal/store"
)

// testLogger returns a debug-level logger that writes to t.Log, so engine
// activity appears in test output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// --- Mock Store ---

// mockStore implements the Store interface in memory, recording mutating
// calls for verification. Guard inputs (active/seen/missing) are configured
// directly rather than derived, so tests control them exactly.
type mockStore struct {
	cursor   *store.Cursor
	shelters map[string]*store.Shelter

	active  int
	seen    int
	missing []string
	stale   []*store.Shelter

	savedCursors  []store.Cursor
	appliedPages  []appliedPage
	savedShelters []*store.Shelter
	softDeletes   []softDeleteCall
	recordedRuns  []*store.RunRecord
	staleQueries  []staleQuery

	cursorErr     error
	saveCursorErr error
	getShelterErr error
	applyErr      error
	listMissErr   error
	softDeleteErr error
}

type appliedPage struct {
	Upserts []string
	Touches []string
	Cursor  store.Cursor
}

type softDeleteCall struct {
	IDs    []string
	Reason string
	At     time.Time
}

type staleQuery struct {
	Cutoff time.Time
	Limit  int
}

func newMockStore() *mockStore {
	return &mockStore{shelters: make(map[string]*store.Shelter)}
}

func (s *mockStore) Cursor(_ context.Context) (*store.Cursor, error) {
	if s.cursorErr != nil {
		return nil, s.cursorErr
	}

	if s.cursor == nil {
		return nil, nil
	}

	c := *s.cursor

	return &c, nil
}

func (s *mockStore) SaveCursor(_ context.Context, c *store.Cursor) error {
	if s.saveCursorErr != nil {
		return s.saveCursorErr
	}

	cp := *c
	s.cursor = &cp
	s.savedCursors = append(s.savedCursors, cp)

	return nil
}

func (s *mockStore) GetShelter(_ context.Context, bygningID string) (*store.Shelter, bool, error) {
	if s.getShelterErr != nil {
		return nil, false, s.getShelterErr
	}

	sh, ok := s.shelters[bygningID]
	if !ok {
		return nil, false, nil
	}

	cp := *sh

	return &cp, true, nil
}

func (s *mockStore) SaveShelter(_ context.Context, sh *store.Shelter) error {
	cp := *sh
	s.shelters[sh.BygningID] = &cp
	s.savedShelters = append(s.savedShelters, &cp)

	return nil
}

func (s *mockStore) ApplyPage(_ context.Context, muts *store.PageMutations, cur *store.Cursor) error {
	if s.applyErr != nil {
		return s.applyErr
	}

	applied := appliedPage{Cursor: *cur}

	for _, sh := range muts.Upserts {
		cp := *sh
		s.shelters[sh.BygningID] = &cp
		applied.Upserts = append(applied.Upserts, sh.BygningID)
	}

	for _, id := range muts.Touches {
		if sh, ok := s.shelters[id]; ok {
			seen := muts.SeenAt
			sh.LastSeenAt = &seen
			sh.LastChecked = &seen
		}

		applied.Touches = append(applied.Touches, id)
	}

	cp := *cur
	s.cursor = &cp
	s.appliedPages = append(s.appliedPages, applied)

	return nil
}

func (s *mockStore) CountActive(_ context.Context) (int, error) {
	return s.active, nil
}

func (s *mockStore) CountSeenSince(_ context.Context, _ time.Time) (int, error) {
	return s.seen, nil
}

func (s *mockStore) ListMissingSince(_ context.Context, _ time.Time) ([]string, error) {
	if s.listMissErr != nil {
		return nil, s.listMissErr
	}

	return s.missing, nil
}

func (s *mockStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]*store.Shelter, error) {
	s.staleQueries = append(s.staleQueries, staleQuery{Cutoff: cutoff, Limit: limit})

	return s.stale, nil
}

func (s *mockStore) SoftDelete(_ context.Context, ids []string, reason string, now time.Time) (int, error) {
	if s.softDeleteErr != nil {
		return 0, s.softDeleteErr
	}

	s.softDeletes = append(s.softDeletes, softDeleteCall{IDs: ids, Reason: reason, At: now})

	n := 0

	for _, id := range ids {
		sh, ok := s.shelters[id]
		if !ok || sh.Deleted != nil {
			continue
		}

		at := now
		sh.Deleted = &at
		sh.DeletedReason = reason
		n++
	}

	// Guard tests configure candidates without backing rows; report the
	// whole batch as marked in that case.
	if n == 0 && len(ids) > 0 {
		n = len(ids)
	}

	return n, nil
}

func (s *mockStore) RecordRun(_ context.Context, r *store.RunRecord) error {
	s.recordedRuns = append(s.recordedRuns, r)

	return nil
}

// --- Mock AddressSource ---

// mockAddressSource resolves husnummer ids from a fixed map. Ids not in the
// map return dawa.ErrNotFound; a configured err overrides everything.
type mockAddressSource struct {
	addresses map[string]*dawa.Address
	err       error
	calls     []string
}

func newMockAddressSource() *mockAddressSource {
	return &mockAddressSource{addresses: make(map[string]*dawa.Address)}
}

func (m *mockAddressSource) Lookup(_ context.Context, husnummerID string) (*dawa.Address, error) {
	m.calls = append(m.calls, husnummerID)

	if m.err != nil {
		return nil, m.err
	}

	addr, ok := m.addresses[husnummerID]
	if !ok {
		return nil, dawa.ErrNotFound
	}

	return addr, nil
}

// --- Mock RecordSource ---

// mockRecordSource serves single buildings by id for audit tests.
type mockRecordSource struct {
	records map[string]*bbr.Building
	errs    map[string]error
	calls   []string
}

func newMockRecordSource() *mockRecordSource {
	return &mockRecordSource{
		records: make(map[string]*bbr.Building),
		errs:    make(map[string]error),
	}
}

func (m *mockRecordSource) Get(_ context.Context, bygningID string) (*bbr.Building, error) {
	m.calls = append(m.calls, bygningID)

	if err, ok := m.errs[bygningID]; ok {
		return nil, err
	}

	b, ok := m.records[bygningID]
	if !ok {
		return nil, bbr.ErrNotFound
	}

	cp := *b

	return &cp, nil
}
