// Package sync implements the resumable registry scan: fetching BBR pages
// with retry and backoff, reconciling each page against the local store,
// advancing the persistent cursor, and guarding bulk deletions at cycle
// completion. One run is single-threaded and time-boxed; the cursor makes
// consecutive runs add up to one full registry pass per cycle.
package sync

import (
	"context"
	"time"

	"github.com/svanecode/shelter-updater/internal/bbr"
	"github.com/svanecode/shelter-updater/internal/dawa"
	"github.com/svanecode/shelter-updater/internal/store"
)

// Run states. A run ends in exactly one of the three STOPPED states.
const (
	StateInit          = "INIT"
	StateRunning       = "RUNNING"
	StateStoppedBudget = "STOPPED_BUDGET"
	StateStoppedCycle  = "STOPPED_CYCLE_DONE"
	StateStoppedFatal  = "STOPPED_FATAL_ERRORS"
)

// --- Consumer-defined interfaces for the engine's dependencies ---
// These decouple the sync package from the concrete store and transport
// types, following the "accept interfaces, return structs" Go convention.

// PageSource fetches one page of registry buildings. Implementations make
// exactly one attempt per call; retry policy lives in the PageFetcher.
type PageSource interface {
	List(ctx context.Context, page, pageSize int) (bbr.Page, error)
}

// RecordSource fetches a single building by id. The audit path uses this
// to re-verify individual records.
type RecordSource interface {
	Get(ctx context.Context, bygningID string) (*bbr.Building, error)
}

// AddressSource resolves a DAR husnummer id to an access address.
type AddressSource interface {
	Lookup(ctx context.Context, husnummerID string) (*dawa.Address, error)
}

// Store is the persistence surface the engine needs.
type Store interface {
	Cursor(ctx context.Context) (*store.Cursor, error)
	SaveCursor(ctx context.Context, c *store.Cursor) error
	GetShelter(ctx context.Context, bygningID string) (*store.Shelter, bool, error)
	SaveShelter(ctx context.Context, sh *store.Shelter) error
	ApplyPage(ctx context.Context, muts *store.PageMutations, cur *store.Cursor) error
	CountActive(ctx context.Context) (int, error)
	CountSeenSince(ctx context.Context, cutoff time.Time) (int, error)
	ListMissingSince(ctx context.Context, cutoff time.Time) ([]string, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*store.Shelter, error)
	SoftDelete(ctx context.Context, ids []string, reason string, now time.Time) (int, error)
	RecordRun(ctx context.Context, r *store.RunRecord) error
}

// sleepFunc abstracts backoff and pacing sleeps so tests run instantly.
type sleepFunc func(ctx context.Context, d time.Duration) error

// timeSleep waits for the duration or until the context is cancelled.
func timeSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
