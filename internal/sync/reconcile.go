package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/svanecode/shelter-updater/internal/bbr"
	"github.com/svanecode/shelter-updater/internal/dawa"
	"github.com/svanecode/shelter-updater/internal/store"
)

// PageStats counts reconciliation outcomes for one page (or, summed, one
// run).
type PageStats struct {
	New              int
	Updated          int
	Restored         int
	Unchanged        int
	AddressRefreshed int
	MissingLocation  int
	DataErrors       int
}

// Add accumulates another page's stats into s.
func (s *PageStats) Add(o PageStats) {
	s.New += o.New
	s.Updated += o.Updated
	s.Restored += o.Restored
	s.Unchanged += o.Unchanged
	s.AddressRefreshed += o.AddressRefreshed
	s.MissingLocation += o.MissingLocation
	s.DataErrors += o.DataErrors
}

// Reconciler turns one fetched registry page into store mutations. Per
// building it decides: insert, restore, update, refresh the address, or
// just touch the seen watermark. Ineligible buildings are skipped without
// touching anything, so a demoted shelter ages into a deletion candidate
// for the guarded cycle-end sweep or the audit path.
type Reconciler struct {
	store        Store
	address      AddressSource
	addrLimiter  *rate.Limiter
	refreshAfter time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewReconciler builds a reconciler. limiter may be nil to disable address
// lookup pacing.
func NewReconciler(st Store, address AddressSource, limiter *rate.Limiter, refreshAfter time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:        st,
		address:      address,
		addrLimiter:  limiter,
		refreshAfter: refreshAfter,
		now:          time.Now,
		logger:       logger,
	}
}

// ReconcilePage compares a page against the store and returns the writes
// it requires. A record that cannot be decoded or lacks an id is counted
// as a data error and skipped; one broken record never fails a page. Store
// read errors do fail the page, since reconciling blind would corrupt the
// mirror.
func (r *Reconciler) ReconcilePage(ctx context.Context, pg bbr.Page) (*store.PageMutations, PageStats, error) {
	now := r.now()
	muts := &store.PageMutations{SeenAt: now}
	stats := PageStats{DataErrors: pg.Malformed}

	for i := range pg.Buildings {
		b := &pg.Buildings[i]

		if b.ID == "" {
			stats.DataErrors++
			r.logger.Warn("registry record has no id, skipping",
				slog.String("status", b.Status),
				slog.String("husnummer", b.Husnummer),
			)

			continue
		}

		if !b.IsShelter() {
			continue
		}

		existing, found, err := r.store.GetShelter(ctx, b.ID)
		if err != nil {
			return nil, stats, err
		}

		switch {
		case !found:
			sh := shelterFromBuilding(b, now)
			r.enrich(ctx, sh, &stats)
			muts.Upserts = append(muts.Upserts, sh)
			stats.New++

		case existing.Deleted != nil:
			sh := shelterFromBuilding(b, now)
			sh.CreatedAt = existing.CreatedAt
			copyAddress(sh, existing)
			r.enrich(ctx, sh, &stats)
			muts.Upserts = append(muts.Upserts, sh)
			stats.Restored++
			r.logger.Info("shelter restored",
				slog.String("bygning_id", b.ID),
				slog.String("deleted_reason", existing.DeletedReason),
			)

		default:
			r.reconcileActive(ctx, b, existing, now, muts, &stats)
		}
	}

	return muts, stats, nil
}

// reconcileActive handles a building that already has a live row: update
// on attribute change, refresh a stale address, or touch the watermark.
func (r *Reconciler) reconcileActive(ctx context.Context, b *bbr.Building, existing *store.Shelter, now time.Time, muts *store.PageMutations, stats *PageStats) {
	changed := attrsChanged(existing, b)
	stale := r.addressStale(existing, now)

	if !changed && !stale {
		muts.Touches = append(muts.Touches, b.ID)
		stats.Unchanged++

		return
	}

	sh := shelterFromBuilding(b, now)
	sh.CreatedAt = existing.CreatedAt
	copyAddress(sh, existing)

	if stale || existing.HusnummerID != b.Husnummer {
		r.enrich(ctx, sh, stats)
	}

	muts.Upserts = append(muts.Upserts, sh)

	if changed {
		stats.Updated++
	} else {
		stats.AddressRefreshed++
	}
}

// addressStale reports whether the row's address enrichment is due. A row
// that was never enriched (or whose last attempt failed) is always due; a
// row without a lookup key never is.
func (r *Reconciler) addressStale(sh *store.Shelter, now time.Time) bool {
	if sh.HusnummerID == "" {
		return false
	}

	if sh.LastAddressChecked == nil {
		return true
	}

	return now.Sub(*sh.LastAddressChecked) >= r.refreshAfter
}

// enrich resolves the building's address via DAWA and fills the address
// fields. Lookup failures are soft: whatever address data the row already
// carries survives, the record is stored, and the lookup is retried on a
// later pass. A registry record is worth keeping even when the address
// service is down.
func (r *Reconciler) enrich(ctx context.Context, sh *store.Shelter, stats *PageStats) {
	if sh.HusnummerID != "" {
		r.lookupAddress(ctx, sh)
	}

	if sh.Location == "" {
		stats.MissingLocation++
	}
}

func (r *Reconciler) lookupAddress(ctx context.Context, sh *store.Shelter) {
	if r.addrLimiter != nil {
		if err := r.addrLimiter.Wait(ctx); err != nil {
			return
		}
	}

	now := r.now()

	addr, err := r.address.Lookup(ctx, sh.HusnummerID)
	if err != nil {
		if errors.Is(err, dawa.ErrNotFound) {
			// The husnummer no longer resolves. Remember the attempt so
			// we do not re-query every pass.
			sh.LastAddressChecked = &now
		}

		r.logger.Warn("address lookup failed",
			slog.String("bygning_id", sh.BygningID),
			slog.String("husnummer_id", sh.HusnummerID),
			slog.String("error", err.Error()),
		)

		return
	}

	sh.Address = addr.Betegnelse
	sh.Vejnavn = addr.Vejnavn
	sh.Husnummer = addr.Husnummer
	sh.Postnummer = addr.Postnummer
	sh.Location = addr.LocationJSON()
	sh.LastAddressChecked = &now
}

// shelterFromBuilding maps registry fields onto a fresh row stamped with
// now. Address fields are left for enrichment.
func shelterFromBuilding(b *bbr.Building, now time.Time) *store.Shelter {
	return &store.Shelter{
		BygningID:   b.ID,
		Capacity:    b.Capacity,
		Anvendelse:  b.Anvendelse,
		Kommunekode: b.Kommunekode,
		HusnummerID: b.Husnummer,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastChecked: &now,
		LastSeenAt:  &now,
	}
}

// attrsChanged reports whether any registry attribute differs from the
// stored row.
func attrsChanged(sh *store.Shelter, b *bbr.Building) bool {
	return sh.Capacity != b.Capacity ||
		sh.Anvendelse != b.Anvendelse ||
		sh.Kommunekode != b.Kommunekode ||
		sh.HusnummerID != b.Husnummer
}

// copyAddress carries enrichment results from the existing row onto the
// replacement.
func copyAddress(dst, src *store.Shelter) {
	dst.Address = src.Address
	dst.Vejnavn = src.Vejnavn
	dst.Husnummer = src.Husnummer
	dst.Postnummer = src.Postnummer
	dst.Location = src.Location
	dst.LastAddressChecked = src.LastAddressChecked
}
