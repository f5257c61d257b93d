package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svanecode/shelter-updater/internal/bbr"
	"github.com/svanecode/shelter-updater/internal/dawa"
	"github.com/svanecode/shelter-updater/internal/store"
)

const testRefreshAfter = 180 * 24 * time.Hour

// reconcileNow is the fixed clock for reconciler tests.
var reconcileNow = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, st *mockStore, addr *mockAddressSource) *Reconciler {
	t.Helper()

	r := NewReconciler(st, addr, nil, testRefreshAfter, testLogger(t))
	r.now = func() time.Time { return reconcileNow }

	return r
}

func eligibleBuilding(id, husnummer string) bbr.Building {
	return bbr.Building{
		ID:          id,
		Status:      bbr.StatusInUse,
		Capacity:    50,
		Anvendelse:  "320",
		Kommunekode: "0751",
		Husnummer:   husnummer,
	}
}

// existingShelter returns a stored row matching eligibleBuilding(id,
// husnummer) attribute for attribute, enriched yesterday.
func existingShelter(id, husnummer string) *store.Shelter {
	created := reconcileNow.Add(-90 * 24 * time.Hour)
	checked := reconcileNow.Add(-24 * time.Hour)

	return &store.Shelter{
		BygningID:          id,
		Capacity:           50,
		Anvendelse:         "320",
		Kommunekode:        "0751",
		HusnummerID:        husnummer,
		Address:            "Vestergade 5, 8000 Aarhus C",
		Vejnavn:            "Vestergade",
		Husnummer:          "5",
		Postnummer:         "8000",
		Location:           `{"type":"Point","coordinates":[10.2039,56.1572]}`,
		CreatedAt:          created,
		UpdatedAt:          created,
		LastChecked:        &checked,
		LastSeenAt:         &checked,
		LastAddressChecked: &checked,
	}
}

func testAddress() *dawa.Address {
	return &dawa.Address{
		Betegnelse: "Vestergade 5, 8000 Aarhus C",
		Vejnavn:    "Vestergade",
		Husnummer:  "5",
		Postnummer: "8000",
		Location:   &dawa.Point{Type: "Point", Coordinates: [2]float64{10.2039, 56.1572}},
	}
}

// --- Tests ---

func TestReconcilePage_NewShelterIsEnriched(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	addr := newMockAddressSource()
	addr.addresses["h1"] = testAddress()
	r := newTestReconciler(t, st, addr)

	pg := bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h1")}}

	muts, stats, err := r.ReconcilePage(context.Background(), pg)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.New)
	assert.Zero(t, stats.MissingLocation)
	assert.Empty(t, muts.Touches)
	require.Len(t, muts.Upserts, 1)

	sh := muts.Upserts[0]
	assert.Equal(t, "b1", sh.BygningID)
	assert.Equal(t, 50, sh.Capacity)
	assert.Equal(t, "Vestergade 5, 8000 Aarhus C", sh.Address)
	assert.Equal(t, "Vestergade", sh.Vejnavn)
	assert.Equal(t, "8000", sh.Postnummer)
	assert.Equal(t, `{"type":"Point","coordinates":[10.2039,56.1572]}`, sh.Location)
	require.NotNil(t, sh.LastAddressChecked)
	assert.True(t, sh.LastAddressChecked.Equal(reconcileNow))
	require.NotNil(t, sh.LastSeenAt)
	assert.True(t, sh.LastSeenAt.Equal(reconcileNow))

	assert.Equal(t, []string{"h1"}, addr.calls)
	assert.True(t, muts.SeenAt.Equal(reconcileNow))
}

func TestReconcilePage_IneligibleBuildingsAreSkipped(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	r := newTestReconciler(t, st, newMockAddressSource())

	pg := bbr.Page{Buildings: []bbr.Building{
		{ID: "no-capacity", Status: bbr.StatusInUse, Capacity: 0},
		{ID: "demolished", Status: "9", Capacity: 120},
		{ID: "planned", Status: "2", Capacity: 40},
	}}

	muts, stats, err := r.ReconcilePage(context.Background(), pg)
	require.NoError(t, err)

	assert.True(t, muts.Empty())
	assert.Equal(t, PageStats{}, stats)
}

func TestReconcilePage_RecordWithoutIDIsADataError(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	addr := newMockAddressSource()
	addr.addresses["h1"] = testAddress()
	r := newTestReconciler(t, st, addr)

	pg := bbr.Page{
		Buildings: []bbr.Building{
			{ID: "", Status: bbr.StatusInUse, Capacity: 10},
			eligibleBuilding("b1", "h1"),
		},
		Malformed: 2,
	}

	muts, stats, err := r.ReconcilePage(context.Background(), pg)
	require.NoError(t, err)

	// Undecodable array elements and id-less records both count.
	assert.Equal(t, 3, stats.DataErrors)
	assert.Equal(t, 1, stats.New)
	assert.Len(t, muts.Upserts, 1)
}

func TestReconcilePage_UnchangedShelterIsOnlyTouched(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	st.shelters["b1"] = existingShelter("b1", "h1")
	addr := newMockAddressSource()
	r := newTestReconciler(t, st, addr)

	pg := bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h1")}}

	muts, stats, err := r.ReconcilePage(context.Background(), pg)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Unchanged)
	assert.Empty(t, muts.Upserts)
	assert.Equal(t, []string{"b1"}, muts.Touches)
	assert.Empty(t, addr.calls, "an unchanged row with a fresh address needs no lookup")
}

func TestReconcilePage_AttributeChangeUpdatesRow(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	existing := existingShelter("b1", "h1")
	st.shelters["b1"] = existing
	addr := newMockAddressSource()
	r := newTestReconciler(t, st, addr)

	b := eligibleBuilding("b1", "h1")
	b.Capacity = 75

	muts, stats, err := r.ReconcilePage(context.Background(), bbr.Page{Buildings: []bbr.Building{b}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.AddressRefreshed)
	require.Len(t, muts.Upserts, 1)

	sh := muts.Upserts[0]
	assert.Equal(t, 75, sh.Capacity)
	assert.True(t, sh.CreatedAt.Equal(existing.CreatedAt), "creation time survives updates")
	assert.Equal(t, existing.Address, sh.Address, "fresh address is carried, not re-fetched")
	assert.Empty(t, addr.calls)
}

func TestReconcilePage_HusnummerChangeRefetchesAddress(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	st.shelters["b1"] = existingShelter("b1", "h1")

	addr := newMockAddressSource()
	addr.addresses["h2"] = &dawa.Address{
		Betegnelse: "Algade 12, 4000 Roskilde",
		Vejnavn:    "Algade",
		Husnummer:  "12",
		Postnummer: "4000",
	}

	r := newTestReconciler(t, st, addr)

	muts, stats, err := r.ReconcilePage(context.Background(),
		bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h2")}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Updated)
	require.Len(t, muts.Upserts, 1)
	assert.Equal(t, "h2", muts.Upserts[0].HusnummerID)
	assert.Equal(t, "Algade 12, 4000 Roskilde", muts.Upserts[0].Address)
	assert.Equal(t, []string{"h2"}, addr.calls)
}

func TestReconcilePage_StaleAddressIsRefreshed(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	existing := existingShelter("b1", "h1")
	old := reconcileNow.Add(-200 * 24 * time.Hour)
	existing.LastAddressChecked = &old
	st.shelters["b1"] = existing

	addr := newMockAddressSource()
	addr.addresses["h1"] = testAddress()
	r := newTestReconciler(t, st, addr)

	muts, stats, err := r.ReconcilePage(context.Background(),
		bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h1")}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AddressRefreshed)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Unchanged)
	require.Len(t, muts.Upserts, 1)
	require.NotNil(t, muts.Upserts[0].LastAddressChecked)
	assert.True(t, muts.Upserts[0].LastAddressChecked.Equal(reconcileNow))
	assert.Equal(t, []string{"h1"}, addr.calls)
}

func TestReconcilePage_NeverEnrichedRowIsStale(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	existing := existingShelter("b1", "h1")
	existing.LastAddressChecked = nil
	st.shelters["b1"] = existing

	addr := newMockAddressSource()
	addr.addresses["h1"] = testAddress()
	r := newTestReconciler(t, st, addr)

	_, stats, err := r.ReconcilePage(context.Background(),
		bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h1")}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.AddressRefreshed)
	assert.Equal(t, []string{"h1"}, addr.calls)
}

func TestReconcilePage_ReappearedShelterIsRestored(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	existing := existingShelter("b1", "h1")
	deletedAt := reconcileNow.Add(-40 * 24 * time.Hour)
	existing.Deleted = &deletedAt
	existing.DeletedReason = "not seen in full registry pass"
	st.shelters["b1"] = existing

	addr := newMockAddressSource()
	addr.addresses["h1"] = testAddress()
	r := newTestReconciler(t, st, addr)

	muts, stats, err := r.ReconcilePage(context.Background(),
		bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h1")}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Restored)
	require.Len(t, muts.Upserts, 1)

	sh := muts.Upserts[0]
	assert.Nil(t, sh.Deleted, "restore clears the deletion mark")
	assert.Empty(t, sh.DeletedReason)
	assert.True(t, sh.CreatedAt.Equal(existing.CreatedAt))

	// A record that was gone long enough to be deleted gets its address
	// re-verified on the way back.
	assert.Equal(t, []string{"h1"}, addr.calls)
}

func TestReconcilePage_AddressNotFoundStoresRecordAnyway(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	addr := newMockAddressSource() // empty: every lookup is ErrNotFound
	r := newTestReconciler(t, st, addr)

	muts, stats, err := r.ReconcilePage(context.Background(),
		bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "gone")}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.New)
	assert.Equal(t, 1, stats.MissingLocation)
	require.Len(t, muts.Upserts, 1)

	sh := muts.Upserts[0]
	assert.Empty(t, sh.Address)
	assert.Empty(t, sh.Location)
	require.NotNil(t, sh.LastAddressChecked, "a definitive miss must not be re-queried every pass")
	assert.True(t, sh.LastAddressChecked.Equal(reconcileNow))
}

func TestReconcilePage_AddressServiceDownKeepsRecord(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	addr := newMockAddressSource()
	addr.err = errors.New("dawa: request failed: connection refused")
	r := newTestReconciler(t, st, addr)

	muts, stats, err := r.ReconcilePage(context.Background(),
		bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h1")}})
	require.NoError(t, err, "an address outage must not fail the page")

	assert.Equal(t, 1, stats.New)
	assert.Equal(t, 1, stats.MissingLocation)
	require.Len(t, muts.Upserts, 1)
	assert.Nil(t, muts.Upserts[0].LastAddressChecked, "transient failure leaves the lookup due")
}

func TestReconcilePage_NoHusnummerMeansNoLookup(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	addr := newMockAddressSource()
	r := newTestReconciler(t, st, addr)

	muts, stats, err := r.ReconcilePage(context.Background(),
		bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "")}})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.New)
	assert.Equal(t, 1, stats.MissingLocation)
	assert.Empty(t, addr.calls)
	require.Len(t, muts.Upserts, 1)
	assert.Nil(t, muts.Upserts[0].LastAddressChecked)
}

func TestReconcilePage_StoreReadFailureFailsThePage(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	st.getShelterErr = errors.New("database is locked")
	r := newTestReconciler(t, st, newMockAddressSource())

	muts, _, err := r.ReconcilePage(context.Background(),
		bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h1")}})
	require.Error(t, err)
	assert.Nil(t, muts)
}

// Reconciling the same page twice against a store that applied the first
// result only touches the second time: same input, no duplicate writes.
func TestReconcilePage_SecondPassIsIdempotent(t *testing.T) {
	t.Parallel()

	st := newMockStore()
	addr := newMockAddressSource()
	addr.addresses["h1"] = testAddress()
	r := newTestReconciler(t, st, addr)

	pg := bbr.Page{Buildings: []bbr.Building{eligibleBuilding("b1", "h1")}}
	ctx := context.Background()

	muts, stats, err := r.ReconcilePage(ctx, pg)
	require.NoError(t, err)
	require.Equal(t, 1, stats.New)
	require.NoError(t, st.ApplyPage(ctx, muts, &store.Cursor{Position: 1, CycleStartedAt: reconcileNow}))

	muts2, stats2, err := r.ReconcilePage(ctx, pg)
	require.NoError(t, err)

	assert.Zero(t, stats2.New)
	assert.Equal(t, 1, stats2.Unchanged)
	assert.Empty(t, muts2.Upserts)
	assert.Equal(t, []string{"b1"}, muts2.Touches)
}

func TestPageStats_Add(t *testing.T) {
	t.Parallel()

	var total PageStats
	total.Add(PageStats{New: 2, Updated: 1, DataErrors: 1})
	total.Add(PageStats{New: 1, Unchanged: 7, Restored: 1, AddressRefreshed: 3, MissingLocation: 2})

	assert.Equal(t, PageStats{
		New:              3,
		Updated:          1,
		Restored:         1,
		Unchanged:        7,
		AddressRefreshed: 3,
		MissingLocation:  2,
		DataErrors:       1,
	}, total)
}
