package sync

import (
	"time"

	"github.com/svanecode/shelter-updater/internal/store"
)

// resolveCursor decides where this run starts scanning. A missing cursor or
// an expired cycle resets the position to zero and anchors a fresh cycle at
// now; the reset run continues straight into fetching, so expiry never
// costs a whole run. Otherwise the persisted cursor is used as-is, which
// after a completed cycle means parking at the frontier until expiry.
func resolveCursor(cur *store.Cursor, now time.Time, cycleLen time.Duration) (store.Cursor, bool) {
	if cur == nil {
		return store.Cursor{Position: 0, CycleStartedAt: now, UpdatedAt: now}, true
	}

	if now.Sub(cur.CycleStartedAt) >= cycleLen {
		return store.Cursor{Position: 0, CycleStartedAt: now, UpdatedAt: now}, true
	}

	return *cur, false
}
