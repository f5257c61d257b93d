package sync

import (
	"errors"
	"fmt"
)

// ErrDeleteBlocked means the safety guard refused a batch of
// absence-inferred deletions because the cycle did not observe enough of
// the registry to trust the absences.
var ErrDeleteBlocked = errors.New("sync: delete blocked by safety guard")

// DeleteGuard decides whether records unseen for a whole cycle may be
// soft-deleted. Absence is weak evidence: a truncated or partially failed
// pass makes every unvisited record look missing. The guard demands both an
// absolute floor of observed records and a minimum fraction of the known
// active set before any absence-based deletion goes through.
type DeleteGuard struct {
	SafeThreshold int
	MinCoverage   float64
}

// Approve returns nil when deleting the missing records is safe, or an
// error wrapping ErrDeleteBlocked explaining which condition failed.
// seen is the number of active records observed this cycle, totalKnown the
// active records on file, missing the deletion candidates.
func (g DeleteGuard) Approve(seen, totalKnown, missing int) error {
	if missing == 0 {
		return nil
	}

	if seen < g.SafeThreshold {
		return fmt.Errorf("%w: saw %d records this cycle, need at least %d",
			ErrDeleteBlocked, seen, g.SafeThreshold)
	}

	if totalKnown > 0 {
		coverage := float64(seen) / float64(totalKnown)
		if coverage < g.MinCoverage {
			return fmt.Errorf("%w: coverage %.2f below minimum %.2f (%d of %d active records seen)",
				ErrDeleteBlocked, coverage, g.MinCoverage, seen, totalKnown)
		}
	}

	return nil
}
