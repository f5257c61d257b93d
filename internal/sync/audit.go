package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/svanecode/shelter-updater/internal/bbr"
	"github.com/svanecode/shelter-updater/internal/store"
)

// Audit delete reasons, recorded verbatim in deleted_reason.
const (
	auditReasonNotFound   = "Not found in BBR"
	auditReasonNoCapacity = "No shelter capacity"
	auditReasonBadStatus  = "Status not 'in use' (status=%s)"
)

// AuditSummary is the account of one audit pass.
type AuditSummary struct {
	Checked   int  `json:"checked"`
	Updated   int  `json:"updated"`
	Unchanged int  `json:"unchanged"`
	Deleted   int  `json:"deleted"`
	Errors    int  `json:"errors"`
	DryRun    bool `json:"dry_run"`
}

// Auditor re-verifies stale rows one at a time against the registry's
// by-id endpoint. Unlike the cycle-end sweep, a deletion here rests on
// direct per-record evidence, so the bulk delete guard does not apply.
type Auditor struct {
	store   Store
	source  RecordSource
	limiter *rate.Limiter
	dryRun  bool
	now     func() time.Time
	logger  *slog.Logger
}

// NewAuditor builds an auditor. limiter may be nil to disable pacing.
func NewAuditor(st Store, source RecordSource, limiter *rate.Limiter, dryRun bool, logger *slog.Logger) *Auditor {
	return &Auditor{
		store:   st,
		source:  source,
		limiter: limiter,
		dryRun:  dryRun,
		now:     time.Now,
		logger:  logger,
	}
}

// Run audits up to limit live rows whose last check is older than
// olderThan, oldest first. Transient fetch failures skip the record and
// count as errors; systemic failures (bad credentials, rejected requests)
// abort the audit, since every remaining lookup would fail the same way.
func (a *Auditor) Run(ctx context.Context, olderThan time.Duration, limit int) (*AuditSummary, error) {
	sum := &AuditSummary{DryRun: a.dryRun}

	cutoff := a.now().Add(-olderThan)

	stale, err := a.store.ListStale(ctx, cutoff, limit)
	if err != nil {
		return sum, err
	}

	a.logger.Info("audit started",
		slog.Int("stale", len(stale)),
		slog.Time("cutoff", cutoff),
		slog.Bool("dry_run", a.dryRun),
	)

	for _, sh := range stale {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return sum, err
			}
		}

		if err := a.auditOne(ctx, sh, sum); err != nil {
			return sum, err
		}

		sum.Checked++
	}

	a.logger.Info("audit finished",
		slog.Int("checked", sum.Checked),
		slog.Int("updated", sum.Updated),
		slog.Int("deleted", sum.Deleted),
		slog.Int("errors", sum.Errors),
	)

	return sum, nil
}

func (a *Auditor) auditOne(ctx context.Context, sh *store.Shelter, sum *AuditSummary) error {
	b, err := a.source.Get(ctx, sh.BygningID)
	now := a.now()

	switch {
	case errors.Is(err, bbr.ErrNotFound):
		return a.remove(ctx, sh, auditReasonNotFound, now, sum)

	case err != nil && bbr.IsRetryable(err):
		sum.Errors++
		a.logger.Warn("audit lookup failed, skipping record",
			slog.String("bygning_id", sh.BygningID),
			slog.String("error", err.Error()),
		)

		return nil

	case err != nil:
		return fmt.Errorf("sync: audit aborted: %w", err)

	case b.Capacity <= 0:
		return a.remove(ctx, sh, auditReasonNoCapacity, now, sum)

	case b.Status != bbr.StatusInUse:
		return a.remove(ctx, sh, fmt.Sprintf(auditReasonBadStatus, b.Status), now, sum)
	}

	// Still a shelter: refresh attributes and confirm the watermarks.
	changed := attrsChanged(sh, b)

	sh.Capacity = b.Capacity
	sh.Anvendelse = b.Anvendelse
	sh.Kommunekode = b.Kommunekode
	sh.HusnummerID = b.Husnummer
	sh.LastChecked = &now
	sh.LastSeenAt = &now

	if changed {
		sh.UpdatedAt = now
		sum.Updated++
		a.logger.Info("audit: shelter updated", slog.String("bygning_id", sh.BygningID))
	} else {
		sum.Unchanged++
	}

	if a.dryRun {
		return nil
	}

	return a.store.SaveShelter(ctx, sh)
}

func (a *Auditor) remove(ctx context.Context, sh *store.Shelter, reason string, now time.Time, sum *AuditSummary) error {
	sum.Deleted++
	a.logger.Info("audit: soft-deleting shelter",
		slog.String("bygning_id", sh.BygningID),
		slog.String("reason", reason),
	)

	if a.dryRun {
		return nil
	}

	_, err := a.store.SoftDelete(ctx, []string{sh.BygningID}, reason, now)

	return err
}
