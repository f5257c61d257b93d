package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/svanecode/shelter-updater/internal/store"
)

// deleteReasonMissing is the audit-trail reason for absence-inferred
// soft-deletes at cycle completion.
const deleteReasonMissing = "not seen in full registry pass"

// EngineConfig carries the engine's dependencies and tuning. Store,
// Fetcher, Reconciler and Logger are required.
type EngineConfig struct {
	Store       Store
	Fetcher     *PageFetcher
	Reconciler  *Reconciler
	Guard       DeleteGuard
	PageSize    int
	PagesPerRun int
	RunBudget   time.Duration
	CycleLength time.Duration
	DryRun      bool
	Logger      *slog.Logger

	// Now overrides the clock in tests. Nil means time.Now.
	Now func() time.Time
}

// Engine drives one time-boxed sync run: resolve the cursor, fetch and
// reconcile pages until a budget or the end of the registry stops it, and
// on cycle completion sweep unseen records through the delete guard.
type Engine struct {
	store       Store
	fetcher     *PageFetcher
	reconciler  *Reconciler
	guard       DeleteGuard
	pageSize    int
	pagesPerRun int
	runBudget   time.Duration
	cycleLen    time.Duration
	dryRun      bool
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine validates the config and builds an engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("sync: engine requires a store")
	}

	if cfg.Fetcher == nil {
		return nil, errors.New("sync: engine requires a page fetcher")
	}

	if cfg.Reconciler == nil {
		return nil, errors.New("sync: engine requires a reconciler")
	}

	if cfg.Logger == nil {
		return nil, errors.New("sync: engine requires a logger")
	}

	if cfg.PageSize < 1 {
		return nil, fmt.Errorf("sync: invalid page size %d", cfg.PageSize)
	}

	if cfg.PagesPerRun < 1 {
		return nil, fmt.Errorf("sync: invalid pages per run %d", cfg.PagesPerRun)
	}

	if cfg.CycleLength <= 0 {
		return nil, fmt.Errorf("sync: invalid cycle length %s", cfg.CycleLength)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		reconciler:  cfg.Reconciler,
		guard:       cfg.Guard,
		pageSize:    cfg.PageSize,
		pagesPerRun: cfg.PagesPerRun,
		runBudget:   cfg.RunBudget,
		cycleLen:    cfg.CycleLength,
		dryRun:      cfg.DryRun,
		logger:      cfg.Logger,
		now:         now,
	}, nil
}

// RunOnce performs a single sync run and returns its summary. The summary
// is non-nil even on error so callers can report partial progress. A
// non-nil error means the run ended abnormally (fatal fetch failures,
// store trouble, or cancellation); budget and cycle-done stops are normal.
func (e *Engine) RunOnce(ctx context.Context) (*RunSummary, error) {
	started := e.now()
	runID := uuid.NewString()
	log := e.logger.With(slog.String("run_id", runID))

	sum := &RunSummary{
		RunID:     runID,
		State:     StateInit,
		StartedAt: started,
		DryRun:    e.dryRun,
	}

	cur, err := e.store.Cursor(ctx)
	if err != nil {
		sum.State = StateStoppedFatal
		return sum, err
	}

	pos, newCycle := resolveCursor(cur, started, e.cycleLen)
	sum.NewCycle = newCycle
	sum.StartPosition = pos.Position
	sum.CycleStartedAt = pos.CycleStartedAt

	if newCycle {
		log.Info("starting new scan cycle",
			slog.Time("cycle_started_at", pos.CycleStartedAt),
		)

		if !e.dryRun {
			if err := e.store.SaveCursor(ctx, &pos); err != nil {
				sum.State = StateStoppedFatal
				return sum, err
			}
		}
	}

	sum.State = StateRunning
	log.Info("run started",
		slog.Int("position", pos.Position),
		slog.Int("pages_per_run", e.pagesPerRun),
		slog.Duration("run_budget", e.runBudget),
		slog.Bool("dry_run", e.dryRun),
	)

	deadline := started.Add(e.runBudget)

	var (
		stats     PageStats
		endOfData bool
		fatalErr  error
	)

loop:
	for {
		switch {
		case ctx.Err() != nil:
			sum.State = StateStoppedBudget
			fatalErr = ctx.Err()
			log.Warn("run cancelled", slog.Int("position", pos.Position))

			break loop

		case sum.PagesProcessed >= e.pagesPerRun:
			sum.State = StateStoppedBudget
			log.Info("page budget reached", slog.Int("pages", sum.PagesProcessed))

			break loop

		case !e.now().Before(deadline):
			sum.State = StateStoppedBudget
			log.Info("time budget exhausted", slog.Int("pages", sum.PagesProcessed))

			break loop
		}

		page := pos.Position + 1

		pg, err := e.fetcher.FetchPage(ctx, page, e.pageSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				sum.State = StateStoppedBudget
				fatalErr = err
				log.Warn("run cancelled during fetch", slog.Int("page", page))

				break
			}

			sum.State = StateStoppedFatal
			fatalErr = err
			log.Error("run stopped on fetch failure",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)

			break
		}

		// A page that exists but decoded to zero buildings is not the end
		// of the registry; only a truly empty response is.
		if len(pg.Buildings) == 0 && pg.Malformed == 0 {
			endOfData = true
			sum.State = StateStoppedCycle
			log.Info("reached end of registry data",
				slog.Int("probe_page", page),
				slog.Int("last_position", pos.Position),
			)

			break
		}

		muts, pstats, err := e.reconciler.ReconcilePage(ctx, pg)
		if err != nil {
			sum.State = StateStoppedFatal
			fatalErr = err
			log.Error("run stopped on reconcile failure",
				slog.Int("page", page),
				slog.String("error", err.Error()),
			)

			break
		}

		stats.Add(pstats)
		pos.Position = page
		pos.UpdatedAt = e.now()

		if !e.dryRun {
			if err := e.store.ApplyPage(ctx, muts, &pos); err != nil {
				sum.State = StateStoppedFatal
				fatalErr = err
				log.Error("run stopped on store failure",
					slog.Int("page", page),
					slog.String("error", err.Error()),
				)

				break
			}
		}

		sum.PagesProcessed++
		log.Debug("page processed",
			slog.Int("page", page),
			slog.Int("records", len(pg.Buildings)),
			slog.Int("new", pstats.New),
			slog.Int("updated", pstats.Updated),
			slog.Int("unchanged", pstats.Unchanged),
		)
	}

	if endOfData && fatalErr == nil {
		if err := e.finishCycle(ctx, &pos, sum, log); err != nil {
			sum.State = StateStoppedFatal
			fatalErr = err
		}
	}

	sum.fill(&stats, &pos, e.fetcher.Consecutive(), e.now())

	// Record history even when the run was cancelled.
	if err := e.store.RecordRun(context.WithoutCancel(ctx), sum.record()); err != nil {
		// History bookkeeping must not fail an otherwise good run.
		log.Error("recording run history failed", slog.String("error", err.Error()))
	}

	log.Info("run finished",
		slog.String("state", sum.State),
		slog.Int("pages", sum.PagesProcessed),
		slog.Int("new", sum.New),
		slog.Int("updated", sum.Updated),
		slog.Int("restored", sum.Restored),
		slog.Int("unchanged", sum.Unchanged),
		slog.Int("soft_deleted", sum.SoftDeleted),
		slog.Int("cursor_position", sum.CursorPosition),
		slog.Duration("elapsed", sum.FinishedAt.Sub(sum.StartedAt)),
	)

	return sum, fatalErr
}

// finishCycle runs the absence sweep after the scan reached the end of the
// registry: every live record not seen since the cycle started is a
// deletion candidate, and the guard decides whether the pass was complete
// enough to trust those absences.
func (e *Engine) finishCycle(ctx context.Context, pos *store.Cursor, sum *RunSummary, log *slog.Logger) error {
	missing, err := e.store.ListMissingSince(ctx, pos.CycleStartedAt)
	if err != nil {
		return err
	}

	sum.DeleteCandidates = len(missing)
	if len(missing) == 0 {
		log.Info("cycle complete, no missing shelters")
		return nil
	}

	seen, err := e.store.CountSeenSince(ctx, pos.CycleStartedAt)
	if err != nil {
		return err
	}

	active, err := e.store.CountActive(ctx)
	if err != nil {
		return err
	}

	if err := e.guard.Approve(seen, active, len(missing)); err != nil {
		sum.DeleteBlocked = true

		for _, id := range missing {
			log.Warn("delete rejected by safety guard", slog.String("bygning_id", id))
		}

		log.Warn("absence deletions blocked",
			slog.Int("candidates", len(missing)),
			slog.Int("seen", seen),
			slog.Int("active", active),
			slog.String("reason", err.Error()),
		)

		return nil
	}

	if e.dryRun {
		log.Info("dry run: would soft-delete missing shelters",
			slog.Int("candidates", len(missing)),
		)

		return nil
	}

	n, err := e.store.SoftDelete(ctx, missing, deleteReasonMissing, e.now())
	if err != nil {
		return err
	}

	sum.SoftDeleted = n
	log.Info("soft-deleted missing shelters",
		slog.Int("count", n),
		slog.Int("seen", seen),
		slog.Int("active", active),
	)

	return nil
}
