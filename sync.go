package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/svanecode/shelter-updater/internal/bbr"
	"github.com/svanecode/shelter-updater/internal/config"
	"github.com/svanecode/shelter-updater/internal/dawa"
	"github.com/svanecode/shelter-updater/internal/store"
	"github.com/svanecode/shelter-updater/internal/sync"
)

// Sync-specific flags. pages, budget and dry-run participate in the config
// override chain, so loadConfig() reads them when they were explicitly set.
var (
	flagPages       int
	flagBudget      string
	flagDryRun      bool
	flagSummaryFile string
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one bounded sync slice against the registry",
		Long: `Fetch registry pages from the persisted cursor position, reconcile them
into the local mirror, and stop when the page or time budget runs out or
the end of the registry is reached. At the end of a full pass, records not
seen anywhere in the pass are soft-deleted behind the safety guard.`,
		RunE: runSync,
	}

	cmd.Flags().IntVar(&flagPages, "pages", 0, "max pages this run (overrides config)")
	cmd.Flags().StringVar(&flagBudget, "budget", "", "max wall-clock time this run, e.g. 45m (overrides config)")
	cmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "fetch and reconcile but write nothing")
	cmd.Flags().StringVar(&flagSummaryFile, "summary-file", "", "write the JSON run summary to this file")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	if !resolvedCfg.HasCredentials() {
		return fmt.Errorf("registry credentials missing: set %s and %s",
			config.EnvUsername, config.EnvPassword)
	}

	unlock, err := acquireRunLock(lockPath(resolvedCfg.DBPath))
	if err != nil {
		return err
	}
	defer unlock()

	st, err := store.Open(resolvedCfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	eng, err := buildEngine(st, logger)
	if err != nil {
		return err
	}

	sum, runErr := eng.RunOnce(ctx)

	if err := printRunSummary(sum); err != nil {
		return err
	}

	if flagSummaryFile != "" {
		if err := sum.WriteFile(flagSummaryFile); err != nil {
			logger.Error("writing summary file failed", slog.String("error", err.Error()))
		}
	}

	appendStepSummary(sum, logger)

	return runErr
}

// buildEngine wires the transports, limiters, fetcher and reconciler into
// a sync engine according to the resolved config.
func buildEngine(st *store.Store, logger *slog.Logger) (*sync.Engine, error) {
	httpClient := buildHTTPClient()

	registry := bbr.NewClient(resolvedCfg.RegistryURL, resolvedCfg.Username, resolvedCfg.Password,
		resolvedCfg.UserAgent, httpClient, logger)
	addresses := dawa.NewClient(resolvedCfg.AddressURL, resolvedCfg.UserAgent, httpClient, logger)

	policy := sync.BackoffPolicy{
		TimeoutBase:     resolvedCfg.TimeoutBase,
		ConnectionBase:  resolvedCfg.ConnectionBase,
		RateLimitBase:   resolvedCfg.RateLimitBase,
		ServerErrorBase: resolvedCfg.ServerErrorBase,
		MaxDelay:        resolvedCfg.MaxDelay,
	}

	fetcher := sync.NewPageFetcher(registry, policy, resolvedCfg.MaxConsecutiveErrors,
		pageLimiter(), logger)

	reconciler := sync.NewReconciler(st, addresses, addressLimiter(),
		resolvedCfg.AddressRefresh, logger)

	return sync.NewEngine(&sync.EngineConfig{
		Store:       st,
		Fetcher:     fetcher,
		Reconciler:  reconciler,
		Guard:       deleteGuard(),
		PageSize:    resolvedCfg.PageSize,
		PagesPerRun: resolvedCfg.PagesPerRun,
		RunBudget:   resolvedCfg.RunBudget,
		CycleLength: resolvedCfg.CycleLength,
		DryRun:      resolvedCfg.DryRun,
		Logger:      logger,
	})
}

// pageLimiter paces registry page requests. Nil disables pacing.
func pageLimiter() *rate.Limiter {
	if resolvedCfg.PageDelay <= 0 {
		return nil
	}

	return rate.NewLimiter(rate.Every(resolvedCfg.PageDelay), 1)
}

// addressLimiter paces DAWA lookups. Nil disables pacing.
func addressLimiter() *rate.Limiter {
	if resolvedCfg.AddressRate <= 0 {
		return nil
	}

	return rate.NewLimiter(rate.Limit(resolvedCfg.AddressRate), 1)
}

func deleteGuard() sync.DeleteGuard {
	return sync.DeleteGuard{
		SafeThreshold: resolvedCfg.SafeThreshold,
		MinCoverage:   resolvedCfg.MinDeleteCoverage,
	}
}

// printRunSummary writes the run outcome to stdout, as JSON when --json is
// set and as a short human report otherwise.
func printRunSummary(sum *sync.RunSummary) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(sum); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	fmt.Printf("Run %s: %s\n", sum.RunID, sum.State)

	if sum.DryRun {
		fmt.Println("  (dry run — nothing was written)")
	}

	if sum.NewCycle {
		fmt.Printf("  Started a new scan cycle at %s\n", formatTime(sum.CycleStartedAt))
	}

	fmt.Printf("  Pages:     %d (cursor now at page %d)\n", sum.PagesProcessed, sum.CursorPosition)
	fmt.Printf("  Changes:   %d new, %d updated, %d restored, %d unchanged\n",
		sum.New, sum.Updated, sum.Restored, sum.Unchanged)
	fmt.Printf("  Addresses: %d refreshed, %d without location\n",
		sum.AddressRefreshed, sum.MissingLocation)

	if sum.DataErrors > 0 {
		fmt.Printf("  Data errors: %d\n", sum.DataErrors)
	}

	if sum.DeleteCandidates > 0 {
		switch {
		case sum.DeleteBlocked:
			fmt.Printf("  Deletions: %d candidates BLOCKED by safety guard\n", sum.DeleteCandidates)
		case sum.DryRun:
			fmt.Printf("  Deletions: %d candidates (dry run)\n", sum.DeleteCandidates)
		default:
			fmt.Printf("  Deletions: %d soft-deleted of %d candidates\n",
				sum.SoftDeleted, sum.DeleteCandidates)
		}
	}

	fmt.Printf("  Elapsed:   %.1fs\n", sum.ElapsedSeconds)

	return nil
}

// appendStepSummary appends the Markdown run report when invoked from a
// GitHub Actions job.
func appendStepSummary(sum *sync.RunSummary, logger *slog.Logger) {
	path := os.Getenv("GITHUB_STEP_SUMMARY")
	if path == "" {
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Warn("could not open step summary file", slog.String("error", err.Error()))
		return
	}
	defer f.Close()

	if _, err := f.WriteString(sum.StepSummary()); err != nil {
		logger.Warn("could not write step summary", slog.String("error", err.Error()))
	}
}
