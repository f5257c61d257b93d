package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/svanecode/shelter-updater/internal/store"
)

// defaultEstimatedPages is the working estimate of how many pages the
// registry spans. It only affects progress percentages, never the scan
// itself: the scan ends where the data ends.
const defaultEstimatedPages = 50000

var flagTotalPages int

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scan progress, store counts, and the last run",
		Long: `Display where the registry scan currently stands: cursor position, cycle
age, estimated completion, shelter counts in the local store, and what the
most recent run did.

Reads the local database only — no registry requests are made.`,
		RunE: runStatus,
	}

	cmd.Flags().IntVar(&flagTotalPages, "total-pages", defaultEstimatedPages,
		"estimated registry page count, for progress percentages")

	return cmd
}

// statusReport is the machine-readable shape of the status command output.
type statusReport struct {
	DBPath       string         `json:"db_path"`
	DBSizeBytes  int64          `json:"db_size_bytes"`
	ActiveCount  int            `json:"active_count"`
	DeletedCount int            `json:"deleted_count"`
	Cursor       *cursorReport  `json:"cursor,omitempty"`
	LastRun      *lastRunReport `json:"last_run,omitempty"`
}

type cursorReport struct {
	Position       int       `json:"position"`
	CycleStartedAt time.Time `json:"cycle_started_at"`
	CycleAgeDays   float64   `json:"cycle_age_days"`
	NextCycleAt    time.Time `json:"next_cycle_at"`
	EstimatedTotal int       `json:"estimated_total_pages"`
	PercentDone    float64   `json:"percent_done"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type lastRunReport struct {
	RunID          string    `json:"run_id"`
	State          string    `json:"state"`
	FinishedAt     time.Time `json:"finished_at"`
	PagesProcessed int       `json:"pages_processed"`
	New            int       `json:"new"`
	Updated        int       `json:"updated"`
	Restored       int       `json:"restored"`
	SoftDeleted    int       `json:"soft_deleted"`
	DeleteBlocked  bool      `json:"delete_blocked"`
	DryRun         bool      `json:"dry_run"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	// Opening would create an empty database as a side effect; a missing
	// file just means no run has happened yet.
	if _, err := os.Stat(resolvedCfg.DBPath); errors.Is(err, os.ErrNotExist) {
		fmt.Println("No local database yet. Run 'shelter-updater sync' to start scanning.")
		return nil
	}

	st, err := store.Open(resolvedCfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := buildStatusReport(cmd.Context(), st, resolvedCfg.DBPath,
		flagTotalPages, resolvedCfg.CycleLength, time.Now())
	if err != nil {
		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report)
	}

	printStatusText(report)

	return nil
}

// buildStatusReport collects everything the status command shows from the
// store into one struct.
func buildStatusReport(ctx context.Context, st *store.Store, dbPath string, totalPages int, cycleLen time.Duration, now time.Time) (*statusReport, error) {
	report := &statusReport{DBPath: dbPath}

	if fi, err := os.Stat(dbPath); err == nil {
		report.DBSizeBytes = fi.Size()
	}

	var err error
	if report.ActiveCount, err = st.CountActive(ctx); err != nil {
		return nil, err
	}

	if report.DeletedCount, err = st.CountDeleted(ctx); err != nil {
		return nil, err
	}

	cur, err := st.Cursor(ctx)
	if err != nil {
		return nil, err
	}

	if cur != nil {
		report.Cursor = &cursorReport{
			Position:       cur.Position,
			CycleStartedAt: cur.CycleStartedAt,
			CycleAgeDays:   now.Sub(cur.CycleStartedAt).Hours() / 24,
			NextCycleAt:    cur.CycleStartedAt.Add(cycleLen),
			EstimatedTotal: totalPages,
			PercentDone:    scanPercent(cur.Position, totalPages),
			UpdatedAt:      cur.UpdatedAt,
		}
	}

	last, ok, err := st.LastRun(ctx)
	if err != nil {
		return nil, err
	}

	if ok {
		report.LastRun = &lastRunReport{
			RunID:          last.RunID,
			State:          last.State,
			FinishedAt:     last.FinishedAt,
			PagesProcessed: last.PagesProcessed,
			New:            last.NewCount,
			Updated:        last.UpdatedCount,
			Restored:       last.RestoredCount,
			SoftDeleted:    last.SoftDeleted,
			DeleteBlocked:  last.DeleteBlocked,
			DryRun:         last.DryRun,
		}
	}

	return report, nil
}

// scanPercent converts a cursor position into a completion percentage
// against the estimated page count, capped at 100: the estimate is only an
// estimate and the scan may run past it.
func scanPercent(position, totalPages int) float64 {
	if totalPages <= 0 {
		return 0
	}

	pct := float64(position) / float64(totalPages) * 100
	if pct > 100 {
		pct = 100
	}

	return pct
}

func printStatusText(r *statusReport) {
	now := time.Now()

	fmt.Println("Scan cycle")

	if r.Cursor == nil {
		fmt.Println("  No cursor yet — the first sync run will start a cycle at page 1.")
	} else {
		c := r.Cursor
		fmt.Printf("  Started:   %s (%s ago)\n", formatTime(c.CycleStartedAt), formatAge(c.CycleStartedAt, now))
		fmt.Printf("  Position:  page %d of ~%d (%.1f%%)\n", c.Position, c.EstimatedTotal, c.PercentDone)

		if now.After(c.NextCycleAt) {
			fmt.Printf("  Next cycle: due now (was %s)\n", formatTime(c.NextCycleAt))
		} else {
			fmt.Printf("  Next cycle: %s (in %s)\n", formatTime(c.NextCycleAt), formatAge(now, c.NextCycleAt))
		}

		fmt.Printf("  Last moved: %s\n", formatTime(c.UpdatedAt))
	}

	fmt.Println()
	fmt.Println("Store")
	fmt.Printf("  Active shelters: %d\n", r.ActiveCount)
	fmt.Printf("  Soft-deleted:    %d\n", r.DeletedCount)
	fmt.Printf("  Database:        %s (%s)\n", r.DBPath, formatSize(r.DBSizeBytes))

	fmt.Println()
	fmt.Println("Last run")

	if r.LastRun == nil {
		fmt.Println("  No runs recorded yet.")
		return
	}

	lr := r.LastRun
	fmt.Printf("  %s at %s", lr.State, formatTime(lr.FinishedAt))

	if lr.DryRun {
		fmt.Print(" (dry run)")
	}

	fmt.Println()
	fmt.Printf("  Pages:   %d\n", lr.PagesProcessed)
	fmt.Printf("  Changes: %d new, %d updated, %d restored, %d soft-deleted\n",
		lr.New, lr.Updated, lr.Restored, lr.SoftDeleted)

	if lr.DeleteBlocked {
		fmt.Println("  Warning: absence deletions were blocked by the safety guard")
	}
}
