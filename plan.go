package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	flagPlanTotalPages int
	flagPlanCycleDays  int
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the pages-per-run budget for a scan cadence",
		Long: `Show how many pages each run must process, at common cron cadences, for
the scan to cover the whole registry within one cycle. Pure arithmetic on
the estimated registry size — nothing is fetched or written.

Pick a cadence, put its pages-per-run value in the config, and schedule the
matching cron expression.`,
		RunE: runPlan,
	}

	cmd.Flags().IntVar(&flagPlanTotalPages, "total-pages", defaultEstimatedPages,
		"estimated registry page count")
	cmd.Flags().IntVar(&flagPlanCycleDays, "cycle-days", 0,
		"cycle length in days (default: configured sync.cycle_days)")

	return cmd
}

// cadence is one scheduling option for the scan.
type cadence struct {
	Name       string
	RunsPerDay int
	Cron       string
}

// cadences lists the cron schedules the planner evaluates, sparsest first.
var cadences = []cadence{
	{"daily", 1, "0 2 * * *"},
	{"twice daily", 2, "0 2,14 * * *"},
	{"every 6 hours", 4, "0 */6 * * *"},
	{"every 4 hours", 6, "0 */4 * * *"},
	{"every 2 hours", 12, "0 */2 * * *"},
	{"hourly", 24, "0 * * * *"},
}

// planRow is the computed budget for one cadence.
type planRow struct {
	Cadence     cadence
	PagesPerRun int
	DaysToCover float64
}

// planRows computes, for each cadence, the smallest pages-per-run budget
// that covers totalPages within cycleDays, and how long full coverage takes
// at that budget.
func planRows(totalPages, cycleDays int) []planRow {
	rows := make([]planRow, 0, len(cadences))

	for _, c := range cadences {
		totalRuns := c.RunsPerDay * cycleDays
		pagesPerRun := ceilDiv(totalPages, totalRuns)
		daysToCover := float64(totalPages) / float64(pagesPerRun*c.RunsPerDay)

		rows = append(rows, planRow{
			Cadence:     c,
			PagesPerRun: pagesPerRun,
			DaysToCover: daysToCover,
		})
	}

	return rows
}

// coverageDays returns how many days a full pass takes with the given
// per-run budget and cadence.
func coverageDays(totalPages, pagesPerRun, runsPerDay int) float64 {
	if pagesPerRun <= 0 || runsPerDay <= 0 {
		return 0
	}

	return float64(totalPages) / float64(pagesPerRun*runsPerDay)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}

	return (a + b - 1) / b
}

func runPlan(_ *cobra.Command, _ []string) error {
	totalPages := flagPlanTotalPages
	if totalPages < 1 {
		return fmt.Errorf("--total-pages must be positive, got %d", totalPages)
	}

	cycleDays := flagPlanCycleDays
	if cycleDays == 0 {
		cycleDays = int(resolvedCfg.CycleLength.Hours() / 24)
	}

	if cycleDays < 1 {
		return fmt.Errorf("cycle length must be at least 1 day, got %d", cycleDays)
	}

	fmt.Printf("Covering ~%d pages within a %d-day cycle needs %d pages per day.\n\n",
		totalPages, cycleDays, ceilDiv(totalPages, cycleDays))

	headers := []string{"CADENCE", "RUNS/DAY", "PAGES/RUN", "FULL PASS", "CRON"}

	rows := make([][]string, 0, len(cadences))
	for _, r := range planRows(totalPages, cycleDays) {
		rows = append(rows, []string{
			r.Cadence.Name,
			strconv.Itoa(r.Cadence.RunsPerDay),
			strconv.Itoa(r.PagesPerRun),
			fmt.Sprintf("%.1fd", r.DaysToCover),
			r.Cadence.Cron,
		})
	}

	printTable(os.Stdout, headers, rows)

	// Check the configured budget against the cycle at twice-daily cadence,
	// the schedule the defaults are tuned for.
	configured := resolvedCfg.PagesPerRun
	days := coverageDays(totalPages, configured, 2)

	fmt.Printf("\nConfigured pages_per_run = %d: a twice-daily schedule covers the registry in %.1f days", configured, days)

	if days > float64(cycleDays) {
		fmt.Printf(" — too slow for the %d-day cycle, increase the budget.\n", cycleDays)
	} else {
		fmt.Println(" — on track.")
	}

	return nil
}
