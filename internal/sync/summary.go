package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/svanecode/shelter-updater/internal/store"
)

// RunSummary is the machine-readable account of one run. It is what the
// sync command prints, what --summary-file writes, and what lands in the
// run history table.
type RunSummary struct {
	RunID             string    `json:"run_id"`
	State             string    `json:"state"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	ElapsedSeconds    float64   `json:"elapsed_seconds"`
	NewCycle          bool      `json:"new_cycle"`
	CycleStartedAt    time.Time `json:"cycle_started_at"`
	StartPosition     int       `json:"start_position"`
	CursorPosition    int       `json:"cursor_position"`
	PagesProcessed    int       `json:"pages_processed"`
	New               int       `json:"new"`
	Updated           int       `json:"updated"`
	Restored          int       `json:"restored"`
	Unchanged         int       `json:"unchanged"`
	AddressRefreshed  int       `json:"address_refreshed"`
	MissingLocation   int       `json:"missing_location"`
	DataErrors        int       `json:"data_errors"`
	DeleteCandidates  int       `json:"delete_candidates"`
	DeleteBlocked     bool      `json:"delete_blocked"`
	SoftDeleted       int       `json:"soft_deleted"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	DryRun            bool      `json:"dry_run"`
}

// fill copies the accumulated page stats and final cursor into the summary
// and stamps the finish time.
func (s *RunSummary) fill(stats *PageStats, pos *store.Cursor, consecutive int, finished time.Time) {
	s.New = stats.New
	s.Updated = stats.Updated
	s.Restored = stats.Restored
	s.Unchanged = stats.Unchanged
	s.AddressRefreshed = stats.AddressRefreshed
	s.MissingLocation = stats.MissingLocation
	s.DataErrors = stats.DataErrors
	s.ConsecutiveErrors = consecutive
	s.CursorPosition = pos.Position
	s.FinishedAt = finished
	s.ElapsedSeconds = finished.Sub(s.StartedAt).Seconds()
}

// record converts the summary into a run history row.
func (s *RunSummary) record() *store.RunRecord {
	return &store.RunRecord{
		RunID:             s.RunID,
		StartedAt:         s.StartedAt,
		FinishedAt:        s.FinishedAt,
		State:             s.State,
		PagesProcessed:    s.PagesProcessed,
		NewCount:          s.New,
		UpdatedCount:      s.Updated,
		RestoredCount:     s.Restored,
		UnchangedCount:    s.Unchanged,
		AddressRefreshed:  s.AddressRefreshed,
		MissingLocation:   s.MissingLocation,
		DataErrors:        s.DataErrors,
		DeleteCandidates:  s.DeleteCandidates,
		DeleteBlocked:     s.DeleteBlocked,
		SoftDeleted:       s.SoftDeleted,
		ConsecutiveErrors: s.ConsecutiveErrors,
		CursorPosition:    s.CursorPosition,
		DryRun:            s.DryRun,
	}
}

// WriteFile writes the summary as indented JSON, for CI artifacts and
// downstream tooling.
func (s *RunSummary) WriteFile(path string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("sync: encoding run summary: %w", err)
	}

	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("sync: writing run summary: %w", err)
	}

	return nil
}

// StepSummary renders the summary as the Markdown fragment the sync
// command appends to $GITHUB_STEP_SUMMARY when running in CI.
func (s *RunSummary) StepSummary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Shelter sync: %s\n\n", s.State)

	if s.DryRun {
		b.WriteString("**Dry run** — no changes were written.\n\n")
	}

	b.WriteString("| Metric | Value |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Pages processed | %d |\n", s.PagesProcessed)
	fmt.Fprintf(&b, "| Cursor position | %d |\n", s.CursorPosition)
	fmt.Fprintf(&b, "| New | %d |\n", s.New)
	fmt.Fprintf(&b, "| Updated | %d |\n", s.Updated)
	fmt.Fprintf(&b, "| Restored | %d |\n", s.Restored)
	fmt.Fprintf(&b, "| Unchanged | %d |\n", s.Unchanged)
	fmt.Fprintf(&b, "| Addresses refreshed | %d |\n", s.AddressRefreshed)
	fmt.Fprintf(&b, "| Missing location | %d |\n", s.MissingLocation)
	fmt.Fprintf(&b, "| Data errors | %d |\n", s.DataErrors)
	fmt.Fprintf(&b, "| Delete candidates | %d |\n", s.DeleteCandidates)
	fmt.Fprintf(&b, "| Soft-deleted | %d |\n", s.SoftDeleted)
	fmt.Fprintf(&b, "| Elapsed | %.1fs |\n", s.ElapsedSeconds)

	if s.DeleteBlocked {
		b.WriteString("\n:warning: Absence deletions were blocked by the safety guard.\n")
	}

	return b.String()
}
