package sync

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svanecode/shelter-updater/internal/store"
)

func TestRunSummary_Fill(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 12, 5, 30, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	sum := &RunSummary{StartedAt: started}
	stats := PageStats{New: 3, Updated: 2, Unchanged: 40, DataErrors: 1}
	pos := &store.Cursor{Position: 17}

	sum.fill(&stats, pos, 2, finished)

	assert.Equal(t, 3, sum.New)
	assert.Equal(t, 2, sum.Updated)
	assert.Equal(t, 40, sum.Unchanged)
	assert.Equal(t, 1, sum.DataErrors)
	assert.Equal(t, 2, sum.ConsecutiveErrors)
	assert.Equal(t, 17, sum.CursorPosition)
	assert.InDelta(t, 90.0, sum.ElapsedSeconds, 0.001)
}

func TestRunSummary_RecordMirrorsSummary(t *testing.T) {
	t.Parallel()

	sum := &RunSummary{
		RunID:            "run-1",
		State:            StateStoppedCycle,
		PagesProcessed:   12,
		New:              3,
		Restored:         1,
		DeleteCandidates: 2,
		DeleteBlocked:    true,
		CursorPosition:   834,
		DryRun:           true,
	}

	rec := sum.record()
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, StateStoppedCycle, rec.State)
	assert.Equal(t, 12, rec.PagesProcessed)
	assert.Equal(t, 3, rec.NewCount)
	assert.Equal(t, 1, rec.RestoredCount)
	assert.Equal(t, 2, rec.DeleteCandidates)
	assert.True(t, rec.DeleteBlocked)
	assert.Equal(t, 834, rec.CursorPosition)
	assert.True(t, rec.DryRun)
}

func TestRunSummary_WriteFile(t *testing.T) {
	t.Parallel()

	sum := &RunSummary{
		RunID:          "a8a5fa0e-0000-4000-8000-000000000000",
		State:          StateStoppedBudget,
		PagesProcessed: 834,
	}

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, sum.WriteFile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "STOPPED_BUDGET", decoded["state"])
	assert.Equal(t, float64(834), decoded["pages_processed"])
}

func TestRunSummary_StepSummary(t *testing.T) {
	t.Parallel()

	sum := &RunSummary{
		State:          StateStoppedCycle,
		PagesProcessed: 42,
		New:            3,
		SoftDeleted:    1,
	}

	md := sum.StepSummary()
	assert.Contains(t, md, "## Shelter sync: STOPPED_CYCLE_DONE")
	assert.Contains(t, md, "| Pages processed | 42 |")
	assert.Contains(t, md, "| Soft-deleted | 1 |")
	assert.NotContains(t, md, "Dry run")
	assert.NotContains(t, md, "safety guard")
}

func TestRunSummary_StepSummaryFlagsDryRunAndBlockedDeletes(t *testing.T) {
	t.Parallel()

	sum := &RunSummary{
		State:         StateStoppedCycle,
		DryRun:        true,
		DeleteBlocked: true,
	}

	md := sum.StepSummary()
	assert.Contains(t, md, "**Dry run**")
	assert.Contains(t, md, "blocked by the safety guard")
}
