package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/svanecode/shelter-updater/internal/bbr"
	"github.com/svanecode/shelter-updater/internal/config"
	"github.com/svanecode/shelter-updater/internal/store"
	"github.com/svanecode/shelter-updater/internal/sync"
)

// Audit defaults. The page scan touches every record it still sees once per
// cycle, so the audit only needs to reach rows the scan has not confirmed
// for several cycles.
const (
	defaultAuditOlderThanDays = 180
	defaultAuditLimit         = 500
	defaultAuditRate          = 2.0 // by-id lookups per second
)

var (
	flagAuditOlderThan int
	flagAuditLimit     int
	flagAuditDryRun    bool
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Re-verify long-unchecked shelters one by one",
		Long: `Fetch each shelter whose last check is older than the threshold directly
from the registry by building id, oldest first. Records the registry no
longer returns, or that no longer qualify as shelters, are soft-deleted with
a reason recording the evidence; still-qualifying records get their
attributes refreshed.

Unlike the cycle-end sweep, these deletions rest on direct per-record
evidence, so the bulk-delete safety guard does not apply here.`,
		RunE: runAudit,
	}

	cmd.Flags().IntVar(&flagAuditOlderThan, "older-than", defaultAuditOlderThanDays,
		"re-verify records last checked more than this many days ago")
	cmd.Flags().IntVar(&flagAuditLimit, "limit", defaultAuditLimit,
		"max records to audit this run (0 = no limit)")
	cmd.Flags().BoolVar(&flagAuditDryRun, "dry-run", false,
		"report what would change but write nothing")

	return cmd
}

func runAudit(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := shutdownContext(cmd.Context(), logger)

	if flagAuditOlderThan < 1 {
		return fmt.Errorf("--older-than must be at least 1 day, got %d", flagAuditOlderThan)
	}

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

	registry := bbr.NewClient(resolvedCfg.RegistryURL, resolvedCfg.Username, resolvedCfg.Password,
		resolvedCfg.UserAgent, buildHTTPClient(), logger)

	limiter := rate.NewLimiter(rate.Limit(defaultAuditRate), 1)
	auditor := sync.NewAuditor(st, registry, limiter, flagAuditDryRun, logger)

	olderThan := time.Duration(flagAuditOlderThan) * 24 * time.Hour

	sum, runErr := auditor.Run(ctx, olderThan, flagAuditLimit)

	if err := printAuditSummary(sum); err != nil {
		return err
	}

	return runErr
}

func printAuditSummary(sum *sync.AuditSummary) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(sum)
	}

	fmt.Printf("Audited %d shelters", sum.Checked)

	if sum.DryRun {
		fmt.Print(" (dry run — nothing was written)")
	}

	fmt.Println()
	fmt.Printf("  Unchanged:    %d\n", sum.Unchanged)
	fmt.Printf("  Updated:      %d\n", sum.Updated)
	fmt.Printf("  Soft-deleted: %d\n", sum.Deleted)

	if sum.Errors > 0 {
		fmt.Printf("  Lookup errors (skipped): %d\n", sum.Errors)
	}

	return nil
}
