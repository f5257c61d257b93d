package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/svanecode/shelter-updater/internal/bbr"
	"github.com/svanecode/shelter-updater/internal/config"
	"github.com/svanecode/shelter-updater/internal/dawa"
	"github.com/svanecode/shelter-updater/internal/store"
)

// doctorTimeout bounds each connectivity probe. Slow is as useless as down
// for a command whose job is a quick health verdict.
const doctorTimeout = 15 * time.Second

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database, and API connectivity",
		Long: `Run diagnostic checks for everything a sync run needs: the configuration
resolves, Datafordeler credentials are present, the local database opens and
migrates, and both the BBR registry and the DAWA address service respond.

Connectivity probes run in parallel. The command exits nonzero if any check
fails, so it can gate a deploy or a scheduled workflow.`,
		RunE: runDoctor,
	}
}

// doctorCheck is one named diagnostic. Run returns nil for PASS.
type doctorCheck struct {
	Name string
	Run  func(ctx context.Context) error
}

// checkResult pairs a check with its outcome.
type checkResult struct {
	Name string
	Err  error
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	// Doctor skips the root pre-run config loading so a broken config file
	// shows up as a failed check here instead of killing the command.
	configErr := loadConfig(cmd)
	logger := buildLogger()

	results := []checkResult{{Name: "configuration", Err: configErr}}

	if configErr == nil {
		statusf("Probing database and remote services...\n")

		ctx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout)
		defer cancel()

		results = append(results, runChecks(ctx, doctorChecks(logger))...)
	}

	printCheckResults(os.Stdout, results)

	for _, r := range results {
		if r.Err != nil {
			return errors.New("one or more checks failed")
		}
	}

	return nil
}

// doctorChecks builds the probes that need a resolved config.
func doctorChecks(logger *slog.Logger) []doctorCheck {
	return []doctorCheck{
		{
			Name: "credentials",
			Run: func(_ context.Context) error {
				if !resolvedCfg.HasCredentials() {
					return fmt.Errorf("set %s and %s", config.EnvUsername, config.EnvPassword)
				}

				return nil
			},
		},
		{
			Name: "database",
			Run: func(_ context.Context) error {
				st, err := store.Open(resolvedCfg.DBPath, logger)
				if err != nil {
					return err
				}

				return st.Close()
			},
		},
		{
			Name: "bbr registry",
			Run: func(ctx context.Context) error {
				client := bbr.NewClient(resolvedCfg.RegistryURL, resolvedCfg.Username,
					resolvedCfg.Password, resolvedCfg.UserAgent, buildHTTPClient(), logger)

				return client.Ping(ctx)
			},
		},
		{
			Name: "dawa addresses",
			Run: func(ctx context.Context) error {
				client := dawa.NewClient(resolvedCfg.AddressURL, resolvedCfg.UserAgent,
					buildHTTPClient(), logger)

				return client.Ping(ctx)
			},
		},
	}
}

// runChecks runs all checks concurrently and returns results in the input
// order. Checks are independent probes; one failing must not stop the rest,
// so errors are captured per check rather than propagated through the group.
func runChecks(ctx context.Context, checks []doctorCheck) []checkResult {
	results := make([]checkResult, len(checks))

	var g errgroup.Group

	for i, check := range checks {
		g.Go(func() error {
			results[i] = checkResult{Name: check.Name, Err: check.Run(ctx)}

			return nil
		})
	}

	// Errors stay in results; the group only synchronizes completion.
	_ = g.Wait()

	return results
}

// printCheckResults renders the PASS/FAIL table.
func printCheckResults(w io.Writer, results []checkResult) {
	rows := make([][]string, 0, len(results))

	for _, r := range results {
		status := "PASS"
		detail := ""

		if r.Err != nil {
			status = "FAIL"
			detail = r.Err.Error()
		}

		rows = append(rows, []string{r.Name, status, detail})
	}

	printTable(w, []string{"CHECK", "STATUS", "DETAIL"}, rows)
}
