package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/svanecode/shelter-updater/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDBPath     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
// It is available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Resolved

// skipConfigCommands lists commands that handle config loading themselves.
// Doctor must be able to diagnose a broken config instead of dying before
// its RunE ever executes. Uses CommandPath() for explicit matching.
var skipConfigCommands = map[string]bool{
	"shelter-updater doctor": true,
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shelter-updater",
		Short: "Sync Danish civil-defence shelters from BBR",
		Long: `shelter-updater maintains a local mirror of sikringsrum (civil-defence
shelters) from the Danish building registry (BBR), enriched with addresses
and coordinates from DAWA.

The registry is too large for one sitting, so each sync run scans a bounded
slice of it and a persistent cursor carries the scan across runs. Over a
fixed-length cycle the runs add up to one full pass, after which records
missing from the entire pass are soft-deleted behind a safety guard.`,
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "database file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// (defaults, config file, environment, CLI flags) and stores the result in
// resolvedCfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		DBPath:     flagDBPath,
	}

	// Subcommand flags join the chain only when the user actually set
	// them; pflag returns false for flags the command does not define.
	if cmd.Flags().Changed("pages") {
		cli.Pages = &flagPages
	}

	if cmd.Flags().Changed("budget") {
		cli.RunBudget = flagBudget
	}

	if cmd.Flags().Changed("dry-run") {
		cli.DryRun = &flagDryRun
	}

	env := config.ReadEnvOverrides()

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. The "auto" format picks
// text on a terminal and JSON otherwise, so CI logs stay machine-readable.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		format = resolvedCfg.LogFormat
	}

	// CLI flags override config (highest priority).
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	if format == "auto" {
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildHTTPClient returns the shared HTTP client for registry and address
// lookups. The timeout is the whole-request ceiling; connection dialing is
// bounded separately by the transport defaults.
func buildHTTPClient() *http.Client {
	return &http.Client{Timeout: resolvedCfg.RequestTimeout}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
