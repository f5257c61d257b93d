package config

import (
	"fmt"
	"time"
)

// Resolved is the fully merged configuration after the four-layer override
// chain, with string durations parsed. Everything downstream of the CLI
// consumes this instead of the raw Config.
type Resolved struct {
	ConfigPath string
	DBPath     string

	RegistryURL string
	Username    string
	Password    string
	PageSize    int

	AddressURL     string
	AddressRefresh time.Duration
	AddressRate    float64

	CycleLength time.Duration
	PagesPerRun int
	RunBudget   time.Duration
	PageDelay   time.Duration
	DryRun      bool

	TimeoutBase          time.Duration
	ConnectionBase       time.Duration
	RateLimitBase        time.Duration
	ServerErrorBase      time.Duration
	MaxDelay             time.Duration
	MaxConsecutiveErrors int

	SafeThreshold     int
	MinDeleteCoverage float64

	LogLevel  string
	LogFormat string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

// hoursPerDay converts day-count settings into durations. Cycle and refresh
// windows are whole days in the config because that is how operators think
// about them.
const hoursPerDay = 24

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The precedence order ensures CLI flags always win, matching user
// expectations for one-off overrides without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := env.ConfigPath
	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	r := &Resolved{
		ConfigPath:           cfgPath,
		DBPath:               cfg.Database.Path,
		RegistryURL:          cfg.Registry.BaseURL,
		Username:             env.Username,
		Password:             env.Password,
		PageSize:             cfg.Registry.PageSize,
		AddressURL:           cfg.Address.BaseURL,
		AddressRefresh:       time.Duration(cfg.Address.RefreshDays) * hoursPerDay * time.Hour,
		AddressRate:          cfg.Address.RequestsPerSecond,
		CycleLength:          time.Duration(cfg.Sync.CycleDays) * hoursPerDay * time.Hour,
		PagesPerRun:          cfg.Sync.PagesPerRun,
		DryRun:               cfg.Sync.DryRun,
		MaxConsecutiveErrors: cfg.Retry.MaxConsecutiveErrors,
		SafeThreshold:        cfg.Safety.SafeThreshold,
		MinDeleteCoverage:    cfg.Safety.MinDeleteCoverage,
		LogLevel:             cfg.Logging.LogLevel,
		LogFormat:            cfg.Logging.LogFormat,
		UserAgent:            cfg.Network.UserAgent,
	}

	if err := r.parseDurations(cfg); err != nil {
		return nil, err
	}

	// Environment overrides.
	if env.DBPath != "" {
		r.DBPath = env.DBPath
	}

	if env.RegistryURL != "" {
		r.RegistryURL = env.RegistryURL
	}

	if env.AddressURL != "" {
		r.AddressURL = env.AddressURL
	}

	// CLI overrides (pointer fields: nil = not specified).
	if cli.DBPath != "" {
		r.DBPath = cli.DBPath
	}

	if cli.Pages != nil {
		r.PagesPerRun = *cli.Pages
	}

	if cli.RunBudget != "" {
		d, err := time.ParseDuration(cli.RunBudget)
		if err != nil {
			return nil, fmt.Errorf("--budget: %w", err)
		}

		r.RunBudget = d
	}

	if cli.DryRun != nil {
		r.DryRun = *cli.DryRun
	}

	return r, nil
}

// parseDurations converts the string duration fields from the raw config.
// Validate has already checked these parse, but Resolve can also be handed a
// synthetic Config from tests, so errors are still propagated.
func (r *Resolved) parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"sync.run_budget", cfg.Sync.RunBudget, &r.RunBudget},
		{"sync.page_delay", cfg.Sync.PageDelay, &r.PageDelay},
		{"retry.timeout_base", cfg.Retry.TimeoutBase, &r.TimeoutBase},
		{"retry.connection_base", cfg.Retry.ConnectionBase, &r.ConnectionBase},
		{"retry.rate_limit_base", cfg.Retry.RateLimitBase, &r.RateLimitBase},
		{"retry.server_error_base", cfg.Retry.ServerErrorBase, &r.ServerErrorBase},
		{"retry.max_delay", cfg.Retry.MaxDelay, &r.MaxDelay},
		{"network.connect_timeout", cfg.Network.ConnectTimeout, &r.ConnectTimeout},
		{"network.request_timeout", cfg.Network.RequestTimeout, &r.RequestTimeout},
	}

	for _, f := range fields {
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}

		*f.dst = d
	}

	return nil
}

// HasCredentials reports whether Datafordeler credentials are present.
// DAWA lookups are anonymous; only the BBR registry requires them.
func (r *Resolved) HasCredentials() bool {
	return r.Username != "" && r.Password != ""
}
