// Package config implements TOML configuration loading, validation, and the
// override chain for shelter-updater. Settings resolve through four layers
// (defaults -> config file -> environment -> CLI flags); later layers win.
// Datafordeler credentials are environment-only and never read from the file.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Registry RegistryConfig `toml:"registry"`
	Address  AddressConfig  `toml:"address"`
	Sync     SyncConfig     `toml:"sync"`
	Retry    RetryConfig    `toml:"retry"`
	Safety   SafetyConfig   `toml:"safety"`
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// RegistryConfig controls access to the BBR building registry on Datafordeler.
type RegistryConfig struct {
	BaseURL  string `toml:"base_url"`
	PageSize int    `toml:"page_size"`
}

// AddressConfig controls address enrichment lookups against DAWA.
type AddressConfig struct {
	BaseURL           string  `toml:"base_url"`
	RefreshDays       int     `toml:"refresh_days"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// SyncConfig controls the scan cycle and per-run work budgets.
type SyncConfig struct {
	CycleDays   int    `toml:"cycle_days"`
	PagesPerRun int    `toml:"pages_per_run"`
	RunBudget   string `toml:"run_budget"`
	PageDelay   string `toml:"page_delay"`
	DryRun      bool   `toml:"dry_run"`
}

// RetryConfig controls backoff delays per failure kind and the hard stop
// ceiling for consecutive fetch failures.
type RetryConfig struct {
	TimeoutBase          string `toml:"timeout_base"`
	ConnectionBase       string `toml:"connection_base"`
	RateLimitBase        string `toml:"rate_limit_base"`
	ServerErrorBase      string `toml:"server_error_base"`
	MaxDelay             string `toml:"max_delay"`
	MaxConsecutiveErrors int    `toml:"max_consecutive_errors"`
}

// SafetyConfig controls the mass-delete circuit breaker. Soft-deletes inferred
// from absence are blocked when the pass saw too few records in absolute terms
// or covered too small a fraction of the known active set.
type SafetyConfig struct {
	SafeThreshold     int     `toml:"safe_threshold"`
	MinDeleteCoverage float64 `toml:"min_delete_coverage"`
}

// DatabaseConfig locates the local SQLite state database.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior for both remote APIs.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value" — --dry-run=false is different from
// not passing --dry-run at all.
type CLIOverrides struct {
	ConfigPath string // --config flag (empty = use default)
	DBPath     string // --db flag
	Pages      *int   // --pages flag
	RunBudget  string // --budget flag
	DryRun     *bool  // --dry-run flag
}
