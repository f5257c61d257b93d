package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation range constants.
const (
	minPageSize       = 1
	maxPageSize       = 1000 // Datafordeler rejects larger pagesize values
	minCycleDays      = 1
	minPagesPerRun    = 1
	minConsecutive    = 1
	maxCoverage       = 1.0
	minRunBudget      = time.Minute
	minBackoffBase    = time.Second
	minNetworkTimeout = time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRegistry(&cfg.Registry)...)
	errs = append(errs, validateAddress(&cfg.Address)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateSafety(&cfg.Safety)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateRegistry(c *RegistryConfig) []error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, errors.New("registry.base_url: must not be empty"))
	}

	if c.PageSize < minPageSize || c.PageSize > maxPageSize {
		errs = append(errs, fmt.Errorf("registry.page_size: must be between %d and %d, got %d",
			minPageSize, maxPageSize, c.PageSize))
	}

	return errs
}

func validateAddress(c *AddressConfig) []error {
	var errs []error

	if c.BaseURL == "" {
		errs = append(errs, errors.New("address.base_url: must not be empty"))
	}

	if c.RefreshDays < 1 {
		errs = append(errs, fmt.Errorf("address.refresh_days: must be at least 1, got %d", c.RefreshDays))
	}

	if c.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("address.requests_per_second: must be positive, got %g", c.RequestsPerSecond))
	}

	return errs
}

func validateSync(c *SyncConfig) []error {
	var errs []error

	if c.CycleDays < minCycleDays {
		errs = append(errs, fmt.Errorf("sync.cycle_days: must be at least %d, got %d", minCycleDays, c.CycleDays))
	}

	if c.PagesPerRun < minPagesPerRun {
		errs = append(errs, fmt.Errorf("sync.pages_per_run: must be at least %d, got %d", minPagesPerRun, c.PagesPerRun))
	}

	errs = append(errs, validateDuration("sync.run_budget", c.RunBudget, minRunBudget)...)
	errs = append(errs, validateDuration("sync.page_delay", c.PageDelay, 0)...)

	return errs
}

func validateRetry(c *RetryConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("retry.timeout_base", c.TimeoutBase, minBackoffBase)...)
	errs = append(errs, validateDuration("retry.connection_base", c.ConnectionBase, minBackoffBase)...)
	errs = append(errs, validateDuration("retry.rate_limit_base", c.RateLimitBase, minBackoffBase)...)
	errs = append(errs, validateDuration("retry.server_error_base", c.ServerErrorBase, minBackoffBase)...)
	errs = append(errs, validateDuration("retry.max_delay", c.MaxDelay, minBackoffBase)...)

	if c.MaxConsecutiveErrors < minConsecutive {
		errs = append(errs, fmt.Errorf("retry.max_consecutive_errors: must be at least %d, got %d",
			minConsecutive, c.MaxConsecutiveErrors))
	}

	return errs
}

func validateSafety(c *SafetyConfig) []error {
	var errs []error

	if c.SafeThreshold < 0 {
		errs = append(errs, fmt.Errorf("safety.safe_threshold: must not be negative, got %d", c.SafeThreshold))
	}

	if c.MinDeleteCoverage < 0 || c.MinDeleteCoverage > maxCoverage {
		errs = append(errs, fmt.Errorf("safety.min_delete_coverage: must be between 0 and 1, got %g",
			c.MinDeleteCoverage))
	}

	return errs
}

func validateLogging(c *LoggingConfig) []error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.log_level: must be debug, info, warn, or error, got %q", c.LogLevel))
	}

	switch c.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: must be auto, text, or json, got %q", c.LogFormat))
	}

	return errs
}

func validateNetwork(c *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("network.connect_timeout", c.ConnectTimeout, minNetworkTimeout)...)
	errs = append(errs, validateDuration("network.request_timeout", c.RequestTimeout, minNetworkTimeout)...)

	if c.UserAgent == "" {
		errs = append(errs, errors.New("network.user_agent: must not be empty"))
	}

	return errs
}

// validateDuration checks that a duration string parses and meets a minimum.
func validateDuration(name, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", name, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", name, minimum, d)}
	}

	return nil
}
