package config

// Default values for configuration options. These represent the "layer 0"
// of the override chain and are tuned for the public Datafordeler endpoints:
// 834 pages twice a day walks the estimated ~50k-page registry inside one
// 30-day cycle.
const (
	defaultRegistryURL = "https://services.datafordeler.dk/BBR/BBRPublic/1/rest"
	defaultAddressURL  = "https://api.dataforsyningen.dk"
	defaultPageSize    = 500

	defaultAddressRefreshDays = 90
	defaultAddressRate        = 10.0

	defaultCycleDays   = 30
	defaultPagesPerRun = 834
	defaultRunBudget   = "45m"
	defaultPageDelay   = "500ms"

	defaultTimeoutBase     = "10s"
	defaultConnectionBase  = "15s"
	defaultRateLimitBase   = "60s"
	defaultServerErrorBase = "15s"
	defaultMaxDelay        = "5m"
	defaultMaxConsecutive  = 15

	defaultSafeThreshold = 500
	defaultMinCoverage   = 0.8

	defaultDBPath = "shelters.db"

	defaultLogLevel  = "info"
	defaultLogFormat = "auto"

	defaultConnectTimeout = "20s"
	defaultRequestTimeout = "60s"
	defaultUserAgent      = "shelter-updater"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			BaseURL:  defaultRegistryURL,
			PageSize: defaultPageSize,
		},
		Address: AddressConfig{
			BaseURL:           defaultAddressURL,
			RefreshDays:       defaultAddressRefreshDays,
			RequestsPerSecond: defaultAddressRate,
		},
		Sync: SyncConfig{
			CycleDays:   defaultCycleDays,
			PagesPerRun: defaultPagesPerRun,
			RunBudget:   defaultRunBudget,
			PageDelay:   defaultPageDelay,
		},
		Retry: RetryConfig{
			TimeoutBase:          defaultTimeoutBase,
			ConnectionBase:       defaultConnectionBase,
			RateLimitBase:        defaultRateLimitBase,
			ServerErrorBase:      defaultServerErrorBase,
			MaxDelay:             defaultMaxDelay,
			MaxConsecutiveErrors: defaultMaxConsecutive,
		},
		Safety: SafetyConfig{
			SafeThreshold:     defaultSafeThreshold,
			MinDeleteCoverage: defaultMinCoverage,
		},
		Database: DatabaseConfig{
			Path: defaultDBPath,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
	}
}
