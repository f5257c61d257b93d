package config

import "os"

// Environment variable names for overrides. The Datafordeler credential and
// endpoint names match what the GitHub Actions workflows already provision.
const (
	EnvConfig   = "SHELTER_UPDATER_CONFIG"
	EnvDBPath   = "SHELTER_UPDATER_DB"
	EnvUsername = "DATAFORDELER_USERNAME"
	EnvPassword = "DATAFORDELER_PASSWORD"
	EnvBBRURL   = "BBR_API_URL"
	EnvDAWAURL  = "DAWA_API_URL"
)

// EnvOverrides holds values derived from environment variables.
// Credentials only exist here: they are deliberately not part of the TOML
// schema so a config file checked into a repo can never leak them.
type EnvOverrides struct {
	ConfigPath  string
	DBPath      string
	Username    string
	Password    string
	RegistryURL string
	AddressURL  string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; callers apply the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		DBPath:      os.Getenv(EnvDBPath),
		Username:    os.Getenv(EnvUsername),
		Password:    os.Getenv(EnvPassword),
		RegistryURL: os.Getenv(EnvBBRURL),
		AddressURL:  os.Getenv(EnvDAWAURL),
	}
}
