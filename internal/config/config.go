package config

import (
	"fmt"
	"os"
	"unicode"

	"github.com/kmoravec/querypilot/internal/driver"
)

// Config is the complete application configuration.
type Config struct {
	Portal     PortalConfig     `toml:"portal"`
	Run        RunConfig        `toml:"run"`
	Scan       ScanConfig       `toml:"scan"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Output     OutputConfig     `toml:"output"`
}

// PortalConfig describes the remote portal and session behavior.
type PortalConfig struct {
	LoginURL           string `toml:"login_url"`
	Driver             string `toml:"driver"`               // automation backend name; "sim" ships in-tree
	AuthBackoffSeconds int    `toml:"auth_backoff_seconds"` // pause before retrying a failed login
	ItemsPerMinute     int    `toml:"items_per_minute"`     // 0 = no throttle
}

// RunConfig configures the known-list variants (run, reprocess).
type RunConfig struct {
	Queries             []string          `toml:"queries"`
	Countries           map[string]string `toml:"countries"` // ISO3 -> display name
	StagnationThreshold int               `toml:"stagnation_threshold"`
	ShowProgress        bool              `toml:"show_progress"`
	PairsCSV            string            `toml:"pairs_csv"` // reprocess input
}

// ScanConfig configures the grid-scanning variant.
type ScanConfig struct {
	PagerMaxAttempts int `toml:"pager_max_attempts"`
	PagerWaitSeconds int `toml:"pager_wait_seconds"`
}

// CheckpointConfig locates the durable ledgers. This directory must outlive
// individual runs, unlike the per-run output directory.
type CheckpointConfig struct {
	Dir string `toml:"dir"`
}

// OutputConfig locates per-run artifacts.
type OutputConfig struct {
	Dir string `toml:"dir"`
}

// Validate checks the configuration after defaults were applied.
func (c *Config) Validate() error {
	if c.Portal.LoginURL == "" {
		return fmt.Errorf("portal.login_url is required")
	}
	if c.Portal.AuthBackoffSeconds < 0 {
		return fmt.Errorf("portal.auth_backoff_seconds must not be negative (got %d)", c.Portal.AuthBackoffSeconds)
	}
	if c.Portal.ItemsPerMinute < 0 {
		return fmt.Errorf("portal.items_per_minute must not be negative (got %d)", c.Portal.ItemsPerMinute)
	}
	if c.Run.StagnationThreshold < 1 {
		return fmt.Errorf("run.stagnation_threshold must be at least 1 (got %d)", c.Run.StagnationThreshold)
	}
	if c.Scan.PagerMaxAttempts < 1 {
		return fmt.Errorf("scan.pager_max_attempts must be at least 1 (got %d)", c.Scan.PagerMaxAttempts)
	}

	for iso3 := range c.Run.Countries {
		if !validISO3(iso3) {
			return fmt.Errorf("run.countries key %q is not a valid ISO3 code", iso3)
		}
	}
	return nil
}

// ValidateForRun adds the requirements of the `run` command.
func (c *Config) ValidateForRun() error {
	if len(c.Run.Queries) == 0 {
		return fmt.Errorf("run.queries must list at least one query name")
	}
	if len(c.Run.Countries) == 0 {
		return fmt.Errorf("run.countries must map at least one ISO3 code")
	}
	return nil
}

func validISO3(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if !unicode.IsUpper(r) || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// LoadCredentials reads the portal login secrets from the environment.
// Secrets never live in the TOML file.
func LoadCredentials() (driver.Credentials, error) {
	creds := driver.Credentials{
		Email:    os.Getenv("PORTAL_EMAIL"),
		Password: os.Getenv("PORTAL_PASSWORD"),
	}
	if creds.Email == "" || creds.Password == "" {
		return creds, fmt.Errorf("PORTAL_EMAIL and PORTAL_PASSWORD environment variables are required")
	}
	return creds, nil
}
