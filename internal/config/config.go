// Package config loads the stockbot YAML configuration with environment
// variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Duration wraps time.Duration so YAML values like "30s" or "5m" parse.
type Duration time.Duration

// UnmarshalYAML parses a Go duration string into d.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level configuration for stockbot.
type Config struct {
	Robinhood RobinhoodConfig `yaml:"robinhood"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Advisor   AdvisorConfig   `yaml:"advisor"`
	Vault     VaultConfig     `yaml:"vault"`
	Logging   Logging         `yaml:"logging"`
}

// RobinhoodConfig holds endpoints and session parameters for the Robinhood
// API. The base URLs are overridable so tests can point the client at a
// local server.
type RobinhoodConfig struct {
	APIBaseURL      string   `yaml:"api_base_url"`
	IdentityBaseURL string   `yaml:"identity_base_url"`
	ClientID        string   `yaml:"client_id"`
	SessionPath     string   `yaml:"session_path"`
	ExpiryMargin    Duration `yaml:"expiry_margin"`
	RequestTimeout  Duration `yaml:"request_timeout"`
}

// RateLimitConfig controls admission to the upstream API. Robinhood has no
// published limits; these defaults are deliberately conservative to avoid
// tripping abuse detection.
type RateLimitConfig struct {
	CallsPerMinute   int      `yaml:"calls_per_minute"`
	CallsPerHour     int      `yaml:"calls_per_hour"`
	MinDelay         Duration `yaml:"min_delay"`
	FailureThreshold int      `yaml:"failure_threshold"`
	Cooldown         Duration `yaml:"cooldown"`
}

// RetryConfig holds parameters for transient-failure retries.
type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
}

// AdvisorConfig configures the covered-call advisor.
type AdvisorConfig struct {
	Model         string  `yaml:"model"`
	RiskTolerance string  `yaml:"risk_tolerance"`
	MinPremium    float64 `yaml:"min_premium"`
}

// VaultConfig holds the path of the local installation registry.
type VaultConfig struct {
	DBPath string `yaml:"db_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".stockbot")

	return &Config{
		Robinhood: RobinhoodConfig{
			APIBaseURL:      "https://api.robinhood.com",
			IdentityBaseURL: "https://identi.robinhood.com",
			ClientID:        "c82SH0WZOsabOXGP2sxqcj34FxkvfnWRZBKlBjFS",
			SessionPath:     filepath.Join(stateDir, "session.json"),
			ExpiryMargin:    Duration(5 * time.Minute),
			RequestTimeout:  Duration(30 * time.Second),
		},
		RateLimit: RateLimitConfig{
			CallsPerMinute:   30,
			CallsPerHour:     1000,
			MinDelay:         Duration(500 * time.Millisecond),
			FailureThreshold: 5,
			Cooldown:         Duration(60 * time.Second),
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   Duration(time.Second),
		},
		Advisor: AdvisorConfig{
			Model:         "gemini-2.0-flash",
			RiskTolerance: "moderate",
			MinPremium:    50,
		},
		Vault: VaultConfig{
			DBPath: filepath.Join(stateDir, "stockbot.db"),
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the YAML configuration file at the given path, parses it over
// the defaults, and then applies environment variable overrides. A missing
// file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROBINHOOD_API_URL"); v != "" {
		cfg.Robinhood.APIBaseURL = v
	}
	if v := os.Getenv("ROBINHOOD_IDENTITY_URL"); v != "" {
		cfg.Robinhood.IdentityBaseURL = v
	}
	if v := os.Getenv("STOCKBOT_SESSION_PATH"); v != "" {
		cfg.Robinhood.SessionPath = v
	}
	if v := os.Getenv("STOCKBOT_DB_PATH"); v != "" {
		cfg.Vault.DBPath = v
	}
	if v := os.Getenv("STOCKBOT_CALLS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.CallsPerMinute = n
		}
	}
	if v := os.Getenv("STOCKBOT_CALLS_PER_HOUR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimit.CallsPerHour = n
		}
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Advisor.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
