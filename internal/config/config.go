package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.feedsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	Sync           Sync   `toml:"sync"`
	Log            Log    `toml:"log"`
}

// Log controls the daemon logger.
type Log struct {
	Level string `toml:"level,omitempty"`
	// Quiet stops the daemon from echoing log lines to stderr.
	Quiet bool `toml:"quiet,omitempty"`
}

// Sync holds the sync engine settings. Durations are strings such as "30s"
// or "5m"; empty values fall back to defaults.
type Sync struct {
	APIBaseURL         string `toml:"api_base_url"`
	APIToken           string `toml:"api_token,omitempty"`
	APIJWTSecret       string `toml:"api_jwt_secret,omitempty"`
	OwnerUserID        string `toml:"owner_user_id"`
	DrainInterval      string `toml:"drain_interval,omitempty"`
	BackoffMin         string `toml:"backoff_min,omitempty"`
	BackoffMax         string `toml:"backoff_max,omitempty"`
	MaxRetries         int    `toml:"max_retries,omitempty"`
	Workers            int    `toml:"workers,omitempty"`
	CompletedRetention string `toml:"completed_retention,omitempty"`
	SweepInterval      string `toml:"sweep_interval,omitempty"`
	ProbeAddress       string `toml:"probe_address,omitempty"`
	ProbeInterval      string `toml:"probe_interval,omitempty"`
}

// Settings is Sync with defaults applied and durations parsed.
type Settings struct {
	APIBaseURL         string
	APIToken           string
	APIJWTSecret       string
	OwnerUserID        string
	DrainInterval      time.Duration
	BackoffMin         time.Duration
	BackoffMax         time.Duration
	MaxRetries         int
	Workers            int
	CompletedRetention time.Duration
	SweepInterval      time.Duration
	ProbeAddress       string
	ProbeInterval      time.Duration
}

// Defaults used when a value is missing from the file.
const (
	DefaultAPIBaseURL         = "http://127.0.0.1:8080"
	DefaultDrainInterval      = 30 * time.Second
	DefaultBackoffMin         = time.Second
	DefaultBackoffMax         = 5 * time.Minute
	DefaultMaxRetries         = 8
	DefaultWorkers            = 4
	DefaultCompletedRetention = 24 * time.Hour
	DefaultSweepInterval      = time.Minute
	DefaultProbeInterval      = 5 * time.Second
)

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault reads config from path, returning an empty config when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if os.IsNotExist(err) {
		return &Config{}, nil
	}
	return nil, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Settings parses durations and fills in defaults.
func (s Sync) Settings() (Settings, error) {
	out := Settings{
		APIBaseURL:   s.APIBaseURL,
		APIToken:     s.APIToken,
		APIJWTSecret: s.APIJWTSecret,
		OwnerUserID:  s.OwnerUserID,
		MaxRetries:   s.MaxRetries,
		Workers:      s.Workers,
		ProbeAddress: s.ProbeAddress,
	}
	if out.APIBaseURL == "" {
		out.APIBaseURL = DefaultAPIBaseURL
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = DefaultMaxRetries
	}
	if out.Workers <= 0 {
		out.Workers = DefaultWorkers
	}

	durations := []struct {
		key  string
		raw  string
		def  time.Duration
		dest *time.Duration
	}{
		{"drain_interval", s.DrainInterval, DefaultDrainInterval, &out.DrainInterval},
		{"backoff_min", s.BackoffMin, DefaultBackoffMin, &out.BackoffMin},
		{"backoff_max", s.BackoffMax, DefaultBackoffMax, &out.BackoffMax},
		{"completed_retention", s.CompletedRetention, DefaultCompletedRetention, &out.CompletedRetention},
		{"sweep_interval", s.SweepInterval, DefaultSweepInterval, &out.SweepInterval},
		{"probe_interval", s.ProbeInterval, DefaultProbeInterval, &out.ProbeInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			*d.dest = d.def
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Settings{}, fmt.Errorf("sync.%s: %w", d.key, err)
		}
		if v <= 0 {
			return Settings{}, fmt.Errorf("sync.%s must be positive, got %s", d.key, d.raw)
		}
		*d.dest = v
	}
	if out.BackoffMax < out.BackoffMin {
		return Settings{}, fmt.Errorf("sync.backoff_max (%s) is below backoff_min (%s)", out.BackoffMax, out.BackoffMin)
	}
	return out, nil
}
