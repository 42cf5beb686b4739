// Package config handles backend configuration loading and validation.
//
// Configuration comes from an optional JSON file plus ECAN_* environment
// overrides (ECAN_MODE, ECAN_WS_HOST, ECAN_WS_PORT, ECAN_LOG_LEVEL, ...).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Deployment modes.
const (
	ModeEmbedded = "embedded"
	ModeWeb      = "web"
)

// Config is the top-level backend configuration.
type Config struct {
	Mode    string        `json:"mode" envconfig:"MODE"`
	WS      WSConfig      `json:"ws"`
	Auth    AuthConfig    `json:"auth"`
	Session SessionConfig `json:"session"`
	Storage StorageConfig `json:"storage"`
	Sync    SyncConfig    `json:"sync"`
	Logging LoggingConfig `json:"logging" envconfig:"LOG"`
}

// WSConfig defines the network transport's listener settings. Nested env
// keys are relative to the parent prefix: Host resolves as ECAN_WS_HOST.
type WSConfig struct {
	Host           string   `json:"host" envconfig:"HOST"`
	Port           int      `json:"port" envconfig:"PORT"`
	AllowedOrigins []string `json:"allowed_origins,omitempty" envconfig:"ALLOWED_ORIGINS"`
	MaxFrameBytes  int64    `json:"max_frame_bytes,omitempty"`
}

// Addr returns the listen address.
func (w WSConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// AuthConfig defines token and external identity provider settings.
type AuthConfig struct {
	TokenTTL      Duration `json:"token_ttl,omitempty"`       // default 24h
	SweepInterval Duration `json:"sweep_interval,omitempty"`  // default 1h
	GoogleJWKSURL string   `json:"google_jwks_url,omitempty"` // JWKS endpoint for google_login
	GoogleIssuer  string   `json:"google_issuer,omitempty"`
}

// SessionConfig defines session lifecycle settings.
type SessionConfig struct {
	Timeout         Duration `json:"timeout,omitempty"`          // idle expiry; default 24h
	CleanupInterval Duration `json:"cleanup_interval,omitempty"` // default 1h
}

// StorageConfig defines the user-account store.
type StorageConfig struct {
	Driver string `json:"driver" envconfig:"DRIVER"` // "sqlite" (default) or "postgres"
	DSN    string `json:"dsn" envconfig:"DSN"`
}

// SyncConfig defines the offline sync queue and its uploader.
type SyncConfig struct {
	CacheDir   string   `json:"cache_dir,omitempty"` // default per-user cache dir
	RemoteURL  string   `json:"remote_url,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty"` // default 3
	Interval   Duration `json:"interval,omitempty"`    // drain interval; default 30s
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" envconfig:"LEVEL"`
	Format string `json:"format,omitempty"` // "json" or "text"
}

// Duration is a JSON-friendly time.Duration accepting "30s" strings or
// nanosecond numbers.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// Decode implements envconfig.Decoder so durations can be set from env vars.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	d.Duration = parsed
	return nil
}

// Load reads configuration from path (skipped when path is empty or the file
// does not exist), applies ECAN_* environment overrides, then defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process("ecan", cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}

	cfg.applyDefaults()

	if cfg.Mode != ModeEmbedded && cfg.Mode != ModeWeb {
		return nil, fmt.Errorf("invalid mode %q (want %q or %q)", cfg.Mode, ModeEmbedded, ModeWeb)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeEmbedded
	}
	if c.WS.Host == "" {
		c.WS.Host = "0.0.0.0"
	}
	if c.WS.Port == 0 {
		c.WS.Port = 8765
	}
	if len(c.WS.AllowedOrigins) == 0 {
		c.WS.AllowedOrigins = []string{"*"}
	}
	if c.Auth.TokenTTL.Duration == 0 {
		c.Auth.TokenTTL.Duration = 24 * time.Hour
	}
	if c.Auth.SweepInterval.Duration == 0 {
		c.Auth.SweepInterval.Duration = time.Hour
	}
	if c.Session.Timeout.Duration == 0 {
		c.Session.Timeout.Duration = 24 * time.Hour
	}
	if c.Session.CleanupInterval.Duration == 0 {
		c.Session.CleanupInterval.Duration = time.Hour
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = "ecan.db"
	}
	if c.Sync.CacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			c.Sync.CacheDir = filepath.Join(dir, "ecan", "sync")
		} else {
			c.Sync.CacheDir = filepath.Join(".", "ecan-sync")
		}
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.Interval.Duration == 0 {
		c.Sync.Interval.Duration = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
