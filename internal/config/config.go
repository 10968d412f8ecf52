package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the configuration for the sync service.
// Environment variables are parsed from the SOULSYNC_ prefix,
// e.g. SOULSYNC_HTTP_PORT, SOULSYNC_POSTGRES_DSN.
type Config struct {
	// HTTP configuration
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`
	BaseURL  string `envconfig:"BASE_URL" default:"http://localhost:8080"`

	// Storage. Driver is postgres or sqlite; sqlite is the dev/test driver.
	DBDriver    string `envconfig:"DB_DRIVER" default:"postgres"`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"soulprint.db"`

	// EncryptionKey is the hex-encoded 32-byte key used by the credential
	// vault. Rotating it invalidates every stored token.
	EncryptionKey string `envconfig:"ENCRYPTION_KEY" required:"true"`

	// Token refresh sweeper
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"5m"`
	RefreshWindow   time.Duration `envconfig:"REFRESH_WINDOW" default:"10m"`
	RefreshMargin   time.Duration `envconfig:"REFRESH_MARGIN" default:"5m"`

	// Extraction jobs
	JobTimeout     time.Duration `envconfig:"JOB_TIMEOUT" default:"10m"`
	ReaperInterval time.Duration `envconfig:"REAPER_INTERVAL" default:"2m"`
	CallTimeout    time.Duration `envconfig:"CALL_TIMEOUT" default:"15s"`

	// Polling sweeps for platforms without webhook support
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"30m"`
	PollUserDelay time.Duration `envconfig:"POLL_USER_DELAY" default:"2s"`

	// Notification channels
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`

	// Per-platform OAuth application credentials. A platform with empty
	// credentials is simply not offered for connection.
	Spotify PlatformCredentials `envconfig:"SPOTIFY"`
	GitHub  PlatformCredentials `envconfig:"GITHUB"`
	Discord PlatformCredentials `envconfig:"DISCORD"`
	YouTube PlatformCredentials `envconfig:"YOUTUBE"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
}

// PlatformCredentials is one OAuth client id/secret pair.
type PlatformCredentials struct {
	ClientID     string `envconfig:"CLIENT_ID"`
	ClientSecret string `envconfig:"CLIENT_SECRET"`
}

// New creates a Config by parsing environment variables with the
// SOULSYNC_ prefix and validating derived values.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("SOULSYNC", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that envconfig tags cannot express.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("SOULSYNC_POSTGRES_DSN is required when DB_DRIVER=postgres")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("SOULSYNC_SQLITE_PATH is required when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}

	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return fmt.Errorf("SOULSYNC_ENCRYPTION_KEY must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("SOULSYNC_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}

	if c.RefreshMargin >= c.RefreshWindow {
		return fmt.Errorf("REFRESH_MARGIN (%s) must be smaller than REFRESH_WINDOW (%s)", c.RefreshMargin, c.RefreshWindow)
	}
	return nil
}

// EncryptionKeyBytes returns the decoded vault key. Validate must have
// succeeded first.
func (c *Config) EncryptionKeyBytes() []byte {
	key, _ := hex.DecodeString(c.EncryptionKey)
	return key
}

// Credentials returns the OAuth client pair for a platform name. The second
// return is false when the platform is unknown or not configured.
func (c *Config) Credentials(platform string) (PlatformCredentials, bool) {
	var creds PlatformCredentials
	switch platform {
	case "spotify":
		creds = c.Spotify
	case "github":
		creds = c.GitHub
	case "discord":
		creds = c.Discord
	case "youtube":
		creds = c.YouTube
	default:
		return PlatformCredentials{}, false
	}
	if creds.ClientID == "" {
		return PlatformCredentials{}, false
	}
	return creds, true
}

// HTTPAddr returns the listen address for the HTTP server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// NewForTesting returns a config suitable for unit tests: sqlite in-memory
// storage and a fixed vault key.
func NewForTesting() *Config {
	return &Config{
		HTTPPort:          8080,
		BaseURL:           "http://localhost:8080",
		DBDriver:          "sqlite",
		SQLitePath:        ":memory:",
		EncryptionKey:     "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		RefreshInterval:   5 * time.Minute,
		RefreshWindow:     10 * time.Minute,
		RefreshMargin:     5 * time.Minute,
		JobTimeout:        10 * time.Minute,
		ReaperInterval:    2 * time.Minute,
		CallTimeout:       15 * time.Second,
		PollInterval:      30 * time.Minute,
		PollUserDelay:     10 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
	}
}
