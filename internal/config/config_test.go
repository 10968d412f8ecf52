package config

import (
	"testing"
	"time"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SOULSYNC_ENCRYPTION_KEY", testKey)
	t.Setenv("SOULSYNC_DB_DRIVER", "sqlite")
	t.Setenv("SOULSYNC_SQLITE_PATH", ":memory:")
}

func TestConfigLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("unexpected default http port: %d", cfg.HTTPPort)
	}
	if cfg.RefreshInterval != 5*time.Minute || cfg.RefreshWindow != 10*time.Minute {
		t.Fatalf("unexpected sweeper defaults: %+v", cfg)
	}
	if cfg.JobTimeout != 10*time.Minute {
		t.Fatalf("unexpected job timeout default: %s", cfg.JobTimeout)
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SOULSYNC_POLL_INTERVAL", "15m")
	t.Setenv("SOULSYNC_SPOTIFY_CLIENT_ID", "abc")

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.PollInterval != 15*time.Minute {
		t.Fatalf("poll interval override failed, got %s", cfg.PollInterval)
	}
	if cfg.Spotify.ClientID != "abc" {
		t.Fatalf("nested platform credential override failed, got %q", cfg.Spotify.ClientID)
	}
}

func TestConfigLoad_RejectsBadKey(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SOULSYNC_ENCRYPTION_KEY", "deadbeef")

	if _, err := New(); err == nil {
		t.Fatalf("expected error for short encryption key")
	}
}

func TestConfigLoad_RejectsUnknownDriver(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SOULSYNC_DB_DRIVER", "mysql")

	if _, err := New(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestValidate_MarginMustBeInsideWindow(t *testing.T) {
	cfg := NewForTesting()
	cfg.RefreshMargin = cfg.RefreshWindow

	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when margin >= window")
	}
}
