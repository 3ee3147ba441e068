package config

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/livetally/crypto"
	"github.com/onnwee/livetally/stream"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DB_DSN", "HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "ENCRYPTION_KEY",
		"TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET", "KICK_CLIENT_ID", "KICK_CLIENT_SECRET", "YOUTUBE_API_KEY",
		"TWITCH_ENABLED", "KICK_ENABLED", "YOUTUBE_ENABLED", "TWITCH_INTERVAL", "KICK_INTERVAL", "YOUTUBE_INTERVAL",
		"TWITCH_MAX_PAGES", "YOUTUBE_MAX_PAGES", "TWITCH_FOLLOWER_COUNTS", "KICK_FOLLOWER_COUNTS", "RETRY_MAX_ATTEMPTS", "RETRY_BASE_DELAY", "ADMIN_TOKEN", "ADMIN_PASSWORD",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if len(cfg.Enabled()) != 0 {
		t.Errorf("no credentials should enable nothing, got %v", cfg.Enabled())
	}
	tw := cfg.Platforms[stream.Twitch]
	if tw.Interval != DefaultInterval || tw.MaxPages != 10 || tw.PageSize != 100 {
		t.Errorf("twitch defaults = %+v", tw)
	}
	if yt := cfg.Platforms[stream.YouTube]; yt.PageSize != 50 || yt.MaxPages != 1 {
		t.Errorf("youtube page size/max pages = %d/%d, want 50/1", yt.PageSize, yt.MaxPages)
	}
	if !cfg.TwitchFollowerCounts || !cfg.KickFollowerCounts {
		t.Errorf("follower lookups should default on: twitch=%v kick=%v", cfg.TwitchFollowerCounts, cfg.KickFollowerCounts)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second || cfg.Retry.Multiplier != 2 {
		t.Errorf("retry defaults = %+v", cfg.Retry)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestCredentialsEnablePlatform(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("YOUTUBE_API_KEY", "key")
	t.Setenv("KICK_CLIENT_ID", "only-id")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	got := cfg.Enabled()
	if len(got) != 2 || got[0] != stream.Twitch || got[1] != stream.YouTube {
		t.Errorf("Enabled() = %v, want [twitch youtube]", got)
	}
}

func TestValidateRejectsEnabledWithoutCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("KICK_ENABLED", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "kick enabled but credentials are missing") {
		t.Errorf("Validate() = %v", err)
	}
}

func TestValidateRejectsNonPositiveInterval(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_CLIENT_ID", "id")
	t.Setenv("TWITCH_CLIENT_SECRET", "secret")
	t.Setenv("TWITCH_INTERVAL", "0s")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "interval must be positive") {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TWITCH_INTERVAL", "two minutes")
	t.Setenv("RETRY_MAX_ATTEMPTS", "three")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail on malformed values")
	}
	for _, want := range []string{"TWITCH_INTERVAL", "RETRY_MAX_ATTEMPTS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadDecryptsSealedSecrets(t *testing.T) {
	clearEnv(t)
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	key := base64.StdEncoding.EncodeToString(raw)
	enc, err := crypto.NewAESEncryptor(key)
	if err != nil {
		t.Fatal(err)
	}
	sealed, err := crypto.Seal(enc, "kick-secret")
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENCRYPTION_KEY", key)
	t.Setenv("KICK_CLIENT_ID", "kid")
	t.Setenv("KICK_CLIENT_SECRET", sealed)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := cfg.Platforms[stream.Kick].ClientSecret; got != "kick-secret" {
		t.Errorf("kick secret = %q", got)
	}

	t.Setenv("ENCRYPTION_KEY", "")
	if _, err := Load(); err == nil {
		t.Error("sealed secret without ENCRYPTION_KEY should fail")
	}
}
