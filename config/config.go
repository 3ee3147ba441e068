// Package config loads environment variables into a typed Config. Defaults let
// the binary start locally with only platform credentials set; a platform is
// enabled automatically when its credentials are present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/livetally/crypto"
	"github.com/onnwee/livetally/retry"
	"github.com/onnwee/livetally/stream"
)

// DefaultInterval is the collection period for each platform.
const DefaultInterval = 2 * time.Minute

// Platform holds the collection settings and credentials of one platform.
type Platform struct {
	Enabled           bool
	Interval          time.Duration
	MaxPages          int
	PageSize          int
	RequestsPerSecond float64
	// ClientID is empty for YouTube, whose ClientSecret is the API key.
	ClientID     string
	ClientSecret string
}

// HasCredentials reports whether the platform can authenticate.
func (p Platform) HasCredentials(name stream.Platform) bool {
	if name == stream.YouTube {
		return p.ClientSecret != ""
	}
	return p.ClientID != "" && p.ClientSecret != ""
}

type Config struct {
	DBDsn     string
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	Platforms map[stream.Platform]Platform

	TwitchEnrichUsers    bool
	TwitchFollowerCounts bool
	KickFollowerCounts   bool
	KickLanguage         string
	YouTubeRegion        string

	Retry              retry.Policy
	TokenRefreshMargin time.Duration

	RedisURL string

	AdminToken    string
	AdminUsername string
	AdminPassword string

	OTLPEndpoint string
}

// order fixes iteration over platforms.
var order = []stream.Platform{stream.Twitch, stream.Kick, stream.YouTube}

// Load reads the environment and applies defaults. Malformed numbers or
// durations are errors; missing credentials are not (see Validate).
// Secrets in "enc:<base64>" form are decrypted with ENCRYPTION_KEY.
func Load() (*Config, error) {
	var errs []error
	l := loader{errs: &errs}

	var enc crypto.Encryptor
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		e, err := crypto.NewAESEncryptor(key)
		if err != nil {
			return nil, fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
		enc = e
	}
	secret := func(name string) string {
		v, err := crypto.Open(enc, os.Getenv(name))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return v
	}

	cfg := &Config{
		DBDsn:     os.Getenv("DB_DSN"),
		HTTPAddr:  l.str("HTTP_ADDR", ":8080"),
		LogLevel:  l.str("LOG_LEVEL", "info"),
		LogFormat: l.str("LOG_FORMAT", "text"),
		Platforms: make(map[stream.Platform]Platform, len(order)),

		TwitchEnrichUsers:    l.boolean("TWITCH_ENRICH_USERS", true),
		TwitchFollowerCounts: l.boolean("TWITCH_FOLLOWER_COUNTS", true),
		KickFollowerCounts:   l.boolean("KICK_FOLLOWER_COUNTS", true),
		KickLanguage:         os.Getenv("KICK_LANGUAGE"),
		YouTubeRegion:        os.Getenv("YOUTUBE_REGION_CODE"),

		Retry: retry.Policy{
			MaxAttempts: l.integer("RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   l.duration("RETRY_BASE_DELAY", time.Second),
			Multiplier:  l.float("RETRY_MULTIPLIER", 2),
			Jitter:      l.float("RETRY_JITTER", 0.2),
			MaxDelay:    l.duration("RETRY_MAX_DELAY", 30*time.Second),
		},
		TokenRefreshMargin: l.duration("TOKEN_REFRESH_MARGIN", 60*time.Second),

		RedisURL: os.Getenv("REDIS_URL"),

		AdminToken:    secret("ADMIN_TOKEN"),
		AdminUsername: os.Getenv("ADMIN_USERNAME"),
		AdminPassword: secret("ADMIN_PASSWORD"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	creds := map[stream.Platform][2]string{
		stream.Twitch:  {os.Getenv("TWITCH_CLIENT_ID"), secret("TWITCH_CLIENT_SECRET")},
		stream.Kick:    {os.Getenv("KICK_CLIENT_ID"), secret("KICK_CLIENT_SECRET")},
		stream.YouTube: {"", secret("YOUTUBE_API_KEY")},
	}
	defaultPageSize := map[stream.Platform]int{stream.Twitch: 100, stream.Kick: 100, stream.YouTube: 50}
	// Every search.list page costs 100 units of the 10k daily YouTube quota.
	defaultMaxPages := map[stream.Platform]int{stream.Twitch: 10, stream.Kick: 10, stream.YouTube: 1}
	for _, name := range order {
		prefix := strings.ToUpper(string(name)) + "_"
		p := Platform{
			Interval:          l.duration(prefix+"INTERVAL", DefaultInterval),
			MaxPages:          l.integer(prefix+"MAX_PAGES", defaultMaxPages[name]),
			PageSize:          l.integer(prefix+"PAGE_SIZE", defaultPageSize[name]),
			RequestsPerSecond: l.float(prefix+"REQUESTS_PER_SECOND", 2),
			ClientID:          creds[name][0],
			ClientSecret:      creds[name][1],
		}
		p.Enabled = l.boolean(prefix+"ENABLED", p.HasCredentials(name))
		cfg.Platforms[name] = p
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate rejects enabled platforms without credentials and non-positive
// collection settings.
func (c *Config) Validate() error {
	var errs []error
	for _, name := range order {
		p := c.Platforms[name]
		if !p.Enabled {
			continue
		}
		if !p.HasCredentials(name) {
			errs = append(errs, fmt.Errorf("%s enabled but credentials are missing", name))
		}
		if p.Interval <= 0 {
			errs = append(errs, fmt.Errorf("%s interval must be positive, got %s", name, p.Interval))
		}
		if p.MaxPages <= 0 {
			errs = append(errs, fmt.Errorf("%s max pages must be positive, got %d", name, p.MaxPages))
		}
	}
	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("retry max attempts must be positive, got %d", c.Retry.MaxAttempts))
	}
	return errors.Join(errs...)
}

// Enabled returns the enabled platforms in a fixed order.
func (c *Config) Enabled() []stream.Platform {
	var out []stream.Platform
	for _, name := range order {
		if c.Platforms[name].Enabled {
			out = append(out, name)
		}
	}
	return out
}

// loader parses typed env vars, collecting errors instead of failing fast.
type loader struct{ errs *[]error }

func (l loader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (l loader) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*l.errs = append(*l.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (l loader) float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*l.errs = append(*l.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return f
}

func (l loader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*l.errs = append(*l.errs, fmt.Errorf("invalid %s (e.g. 2m, 30s): %w", key, err))
		return def
	}
	return d
}

func (l loader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*l.errs = append(*l.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return b
}
