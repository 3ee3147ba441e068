// Command livetally collects live-stream snapshots from Twitch, Kick and
// YouTube on a fixed interval per platform. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Keeps an OAuth app token per platform fresh in the background.
//   - Runs one collection loop per enabled platform and optionally mirrors the
//     live view into Redis.
//   - Exposes /healthz, /readyz, /status, /live/{platform}, /metrics and
//     POST /admin/collect.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/livetally/collector"
	"github.com/onnwee/livetally/config"
	"github.com/onnwee/livetally/db"
	"github.com/onnwee/livetally/kickapi"
	"github.com/onnwee/livetally/livecache"
	"github.com/onnwee/livetally/oauth"
	"github.com/onnwee/livetally/platform"
	"github.com/onnwee/livetally/server"
	"github.com/onnwee/livetally/stream"
	"github.com/onnwee/livetally/telemetry"
	"github.com/onnwee/livetally/twitchapi"
	"github.com/onnwee/livetally/youtubeapi"
)

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		setupLogging("info", "text")
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("livetally", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first; the embedded schema covers deployments
	// shipped without the migrations directory.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded schema",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	tokens := newTokenManager(cfg, httpClient)
	tokens.StartRefresher(ctx, 5*time.Minute, 15*time.Minute)

	store := db.NewStore(database)
	var tasks []collector.Task
	intervals := make(map[stream.Platform]time.Duration)
	for _, name := range cfg.Enabled() {
		pc := cfg.Platforms[name]
		client := newPlatformClient(name, cfg, pc, httpClient)
		c := collector.New(client, tokens, store, collector.Options{
			MaxPages:          pc.MaxPages,
			RequestsPerSecond: pc.RequestsPerSecond,
			Retry:             cfg.Retry,
			Breaker:           collector.DefaultBreakerSettings(),
		})
		tasks = append(tasks, collector.Task{Collector: c, Interval: pc.Interval})
		intervals[name] = pc.Interval
	}
	if len(tasks) == 0 {
		slog.Warn("no platform enabled; set TWITCH_CLIENT_ID/SECRET, KICK_CLIENT_ID/SECRET or YOUTUBE_API_KEY")
	}

	status := server.NewStatusBoard()
	reporters := []collector.Reporter{collector.LogReporter(), status}
	var live server.LiveReader
	if cfg.RedisURL != "" {
		rdb, err := livecache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("live cache disabled", slog.String("component", "livecache"), slog.Any("err", err))
		} else {
			defer func() { _ = rdb.Close() }()
			cache := &livecache.Cache{Client: rdb, Intervals: intervals}
			reporters = append(reporters, cache)
			live = cache
		}
	}
	scheduler := collector.NewScheduler(tasks, reporters...)

	startPprof()

	handler := server.NewMux(ctx, server.Options{
		DB:        database,
		Collector: scheduler,
		Live:      live,
		Status:    status,
		Auth:      server.AuthConfig{Username: cfg.AdminUsername, Password: cfg.AdminPassword, Token: cfg.AdminToken},
	})
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, handler); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	// Blocks until shutdown and the in-flight cycles have finished.
	if err := scheduler.Run(ctx); err != nil {
		slog.Error("scheduler exited with error", slog.Any("err", err))
	}
	slog.Info("shutting down")
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", strings.ToLower(format)))
}

func newTokenManager(cfg *config.Config, hc *http.Client) *oauth.Manager {
	var creds []oauth.Credential
	for _, name := range cfg.Enabled() {
		pc := cfg.Platforms[name]
		creds = append(creds, oauth.Credential{Platform: name, ClientID: pc.ClientID, ClientSecret: pc.ClientSecret})
	}
	m := oauth.NewManager(oauth.NewStore(creds...), cfg.Retry, cfg.TokenRefreshMargin)
	m.Register(stream.Twitch, twitchapi.TokenFetcher(hc))
	m.Register(stream.Kick, kickapi.TokenFetcher(hc))
	m.Register(stream.YouTube, oauth.StaticKey{Platform: stream.YouTube})
	return m
}

func newPlatformClient(name stream.Platform, cfg *config.Config, pc config.Platform, hc *http.Client) platform.Client {
	switch name {
	case stream.Twitch:
		c := twitchapi.New(pc.ClientID)
		c.PageSize = pc.PageSize
		c.EnrichUsers = cfg.TwitchEnrichUsers
		c.FollowerCounts = cfg.TwitchFollowerCounts
		c.HTTPClient = hc
		return c
	case stream.Kick:
		c := kickapi.New()
		c.PageSize = pc.PageSize
		c.Language = cfg.KickLanguage
		c.FollowerCounts = cfg.KickFollowerCounts
		c.HTTPClient = hc
		return c
	default:
		c := youtubeapi.New()
		c.PageSize = int64(pc.PageSize)
		c.RegionCode = cfg.YouTubeRegion
		c.HTTPClient = hc
		return c
	}
}

func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
