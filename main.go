// Command chat-scribe is the main entrypoint for the chat logging service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the log store (plain files or Postgres with idempotent migrations).
//   - Connects a chat source (Telegram Bot API or Twitch IRC) and runs one
//     ingestion worker per chat: recover, backfill, then live.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status,
//     /chats, and /metrics.
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

	"github.com/onnwee/chat-scribe/config"
	"github.com/onnwee/chat-scribe/ingest"
	"github.com/onnwee/chat-scribe/server"
	"github.com/onnwee/chat-scribe/source"
	"github.com/onnwee/chat-scribe/store"
	"github.com/onnwee/chat-scribe/telegramapi"
	"github.com/onnwee/chat-scribe/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("chat-scribe", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: plain files by default, Postgres when configured.
	var st store.Store
	switch cfg.StorageBackend {
	case "postgres":
		slog.Info("opening postgres store")
		pg, err := store.OpenPostgres(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open postgres store", slog.Any("err", err))
			os.Exit(1)
		}
		st = pg
	default:
		slog.Info("opening file store", slog.String("dir", cfg.DataDir))
		fs, err := store.NewFileStore(cfg.DataDir)
		if err != nil {
			slog.Error("failed to open file store", slog.Any("err", err))
			os.Exit(1)
		}
		st = fs
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", slog.Any("err", err))
		}
	}()

	// Source
	var src source.Source
	switch cfg.ChatSource {
	case "twitch":
		if err := cfg.ValidateTwitchChatReady(); err != nil {
			slog.Error("twitch source not configured", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("using twitch chat source", slog.Any("channels", cfg.TwitchChannels))
		src = &source.TwitchSource{
			Username: cfg.TwitchBotUsername,
			OAuth:    cfg.TwitchOAuthToken,
			Channels: cfg.TwitchChannels,
		}
	default:
		if err := cfg.ValidateTelegramReady(); err != nil {
			slog.Error("telegram source not configured", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("using telegram chat source")
		src = &source.TelegramSource{
			Client:      &telegramapi.Client{Token: cfg.TelegramBotToken},
			PollTimeout: int(cfg.PollTimeout / time.Second),
		}
	}

	coord := ingest.NewCoordinator(src, st, ingest.Config{
		BackfillMaxDepth: cfg.BackfillMaxDepth,
		BackfillPageSize: cfg.BackfillPageSize,
		LiveBufferSize:   cfg.LiveBufferSize,
		FetchRetryMax:    cfg.FetchRetryMax,
	})
	go func() {
		if err := coord.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("ingestion stopped", slog.Any("err", err))
			stop()
		}
	}()

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
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

	// HTTP server (health/status/metrics)
	go func() {
		if err := server.Start(ctx, st, coord, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
