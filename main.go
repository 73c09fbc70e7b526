// Command robomania-bot is the Discord bot for the team panel. It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres for the presence and login-notice audit.
//   - Connects to Discord and serves slash commands, the login button and voice events.
//   - Keeps the panel's auth event stream open and DMs members about new logins.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"

	"github.com/team7636/robomania-bot/admin"
	"github.com/team7636/robomania-bot/config"
	"github.com/team7636/robomania-bot/db"
	"github.com/team7636/robomania-bot/discord"
	"github.com/team7636/robomania-bot/login"
	"github.com/team7636/robomania-bot/panel"
	"github.com/team7636/robomania-bot/presence"
	"github.com/team7636/robomania-bot/server"
	"github.com/team7636/robomania-bot/stream"
	"github.com/team7636/robomania-bot/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("robomania-bot", "1.0.0",
		attribute.String("discord.guild_id", cfg.DiscordGuildID),
		attribute.String("panel.api_url", cfg.PanelAPIURL),
	)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg.DBDsn)
	if store != nil {
		defer func() {
			if err := store.DB.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	session, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		slog.Error("discord session", slog.Any("err", err))
		os.Exit(1)
	}

	panelClient := panel.NewClient(cfg.PanelAPIURL, cfg.PanelToken, cfg.Location)
	msgr := discord.NewMessenger(session, cfg.LoginPageURL, cfg.Location)

	dayLog := presence.NewDayLog(cfg.VCLogDir, cfg.Location, cfg.VCLogMaxSizeMB)
	defer func() {
		if err := dayLog.Close(); err != nil {
			slog.Warn("failed to close voice log", slog.Any("err", err))
		}
	}()
	journal := presence.MultiJournal{dayLog}
	if store != nil {
		journal = append(journal, store)
	}

	bot := discord.NewBot(session, cfg, discord.Handlers{
		Messenger: msgr,
		Flow:      login.NewFlow(panelClient, msgr, cfg.LoginCodeCooldown),
		Presence: &presence.Logger{
			Announcer: msgr,
			Members:   panelClient,
			Journal:   journal,
			Now:       time.Now,
		},
		Shell: &admin.Shell{Dir: cfg.RepoDir},
		Updater: &admin.Updater{
			Git:    admin.NewRepository(cfg.RepoDir),
			Remote: cfg.UpdateRemote,
			Branch: cfg.UpdateBranch,
		},
	})
	if err := bot.Open(ctx); err != nil {
		slog.Error("discord connect failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := bot.Close(); err != nil {
			slog.Warn("discord close", slog.Any("err", err))
		}
	}()

	client := stream.New(stream.Options{
		URL:        cfg.StreamURL(),
		Token:      cfg.PanelToken,
		MaxRetries: cfg.StreamMaxRetries,
		BaseDelay:  cfg.StreamBaseRetryDelay,
		MaxDelay:   cfg.StreamMaxRetryDelay,
	})
	var notifier stream.Notifier = msgr
	if store != nil {
		notifier = db.AuditedNotifier{Next: msgr, Store: store}
	}
	client.OnNewLogin(notifier)
	go func() {
		// Exhaustion leaves the bot serving Discord; /readyz reports it.
		if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("event stream stopped", slog.Any("err", err), slog.String("component", "stream"))
		}
	}()

	var pinger server.Pinger
	if store != nil {
		pinger = store
	}
	go func() {
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewHandlers(client, pinger)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// setupLogging configures the default logger. Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
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
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// openStore connects the audit store. It returns nil when DB_DSN is unset or
// the database is unreachable; the bot runs without auditing in that case.
func openStore(ctx context.Context, dsn string) *db.Store {
	database, err := db.Connect(ctx, dsn)
	if errors.Is(err, db.ErrNoDSN) {
		slog.Info("audit store disabled (DB_DSN not set)", slog.String("component", "db"))
		return nil
	}
	if err != nil {
		slog.Error("failed to open db; continuing without audit store", slog.Any("err", err), slog.String("component", "db"))
		return nil
	}

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			slog.Error("failed to migrate db; continuing without audit store", slog.Any("err", err))
			_ = database.Close()
			return nil
		}
	}
	return db.NewStore(database)
}
