// Command server runs the card-roll bot: an HTTP server that receives Feishu
// webhook events, interprets chat commands against SQLite-backed card sets,
// and adjusts draw weights from message reactions.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/feishu-roll-bot/internal/bot"
	"github.com/tbourn/feishu-roll-bot/internal/config"
	"github.com/tbourn/feishu-roll-bot/internal/feishu"
	httpapi "github.com/tbourn/feishu-roll-bot/internal/http"
	"github.com/tbourn/feishu-roll-bot/internal/nlp"
	"github.com/tbourn/feishu-roll-bot/internal/observability"
	"github.com/tbourn/feishu-roll-bot/internal/repo"
	"github.com/tbourn/feishu-roll-bot/internal/services"
	"github.com/tbourn/feishu-roll-bot/internal/sysutil"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	gin.SetMode(cfg.GinMode)

	log.Info().Str("version", version).Str("db", cfg.DBPath).Msg("starting feishu-roll-bot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown failed")
		}
	}()

	// Storage
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("database migration failed")
	}

	// Outbound Feishu client
	messenger := feishu.NewClient(cfg.Feishu.BaseURL, cfg.Feishu.AppID, cfg.Feishu.AppSecret, nil)

	// Optional free-text translator
	var translator nlp.Translator
	if cfg.OpenAI.APIKey != "" {
		translator = nlp.NewOpenAITranslator(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model, nil)
		log.Info().Str("model", cfg.OpenAI.Model).Msg("free-text translation enabled")
	} else {
		log.Info().Msg("no OpenAI key configured, free text gets the usage card")
	}

	// Services and bot wiring. Reactions share the card-set lock table so a
	// vote and a command can never write the same set concurrently.
	sets := services.NewCardSetService(db)
	reactions := &services.ReactionService{DB: db, Locks: sets.Locks}
	handler := &bot.Handler{
		Sets:       sets,
		Reactions:  reactions,
		Messenger:  messenger,
		Translator: translator,
		AppOpenID:  cfg.Feishu.AppOpenID,
	}

	// Periodic cleanup of expired webhook dedup rows.
	go purgeLoop(ctx, db, cfg.EventTTL)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, handler, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("webhook", cfg.WebhookPath).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// purgeLoop deletes expired processed-event rows so the dedup table stays
// bounded. The sweep interval is derived from the TTL but kept within sane
// bounds so short TTLs do not hammer the database.
func purgeLoop(ctx context.Context, db *gorm.DB, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpiredEvents(ctx, db, time.Now())
			if err != nil {
				log.Warn().Err(err).Msg("event purge failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired events removed")
			}
		}
	}
}
