// Command server runs the scan2serve HTTP API.
//
//	@title			scan2serve API
//	@version		1.0
//	@description	Receipt scanning, pantry tracking and recipe chat.
//	@BasePath		/api/v1
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
	"github.com/rs/zerolog/log"

	"github.com/tbourn/scan2serve/internal/config"
	httpapi "github.com/tbourn/scan2serve/internal/http"
	"github.com/tbourn/scan2serve/internal/observability"
	"github.com/tbourn/scan2serve/internal/repo"
	"github.com/tbourn/scan2serve/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	tableSweepInterval = time.Minute
	idemPurgeInterval  = 15 * time.Minute
	shutdownTimeout    = 15 * time.Second
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogger(os.Stderr, cfg.LogPretty, cfg.OTEL.ServiceName)
	sysutil.SetLogLevel(cfg.LogLevel)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version))
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup")
	}

	if err := sysutil.EnsureParentDir(cfg.DBPath); err != nil {
		log.Fatal().Err(err).Msg("data directory")
	}
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.Instrument(db); err != nil {
		log.Fatal().Err(err).Msg("gorm tracing")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	if cfg.Upstream.ExtractURL == "" {
		log.Warn().Msg("EXTRACT_URL is not set; receipt scans will fail")
	}
	if cfg.Upstream.ChatURL == "" {
		log.Warn().Msg("CHAT_URL is not set; recipe chat will fail")
	}

	r := gin.New()
	app := httpapi.RegisterRoutes(r, db, cfg)

	go app.Tables.Run(ctx, tableSweepInterval)
	go purgeIdempotency(ctx, db, idemPurgeInterval)

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
		log.Info().Str("addr", srv.Addr).Str("version", version).Str("slot", app.Pantry.Key()).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("stopped")
}
