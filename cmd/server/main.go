// Package main is the mobile backend entrypoint. It loads configuration,
// opens the SQLite store, starts the price-alert evaluator sweep, and serves
// the HTTP API until interrupted.
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

	"github.com/outfi/mobile-sync-backend/internal/config"
	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/evaluator"
	httpapi "github.com/outfi/mobile-sync-backend/internal/http"
	"github.com/outfi/mobile-sync-backend/internal/observability"
	"github.com/outfi/mobile-sync-backend/internal/pricesource"
	"github.com/outfi/mobile-sync-backend/internal/repo"
	"github.com/outfi/mobile-sync-backend/internal/services"
	"github.com/outfi/mobile-sync-backend/internal/synctoken"
	"github.com/outfi/mobile-sync-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// gormAlertRepo adapts the repo package functions to services.AlertRepo for
// the evaluator's alert service. The HTTP layer wires its own adapter.
type gormAlertRepo struct{}

func (gormAlertRepo) CreateAlert(ctx context.Context, db *gorm.DB, a *domain.Alert) error {
	return repo.CreateAlert(ctx, db, a)
}

func (gormAlertRepo) ListAlerts(ctx context.Context, db *gorm.DB, userID string, activeOnly bool) ([]domain.Alert, error) {
	return repo.ListAlerts(ctx, db, userID, activeOnly)
}

func (gormAlertRepo) GetAlert(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Alert, error) {
	return repo.GetAlert(ctx, db, id, userID)
}

func (gormAlertRepo) UpdateAlertFields(ctx context.Context, db *gorm.DB, id, userID string, updates map[string]any) error {
	return repo.UpdateAlertFields(ctx, db, id, userID, updates)
}

func (gormAlertRepo) DeleteAlert(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteAlert(ctx, db, id, userID)
}

func (gormAlertRepo) ApplyEvaluation(ctx context.Context, db *gorm.DB, a *domain.Alert, expectedVersion int64) error {
	return repo.ApplyEvaluation(ctx, db, a, expectedVersion)
}

func (gormAlertRepo) CreateTombstone(ctx context.Context, db *gorm.DB, userID, entityType, entityID string, deletedAt time.Time) error {
	return repo.CreateTombstone(ctx, db, userID, entityType, entityID, deletedAt)
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not found, using process environment")
	}

	cfg := config.MustLoad()
	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}
	if cfg.OTEL.Enabled {
		if err := repo.EnableTracing(db); err != nil {
			log.Fatal().Err(err).Msg("gorm tracing plugin failed")
		}
	}

	codec, err := synctoken.NewCodec(cfg.Sync.TokenSecret, cfg.Sync.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("sync token codec failed")
	}

	source, err := buildPriceSource(cfg.Prices)
	if err != nil {
		log.Fatal().Err(err).Msg("price source setup failed")
	}

	// Background price-alert evaluator.
	alertSvc := services.NewAlertService(db, gormAlertRepo{})
	eval := evaluator.New(db, alertSvc, source,
		cfg.Sweep.Interval, cfg.Sweep.Workers, cfg.Sync.TombstoneRetention)
	go eval.Run(ctx)

	r := gin.New()
	httpapi.RegisterRoutes(r, db, codec, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server stopped")
}

// buildPriceSource assembles the evaluator's lookup chain: product pages
// first (when scraping is enabled), then the catalog API.
func buildPriceSource(cfg config.PricesConfig) (pricesource.Source, error) {
	catalog, err := pricesource.NewCatalogSource(cfg.CatalogBaseURL,
		pricesource.WithTimeout(cfg.LookupTimeout))
	if err != nil {
		return nil, err
	}
	if !cfg.ScrapeEnabled {
		return catalog, nil
	}
	pages := pricesource.NewPageSource(pricesource.WithTimeout(cfg.LookupTimeout))
	return pricesource.Chain{pages, catalog}, nil
}
