// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/config"
	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/http/handlers"
	"github.com/outfi/mobile-sync-backend/internal/http/middleware"
	"github.com/outfi/mobile-sync-backend/internal/repo"
	"github.com/outfi/mobile-sync-backend/internal/services"
	"github.com/outfi/mobile-sync-backend/internal/synctoken"
)

// alertRepoShim adapts the repository free functions to the services.AlertRepo
// interface expected by the AlertService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type alertRepoShim struct{}

func (alertRepoShim) CreateAlert(ctx context.Context, db *gorm.DB, a *domain.Alert) error {
	return repo.CreateAlert(ctx, db, a)
}

func (alertRepoShim) ListAlerts(ctx context.Context, db *gorm.DB, userID string, activeOnly bool) ([]domain.Alert, error) {
	return repo.ListAlerts(ctx, db, userID, activeOnly)
}

func (alertRepoShim) GetAlert(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Alert, error) {
	return repo.GetAlert(ctx, db, id, userID)
}

func (alertRepoShim) UpdateAlertFields(ctx context.Context, db *gorm.DB, id, userID string, updates map[string]any) error {
	return repo.UpdateAlertFields(ctx, db, id, userID, updates)
}

func (alertRepoShim) DeleteAlert(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteAlert(ctx, db, id, userID)
}

func (alertRepoShim) ApplyEvaluation(ctx context.Context, db *gorm.DB, a *domain.Alert, expectedVersion int64) error {
	return repo.ApplyEvaluation(ctx, db, a, expectedVersion)
}

func (alertRepoShim) CreateTombstone(ctx context.Context, db *gorm.DB, userID, entityType, entityID string, deletedAt time.Time) error {
	return repo.CreateTombstone(ctx, db, userID, entityType, entityID, deletedAt)
}

// favoriteRepoShim adapts repo functions to services.FavoriteRepo.
type favoriteRepoShim struct{}

func (favoriteRepoShim) CreateFavorite(ctx context.Context, db *gorm.DB, f *domain.Favorite) error {
	return repo.CreateFavorite(ctx, db, f)
}

func (favoriteRepoShim) ListFavorites(ctx context.Context, db *gorm.DB, userID string) ([]domain.Favorite, error) {
	return repo.ListFavorites(ctx, db, userID)
}

func (favoriteRepoShim) GetFavoriteByDeal(ctx context.Context, db *gorm.DB, userID, dealID string) (*domain.Favorite, error) {
	return repo.GetFavoriteByDeal(ctx, db, userID, dealID)
}

func (favoriteRepoShim) DeleteFavoriteByDeal(ctx context.Context, db *gorm.DB, userID, dealID string) (string, error) {
	return repo.DeleteFavoriteByDeal(ctx, db, userID, dealID)
}

func (favoriteRepoShim) CreateTombstone(ctx context.Context, db *gorm.DB, userID, entityType, entityID string, deletedAt time.Time) error {
	return repo.CreateTombstone(ctx, db, userID, entityType, entityID, deletedAt)
}

// preferenceRepoShim adapts repo functions to services.PreferenceRepo.
type preferenceRepoShim struct{}

func (preferenceRepoShim) GetOrCreatePreferences(ctx context.Context, db *gorm.DB, userID string) (*domain.Preferences, error) {
	return repo.GetOrCreatePreferences(ctx, db, userID)
}

func (preferenceRepoShim) UpdatePreferences(ctx context.Context, db *gorm.DB, userID string, updates map[string]any) (*domain.Preferences, error) {
	return repo.UpdatePreferences(ctx, db, userID, updates)
}

// deviceRepoShim adapts repo functions to services.DeviceRepo.
type deviceRepoShim struct{}

func (deviceRepoShim) UpsertDevice(ctx context.Context, db *gorm.DB, d *domain.Device) (*domain.Device, error) {
	return repo.UpsertDevice(ctx, db, d)
}

func (deviceRepoShim) ListDevices(ctx context.Context, db *gorm.DB, userID string) ([]domain.Device, error) {
	return repo.ListDevices(ctx, db, userID)
}

func (deviceRepoShim) DeactivateDevice(ctx context.Context, db *gorm.DB, userID, deviceID string) error {
	return repo.DeactivateDevice(ctx, db, userID, deviceID)
}

// syncRepoShim adapts repo functions to services.SyncRepo.
type syncRepoShim struct{}

func (syncRepoShim) ListAlertsDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time, limit int) ([]domain.Alert, error) {
	return repo.ListAlertsDelta(ctx, db, userID, after, until, limit)
}

func (syncRepoShim) ListFavoritesDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time, limit int) ([]domain.Favorite, error) {
	return repo.ListFavoritesDelta(ctx, db, userID, after, until, limit)
}

func (syncRepoShim) GetPreferencesDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time) (*domain.Preferences, error) {
	return repo.GetPreferencesDelta(ctx, db, userID, after, until)
}

func (syncRepoShim) ListTombstones(ctx context.Context, db *gorm.DB, userID, entityType string, after, until time.Time) ([]domain.Tombstone, error) {
	return repo.ListTombstones(ctx, db, userID, entityType, after, until)
}

func (syncRepoShim) CountAlerts(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountAlerts(ctx, db, userID)
}

func (syncRepoShim) CountFavorites(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountFavorites(ctx, db, userID)
}

func (syncRepoShim) GetSyncState(ctx context.Context, db *gorm.DB, userID, entityType string) (*domain.SyncState, error) {
	return repo.GetSyncState(ctx, db, userID, entityType)
}

func (syncRepoShim) UpsertSyncState(ctx context.Context, db *gorm.DB, userID, entityType, token string, syncedAt time.Time) error {
	return repo.UpsertSyncState(ctx, db, userID, entityType, token, syncedAt)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v*.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, tokens *synctoken.Codec, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// Response compression (Prometheus scrapes negotiate their own encoding)
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (spec generated by `swag init`, served only when enabled)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/tokens
	alertSvc := &services.AlertService{
		DB:          db,
		Repo:        alertRepoShim{},
		QueryMaxLen: 200,
		NameLocale:  language.English,
	}
	favSvc := services.NewFavoriteService(db, favoriteRepoShim{})
	prefSvc := services.NewPreferenceService(db, preferenceRepoShim{})
	devSvc := services.NewDeviceService(db, deviceRepoShim{})
	syncSvc := services.NewSyncService(db, syncRepoShim{}, tokens, cfg.Sync.PageLimit)

	h := handlers.New(alertSvc, favSvc, prefSvc, devSvc, syncSvc)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Alerts
		api.POST("/alerts", h.CreateAlert)
		api.GET("/alerts", h.ListAlerts)
		api.GET("/alerts/:id", h.GetAlert)
		api.PATCH("/alerts/:id", h.UpdateAlert)
		api.DELETE("/alerts/:id", h.DeleteAlert)

		// Favorites
		api.POST("/favorites", h.SaveFavorite)
		api.GET("/favorites", h.ListFavorites)
		api.DELETE("/favorites/:deal_id", h.RemoveFavorite)

		// Preferences
		api.GET("/preferences", h.GetPreferences)
		api.PATCH("/preferences", h.UpdatePreferences)

		// Devices
		api.POST("/devices", h.RegisterDevice)
		api.GET("/devices", h.ListDevices)
		api.DELETE("/devices/:id", h.UnregisterDevice)

		// Sync
		api.POST("/sync", h.SyncPull)
		api.GET("/sync/status", h.SyncStatus)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
