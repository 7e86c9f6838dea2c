// Price-alert HTTP handlers.
//
// This file exposes REST endpoints for alert resources:
//   - POST   /alerts        (create, idempotent via Idempotency-Key)
//   - GET    /alerts        (list, ETag support)
//   - GET    /alerts/{id}   (fetch one)
//   - PATCH  /alerts/{id}   (update target price / pause)
//   - DELETE /alerts/{id}   (delete, tombstoned for sync)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/repo"
	"github.com/outfi/mobile-sync-backend/internal/services"
	"github.com/outfi/mobile-sync-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// AlertService defines alert lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type AlertService interface {
	// Create registers a new price alert for userID.
	Create(ctx context.Context, userID string, in services.CreateAlertInput) (*domain.Alert, error)
	// List returns the user's alerts, optionally active-only.
	List(ctx context.Context, userID string, activeOnly bool) ([]domain.Alert, error)
	// Get fetches one alert owned by userID.
	Get(ctx context.Context, userID, alertID string) (*domain.Alert, error)
	// Update applies a partial update to user-editable fields.
	Update(ctx context.Context, userID, alertID string, in services.UpdateAlertInput) (*domain.Alert, error)
	// Delete removes the alert and records a sync tombstone.
	Delete(ctx context.Context, userID, alertID string) error
}

// FavoriteService defines saved-deal operations consumed by HTTP handlers.
type FavoriteService interface {
	// Save stores a deal snapshot; created reports whether a row was inserted.
	Save(ctx context.Context, userID string, in services.SaveFavoriteInput) (*domain.Favorite, bool, error)
	// List returns the user's favorites, newest first.
	List(ctx context.Context, userID string) ([]domain.Favorite, error)
	// Remove deletes a favorite by deal ID and records a sync tombstone.
	Remove(ctx context.Context, userID, dealID string) error
}

// PreferenceService defines user-settings operations consumed by HTTP handlers.
type PreferenceService interface {
	// Get returns the user's preferences, creating defaults on first access.
	Get(ctx context.Context, userID string) (*domain.Preferences, error)
	// Update applies a partial preferences update and returns the fresh row.
	Update(ctx context.Context, userID string, in services.UpdatePreferencesInput) (*domain.Preferences, error)
}

// DeviceService defines push-device registration operations.
type DeviceService interface {
	// Register upserts a device registration.
	Register(ctx context.Context, userID string, in services.RegisterDeviceInput) (*domain.Device, error)
	// List returns the user's active devices.
	List(ctx context.Context, userID string) ([]domain.Device, error)
	// Unregister deactivates a device by its client-generated ID.
	Unregister(ctx context.Context, userID, deviceID string) error
}

// SyncService defines the offline synchronization operations.
type SyncService interface {
	// Pull executes a windowed delta sync for the requested entity types.
	Pull(ctx context.Context, userID string, req services.PullRequest) (*services.PullResult, error)
	// Status reports per-type sync bookkeeping for the user.
	Status(ctx context.Context, userID string) ([]services.TypeStatus, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for alerts, favorites, preferences, devices,
// and sync. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	alertSvc AlertService
	favSvc   FavoriteService
	prefSvc  PreferenceService
	devSvc   DeviceService
	syncSvc  SyncService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(alertSvc AlertService, favSvc FavoriteService, prefSvc PreferenceService, devSvc DeviceService, syncSvc SyncService) *Handlers {
	return &Handlers{
		alertSvc: alertSvc,
		favSvc:   favSvc,
		prefSvc:  prefSvc,
		devSvc:   devSvc,
		syncSvc:  syncSvc,
	}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateAlertRequest is the JSON payload for creating a price alert.
type CreateAlertRequest struct {
	// ProductQuery is the tracked search query; required.
	ProductQuery string `json:"product_query" binding:"required,min=1,max=500" example:"leather ankle boots"`
	// ProductName optionally overrides the display name derived from the query.
	ProductName string `json:"product_name" example:"Leather Ankle Boots"`
	// ProductImage is an optional thumbnail URL.
	ProductImage string `json:"product_image" example:"https://cdn.example.com/boots.jpg"`
	// ProductURL optionally pins the alert to one product page.
	ProductURL string `json:"product_url" example:"https://shop.example.com/boots-123"`
	// TargetPrice is the price at or below which the alert fires; > 0.
	TargetPrice float64 `json:"target_price" binding:"required,gt=0" example:"59.99"`
	// OriginalPrice is the reference price used for drop percentages; > 0.
	OriginalPrice float64 `json:"original_price" binding:"required,gt=0" example:"89.99"`
	// Currency is an ISO 4217 code; defaults to USD.
	Currency string `json:"currency" example:"EUR"`
}

// UpdateAlertRequest is the JSON payload for a partial alert update.
// At least one field must be present.
type UpdateAlertRequest struct {
	TargetPrice *float64 `json:"target_price" example:"49.99"`
	IsActive    *bool    `json:"is_active" example:"false"`
}

// ListAlertsResponse wraps the user's alerts.
type ListAlertsResponse struct {
	Alerts []domain.Alert `json:"alerts"`
	Total  int            `json:"total"`
}

//
// Handlers
//

// CreateAlert godoc
// @ID          createAlert
// @Summary     Create a price alert
// @Description Creates a price alert for the current user and returns the alert resource.
// @Description Supports idempotency via the Idempotency-Key header (same key → same alert).
// @Tags        Alerts
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateAlertRequest  true  "Create alert payload"
//
// @Success     201  {object}  domain.Alert
// @Success     200  {object}  domain.Alert  "Replayed from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /alerts [post]
func (h *Handlers) CreateAlert(c *gin.Context) {
	ctx := c.Request.Context()
	currentUser := userID(c)

	var req CreateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product_query, target_price and original_price are required")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := requestIdempotencyKey(c)
	if idemKey != "" {
		if db := h.alertDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, currentUser, idemScopeAlerts, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := h.alertSvc.Get(ctx, currentUser, rec.ResourceID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, prev)
					return
				}
			}
		}
	}

	a, err := h.alertSvc.Create(ctx, currentUser, services.CreateAlertInput{
		ProductQuery:  req.ProductQuery,
		ProductName:   req.ProductName,
		ProductImage:  req.ProductImage,
		ProductURL:    req.ProductURL,
		TargetPrice:   req.TargetPrice,
		OriginalPrice: req.OriginalPrice,
		Currency:      req.Currency,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyQuery):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "product_query required")
		case errors.Is(err, services.ErrInvalidPrice):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prices must be positive")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if db := h.alertDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, currentUser, idemScopeAlerts, idemKey, a.ID, http.StatusCreated, idemTTL)
		}
	}

	ok(c, http.StatusCreated, a)
}

// ListAlerts godoc
// @ID          listAlerts
// @Summary     List price alerts
// @Description Returns the user's alerts. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Alerts
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       active_only    query   bool    false "Only active alerts"          default(false)
// @Param       limit          query   int     false "Max items returned (cap 200)"
//
// @Success     200  {object} handlers.ListAlertsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /alerts [get]
func (h *Handlers) ListAlerts(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	activeOnly := strings.EqualFold(c.Query("active_only"), "true")

	// ETag pre-check (best effort).
	if db := h.alertDB(); db != nil {
		count, maxTS, err := repo.AlertsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"alerts:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.alertSvc.List(ctx, uid, activeOnly)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	total := len(items)
	if limit := clampListLimit(c); limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	ok(c, http.StatusOK, ListAlertsResponse{Alerts: items, Total: total})
}

// clampListLimit parses the optional limit query parameter, capped for mobile
// list screens. Zero means unlimited.
func clampListLimit(c *gin.Context) int {
	const maxLimit = 200
	n := utils.AtoiDefault(c.Query("limit"), 0)
	if n < 0 {
		n = 0
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n
}

// GetAlert godoc
// @ID          getAlert
// @Summary     Fetch a price alert
// @Description Returns one alert owned by the current user.
// @Tags        Alerts
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Alert ID (UUID)"        format(uuid)
//
// @Success     200  {object} domain.Alert
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Alert not found"
// @Router      /alerts/{id} [get]
func (h *Handlers) GetAlert(c *gin.Context) {
	alertID := c.Param("id")
	if _, err := uuid.Parse(alertID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "alert id must be a UUID")
		return
	}

	a, err := h.alertSvc.Get(c.Request.Context(), userID(c), alertID)
	if err != nil {
		if errors.Is(err, services.ErrAlertNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "alert not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, a)
}

// UpdateAlert godoc
// @ID          updateAlert
// @Summary     Update a price alert
// @Description Partially updates user-editable alert fields (target price, active flag).
// @Tags        Alerts
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Alert ID (UUID)"        format(uuid)
// @Param       body       body    handlers.UpdateAlertRequest  true  "Fields to update"
//
// @Success     200  {object} domain.Alert
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Alert not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /alerts/{id} [patch]
func (h *Handlers) UpdateAlert(c *gin.Context) {
	alertID := c.Param("id")
	if _, err := uuid.Parse(alertID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "alert id must be a UUID")
		return
	}

	var req UpdateAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	a, err := h.alertSvc.Update(c.Request.Context(), userID(c), alertID, services.UpdateAlertInput{
		TargetPrice: req.TargetPrice,
		IsActive:    req.IsActive,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAlertNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "alert not found")
		case errors.Is(err, services.ErrNoUpdatableFields):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "at least one of target_price, is_active required")
		case errors.Is(err, services.ErrInvalidPrice):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "target_price must be positive")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, a)
}

// DeleteAlert godoc
// @ID          deleteAlert
// @Summary     Delete a price alert
// @Description Deletes an alert owned by the current user. The deletion is tombstoned
// @Description so offline clients pick it up on their next sync.
// @Tags        Alerts
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Alert ID (UUID)"        format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Alert not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /alerts/{id} [delete]
func (h *Handlers) DeleteAlert(c *gin.Context) {
	alertID := c.Param("id")
	if _, err := uuid.Parse(alertID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "alert id must be a UUID")
		return
	}

	if err := h.alertSvc.Delete(c.Request.Context(), userID(c), alertID); err != nil {
		if errors.Is(err, services.ErrAlertNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "alert not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		return
	}
	noContent(c)
}

//
// Idempotency helpers
//

const (
	idemScopeAlerts    = "alerts"
	idemScopeFavorites = "favorites"
	idemTTL            = 24 * time.Hour
)

// alertDB exposes the concrete service's DB handle for ETag and idempotency
// lookups (best effort; nil when a test stub is injected).
func (h *Handlers) alertDB() *gorm.DB {
	if svc, ok := h.alertSvc.(*services.AlertService); ok {
		return svc.DB
	}
	return nil
}

// requestIdempotencyKey extracts an idempotency key if an upstream middleware
// has already validated/stashed it. The fallback behavior reads the
// "Idempotency-Key" header directly when no dedicated middleware exists.
func requestIdempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}
