// Favorite HTTP handlers.
//
// This file exposes REST endpoints for saved deals:
//   - POST   /favorites            (save a deal snapshot)
//   - GET    /favorites            (list, ETag support)
//   - DELETE /favorites/{deal_id}  (remove, tombstoned for sync)
//
// Saving the same deal twice is a natural no-op: the original snapshot is
// returned with 200 instead of 201, so client retries need no special casing.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/repo"
	"github.com/outfi/mobile-sync-backend/internal/services"
)

//
// DTOs
//

// DealData is the snapshot of a deal at save time, nested under deal_data in
// the save payload.
type DealData struct {
	// Title is the deal's display title.
	Title string `json:"title" example:"Wool overcoat, size M"`
	// Price is the deal price at save time.
	Price float64 `json:"price" example:"34.50"`
	// ImageURL is an optional thumbnail URL.
	ImageURL string `json:"image_url" example:"https://cdn.example.com/coat.jpg"`
	// Source names the marketplace the deal came from.
	Source string `json:"source" example:"vinted"`
	// URL is the deal page link.
	URL string `json:"url" example:"https://vinted.example.com/items/8832641"`
}

// SaveFavoriteRequest is the JSON payload for saving a deal.
type SaveFavoriteRequest struct {
	// DealID identifies the deal in the external catalog; required.
	DealID string `json:"deal_id" binding:"required,min=1,max=128" example:"vinted-8832641"`
	// DealData carries the snapshot fields.
	DealData DealData `json:"deal_data"`
}

// ListFavoritesResponse wraps the user's saved deals.
type ListFavoritesResponse struct {
	Favorites []domain.Favorite `json:"favorites"`
	Total     int               `json:"total"`
}

//
// Handlers
//

// SaveFavorite godoc
// @ID          saveFavorite
// @Summary     Save a deal
// @Description Saves a snapshot of the deal for the current user. Re-saving an already
// @Description saved deal returns the original snapshot with 200 instead of 201.
// @Tags        Favorites
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SaveFavoriteRequest  true  "Deal snapshot payload"
//
// @Success     201  {object}  domain.Favorite
// @Success     200  {object}  domain.Favorite  "Already saved"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /favorites [post]
func (h *Handlers) SaveFavorite(c *gin.Context) {
	ctx := c.Request.Context()
	currentUser := userID(c)

	var req SaveFavoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal_id required")
		return
	}

	f, created, err := h.favSvc.Save(ctx, currentUser, services.SaveFavoriteInput{
		DealID:   req.DealID,
		Title:    req.DealData.Title,
		Price:    req.DealData.Price,
		ImageURL: req.DealData.ImageURL,
		Source:   req.DealData.Source,
		URL:      req.DealData.URL,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmptyDealID) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal_id required")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}

	// Idempotency (store path) – best effort; replay detection happens via the
	// natural re-save no-op, the record only feeds the middleware's rate bypass.
	if idemKey, okKey := requestIdempotencyKey(c); okKey {
		if db := h.favoriteDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, currentUser, idemScopeFavorites, idemKey, f.ID, http.StatusCreated, idemTTL)
		}
	}

	if created {
		ok(c, http.StatusCreated, f)
		return
	}
	ok(c, http.StatusOK, f)
}

// ListFavorites godoc
// @ID          listFavorites
// @Summary     List saved deals
// @Description Returns the user's saved deals, newest first. Supports weak ETag via
// @Description If-None-Match and may return 304.
// @Tags        Favorites
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       limit          query   int     false "Max items returned (cap 200)"
//
// @Success     200  {object} handlers.ListFavoritesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /favorites [get]
func (h *Handlers) ListFavorites(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	if db := h.favoriteDB(); db != nil {
		count, maxTS, err := repo.FavoritesStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"favorites:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.favSvc.List(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	total := len(items)
	if limit := clampListLimit(c); limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	ok(c, http.StatusOK, ListFavoritesResponse{Favorites: items, Total: total})
}

// RemoveFavorite godoc
// @ID          removeFavorite
// @Summary     Remove a saved deal
// @Description Removes the user's favorite by deal ID. The deletion is tombstoned so
// @Description offline clients pick it up on their next sync.
// @Tags        Favorites
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       deal_id    path    string  true  "Deal ID"                example(vinted-8832641)
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Favorite not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /favorites/{deal_id} [delete]
func (h *Handlers) RemoveFavorite(c *gin.Context) {
	dealID := c.Param("deal_id")

	if err := h.favSvc.Remove(c.Request.Context(), userID(c), dealID); err != nil {
		switch {
		case errors.Is(err, services.ErrFavoriteNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "favorite not found")
		case errors.Is(err, services.ErrEmptyDealID):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "deal_id required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeDeleteFailed, err.Error())
		}
		return
	}
	noContent(c)
}

// favoriteDB exposes the concrete service's DB handle for ETag and idempotency
// lookups (best effort; nil when a test stub is injected).
func (h *Handlers) favoriteDB() *gorm.DB {
	if svc, ok := h.favSvc.(*services.FavoriteService); ok {
		return svc.DB
	}
	return nil
}
