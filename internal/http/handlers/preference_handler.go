// Preference HTTP handlers.
//
// This file exposes the user-settings endpoints:
//   - GET   /preferences  (fetch, creating defaults on first access)
//   - PATCH /preferences  (partial update)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/outfi/mobile-sync-backend/internal/services"
)

// UpdatePreferencesRequest is the JSON payload for a partial settings update.
// Absent fields are left unchanged.
type UpdatePreferencesRequest struct {
	PushEnabled      *bool `json:"push_enabled"`
	PushDeals        *bool `json:"push_deals"`
	PushPriceAlerts  *bool `json:"push_price_alerts"`
	PushWeeklyDigest *bool `json:"push_weekly_digest"`

	Theme    *string `json:"theme" example:"dark"`
	Currency *string `json:"currency" example:"EUR"`
	Language *string `json:"language" example:"en"`

	DefaultSort      *string   `json:"default_sort" example:"price_asc"`
	ShowSoldItems    *bool     `json:"show_sold_items"`
	PreferredSources *[]string `json:"preferred_sources"`

	SaveSearchHistory  *bool `json:"save_search_history"`
	AnonymousAnalytics *bool `json:"anonymous_analytics"`
}

// GetPreferences godoc
// @ID          getPreferences
// @Summary     Fetch user preferences
// @Description Returns the user's settings, creating defaults on first access.
// @Tags        Preferences
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  domain.Preferences
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /preferences [get]
func (h *Handlers) GetPreferences(c *gin.Context) {
	p, err := h.prefSvc.Get(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, p)
}

// UpdatePreferences godoc
// @ID          updatePreferences
// @Summary     Update user preferences
// @Description Partially updates the user's settings; absent fields stay unchanged.
// @Description Theme, default_sort, currency, and language values are validated.
// @Tags        Preferences
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.UpdatePreferencesRequest  true  "Fields to update"
//
// @Success     200  {object}  domain.Preferences
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /preferences [patch]
func (h *Handlers) UpdatePreferences(c *gin.Context) {
	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p, err := h.prefSvc.Update(c.Request.Context(), userID(c), services.UpdatePreferencesInput{
		PushEnabled:        req.PushEnabled,
		PushDeals:          req.PushDeals,
		PushPriceAlerts:    req.PushPriceAlerts,
		PushWeeklyDigest:   req.PushWeeklyDigest,
		Theme:              req.Theme,
		Currency:           req.Currency,
		Language:           req.Language,
		DefaultSort:        req.DefaultSort,
		ShowSoldItems:      req.ShowSoldItems,
		PreferredSources:   req.PreferredSources,
		SaveSearchHistory:  req.SaveSearchHistory,
		AnonymousAnalytics: req.AnonymousAnalytics,
	})
	if err != nil {
		if errors.Is(err, services.ErrInvalidPreference) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid preference value")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, p)
}
