// Sync HTTP handlers.
//
// This file exposes the offline synchronization endpoints:
//   - POST /sync         (pull deltas for the requested entity types)
//   - GET  /sync/status  (per-type sync bookkeeping)
//
// The pull endpoint always answers 200 with per-type results; types whose
// delta could not be computed are omitted and flagged via has_conflicts, so a
// partial backend failure never blocks the client's other entity types.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/outfi/mobile-sync-backend/internal/services"
)

//
// DTOs
//

// SyncPullRequest is the JSON payload for a sync pull.
type SyncPullRequest struct {
	// EntityTypes restricts the pull; empty means all syncable types.
	EntityTypes []string `json:"entity_types" example:"favorites,alerts"`
	// SyncTokens carries the per-type cursor tokens from the previous pull.
	SyncTokens map[string]string `json:"sync_tokens"`
	// FullSync forces a complete snapshot, ignoring sync tokens.
	FullSync bool `json:"full_sync" example:"false"`
}

// SyncStatusResponse wraps the per-type sync bookkeeping.
type SyncStatusResponse struct {
	Types []services.TypeStatus `json:"types"`
}

//
// Handlers
//

// SyncPull godoc
// @ID          syncPull
// @Summary     Pull sync deltas
// @Description Returns per-entity-type deltas since the client's sync tokens, keyed by
// @Description entity type at the top level next to synced_at and has_conflicts. A missing,
// @Description expired, or foreign token falls back to a full snapshot for that type and
// @Description sets has_conflicts. Unknown entity types are ignored.
// @Tags        Sync
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.SyncPullRequest  true  "Pull request"
//
// @Success     200  {object}  services.PullResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sync [post]
func (h *Handlers) SyncPull(c *gin.Context) {
	var req SyncPullRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	res, err := h.syncSvc.Pull(c.Request.Context(), userID(c), services.PullRequest{
		EntityTypes: req.EntityTypes,
		SyncTokens:  req.SyncTokens,
		FullSync:    req.FullSync,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, res)
}

// SyncStatus godoc
// @ID          syncStatus
// @Summary     Sync status
// @Description Returns last-synced timestamps and server versions per entity type.
// @Tags        Sync
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
//
// @Success     200  {object}  handlers.SyncStatusResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sync/status [get]
func (h *Handlers) SyncStatus(c *gin.Context) {
	types, err := h.syncSvc.Status(c.Request.Context(), userID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSyncFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, SyncStatusResponse{Types: types})
}
