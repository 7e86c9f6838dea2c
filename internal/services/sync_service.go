// Package services – SyncService
//
// This file implements the SyncService, which builds pull responses for
// offline mobile clients. A pull is windowed: the server freezes an upper
// boundary timestamp before querying, returns every change in
// (client boundary, frozen boundary] per requested entity type, and issues a
// fresh signed token recording the frozen boundary. Rows written while the
// pull is running land after the boundary and are picked up by the next pull,
// so no change is ever skipped or double-counted.
//
// Failure handling is per type: an unreadable entity type is omitted from the
// response and flagged via HasConflicts rather than failing the whole pull.
// Invalid, expired, or cross-scoped tokens degrade that type to a full sync,
// also flagged via HasConflicts. Unknown entity types are silently ignored.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/synctoken"
)

// SyncRepo defines the repository contract required by SyncService.
type SyncRepo interface {
	// ListAlertsDelta returns alerts changed within (after, until].
	ListAlertsDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time, limit int) ([]domain.Alert, error)

	// ListFavoritesDelta returns favorites changed within (after, until].
	ListFavoritesDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time, limit int) ([]domain.Favorite, error)

	// GetPreferencesDelta returns the preferences row if changed, else nil.
	GetPreferencesDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time) (*domain.Preferences, error)

	// ListTombstones returns deletions recorded within (after, until].
	ListTombstones(ctx context.Context, db *gorm.DB, userID, entityType string, after, until time.Time) ([]domain.Tombstone, error)

	// CountAlerts returns the user's total alert count.
	CountAlerts(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// CountFavorites returns the user's total favorite count.
	CountFavorites(ctx context.Context, db *gorm.DB, userID string) (int64, error)

	// GetSyncState returns per-type sync bookkeeping, or repo.ErrNotFound.
	GetSyncState(ctx context.Context, db *gorm.DB, userID, entityType string) (*domain.SyncState, error)

	// UpsertSyncState records the issued token and bumps the server version.
	UpsertSyncState(ctx context.Context, db *gorm.DB, userID, entityType, token string, syncedAt time.Time) error
}

// TokenCodec issues and verifies sync cursor tokens.
type TokenCodec interface {
	Issue(userID, entityType string, boundary time.Time) (string, error)
	Parse(token, userID, entityType string) (time.Time, error)
}

// SyncService assembles windowed pull responses over all syncable entity types.
type SyncService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the sync repository used by this service.
	Repo SyncRepo
	// Tokens signs and verifies cursor tokens.
	Tokens TokenCodec

	// PageLimit caps items per entity type per pull (0 = unlimited).
	PageLimit int
}

// NewSyncService constructs a SyncService.
func NewSyncService(db *gorm.DB, r SyncRepo, tokens TokenCodec, pageLimit int) *SyncService {
	return &SyncService{DB: db, Repo: r, Tokens: tokens, PageLimit: pageLimit}
}

// PullRequest describes one client pull: which entity types to sync, the
// tokens from the previous pull (absent for first sync), and whether the
// client wants a full resync regardless of tokens.
type PullRequest struct {
	EntityTypes []string
	SyncTokens  map[string]string
	FullSync    bool
}

// EntityDelta is the per-type payload of a pull response. Items holds the
// changed rows (all rows for a full sync); Deleted lists IDs tombstoned since
// the client's boundary; SyncToken is the cursor for the next pull.
type EntityDelta struct {
	Items     any      `json:"items"`
	Total     int64    `json:"total"`
	Deleted   []string `json:"deleted,omitempty"`
	SyncToken string   `json:"sync_token"`
}

// PullResult is a complete pull response. On the wire the per-type deltas sit
// at the top level next to synced_at and has_conflicts, keyed by entity type;
// the custom JSON methods below flatten and rebuild that shape.
type PullResult struct {
	SyncedAt     time.Time
	HasConflicts bool
	Results      map[string]EntityDelta
}

// MarshalJSON emits `{<type>: {items, total, sync_token}, ..., synced_at,
// has_conflicts}`. Entity type names never collide with the two fixed keys.
func (r PullResult) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Results)+2)
	for et, d := range r.Results {
		m[et] = d
	}
	m["synced_at"] = r.SyncedAt
	m["has_conflicts"] = r.HasConflicts
	return json.Marshal(m)
}

// UnmarshalJSON rebuilds the Results map from the flat wire shape.
func (r *PullResult) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Results = make(map[string]EntityDelta, len(raw))
	for k, v := range raw {
		switch k {
		case "synced_at":
			if err := json.Unmarshal(v, &r.SyncedAt); err != nil {
				return err
			}
		case "has_conflicts":
			if err := json.Unmarshal(v, &r.HasConflicts); err != nil {
				return err
			}
		default:
			var d EntityDelta
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			r.Results[k] = d
		}
	}
	return nil
}

// Pull executes a windowed sync for the requested entity types. An empty
// EntityTypes list means all syncable types.
func (s *SyncService) Pull(ctx context.Context, userID string, req PullRequest) (*PullResult, error) {
	types := req.EntityTypes
	if len(types) == 0 {
		types = []string{domain.EntityFavorites, domain.EntityAlerts, domain.EntityPreferences}
	}

	// Freeze the window before any query.
	boundary := time.Now().UTC()

	out := &PullResult{
		SyncedAt: boundary,
		Results:  make(map[string]EntityDelta, len(types)),
	}

	for _, et := range types {
		switch et {
		case domain.EntityFavorites, domain.EntityAlerts, domain.EntityPreferences:
		default:
			// Unknown types are ignored so old servers and new clients coexist.
			continue
		}

		after, conflict := s.resolveAfter(userID, et, req)
		if conflict {
			out.HasConflicts = true
		}

		delta, err := s.entityDelta(ctx, userID, et, after, boundary)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Str("entity_type", et).
				Msg("sync: entity delta failed, omitting type")
			out.HasConflicts = true
			continue
		}

		token, err := s.Tokens.Issue(userID, et, boundary)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Str("entity_type", et).
				Msg("sync: token issue failed, omitting type")
			out.HasConflicts = true
			continue
		}
		delta.SyncToken = token

		if err := s.Repo.UpsertSyncState(ctx, s.DB, userID, et, token, boundary); err != nil {
			// Bookkeeping only; the pull result is still correct.
			log.Warn().Err(err).Str("user_id", userID).Str("entity_type", et).
				Msg("sync: state upsert failed")
		}

		out.Results[et] = *delta
	}

	return out, nil
}

// resolveAfter determines the lower window bound for one entity type. A full
// sync or missing token starts from zero; an invalid token also starts from
// zero but reports a conflict so the client knows its cursor was discarded.
func (s *SyncService) resolveAfter(userID, entityType string, req PullRequest) (time.Time, bool) {
	if req.FullSync {
		return time.Time{}, false
	}
	token, ok := req.SyncTokens[entityType]
	if !ok || token == "" {
		return time.Time{}, false
	}
	after, err := s.Tokens.Parse(token, userID, entityType)
	if err != nil {
		if !errors.Is(err, synctoken.ErrInvalidToken) {
			log.Warn().Err(err).Str("user_id", userID).Str("entity_type", entityType).
				Msg("sync: token parse failed")
		}
		return time.Time{}, true
	}
	return after, false
}

// entityDelta loads the changed rows, total count, and tombstones for one
// entity type. Tombstones are only meaningful for incremental pulls; a full
// sync replaces the client's local store wholesale.
func (s *SyncService) entityDelta(ctx context.Context, userID, entityType string, after, until time.Time) (*EntityDelta, error) {
	delta := &EntityDelta{}

	switch entityType {
	case domain.EntityAlerts:
		items, err := s.Repo.ListAlertsDelta(ctx, s.DB, userID, after, until, s.PageLimit)
		if err != nil {
			return nil, err
		}
		total, err := s.Repo.CountAlerts(ctx, s.DB, userID)
		if err != nil {
			return nil, err
		}
		delta.Items, delta.Total = items, total

	case domain.EntityFavorites:
		items, err := s.Repo.ListFavoritesDelta(ctx, s.DB, userID, after, until, s.PageLimit)
		if err != nil {
			return nil, err
		}
		total, err := s.Repo.CountFavorites(ctx, s.DB, userID)
		if err != nil {
			return nil, err
		}
		delta.Items, delta.Total = items, total

	case domain.EntityPreferences:
		p, err := s.Repo.GetPreferencesDelta(ctx, s.DB, userID, after, until)
		if err != nil {
			return nil, err
		}
		items := []domain.Preferences{}
		if p != nil {
			items = append(items, *p)
		}
		delta.Items, delta.Total = items, int64(len(items))
	}

	if !after.IsZero() {
		stones, err := s.Repo.ListTombstones(ctx, s.DB, userID, entityType, after, until)
		if err != nil {
			return nil, err
		}
		for _, ts := range stones {
			delta.Deleted = append(delta.Deleted, ts.EntityID)
		}
	}

	return delta, nil
}

// TypeStatus is the per-type entry of a sync status report.
type TypeStatus struct {
	EntityType    string     `json:"entity_type"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	ServerVersion int64      `json:"server_version"`
}

// Status reports per-type sync bookkeeping for the user. Types the user has
// never synced appear with a nil LastSyncedAt and version 0.
func (s *SyncService) Status(ctx context.Context, userID string) ([]TypeStatus, error) {
	types := []string{domain.EntityFavorites, domain.EntityAlerts, domain.EntityPreferences}
	out := make([]TypeStatus, 0, len(types))
	for _, et := range types {
		st, err := s.Repo.GetSyncState(ctx, s.DB, userID, et)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			out = append(out, TypeStatus{EntityType: et})
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, TypeStatus{
			EntityType:    et,
			LastSyncedAt:  st.LastSyncedAt,
			ServerVersion: st.ServerVersion,
		})
	}
	return out, nil
}
