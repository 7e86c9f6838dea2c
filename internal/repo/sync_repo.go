// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for offline-sync
// bookkeeping: SyncState rows, deletion tombstones, and the windowed delta
// queries the sync service builds pull responses from.
//
// Delta semantics: a delta query returns rows with updated_at strictly after
// the client's last boundary and at or before the frozen window boundary
// captured at the start of the pull, i.e. (after, until]. Freezing the upper
// bound keeps rows written mid-pull out of the response so they are not
// skipped by the next token.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
)

// --- SyncState ---

// GetSyncState returns the bookkeeping row for (userID, entityType), or
// ErrNotFound if the user has never synced that type.
func GetSyncState(ctx context.Context, db *gorm.DB, userID, entityType string) (*domain.SyncState, error) {
	var s domain.SyncState
	err := db.WithContext(ctx).
		Where("user_id = ? AND entity_type = ?", userID, entityType).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// UpsertSyncState records the token issued for (userID, entityType) and bumps
// the server version. It inserts the row on first sync.
func UpsertSyncState(ctx context.Context, db *gorm.DB, userID, entityType, token string, syncedAt time.Time) error {
	var s domain.SyncState
	err := db.WithContext(ctx).
		Where("user_id = ? AND entity_type = ?", userID, entityType).
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		now := time.Now().UTC()
		return db.WithContext(ctx).Create(&domain.SyncState{
			ID:            uuid.NewString(),
			UserID:        userID,
			EntityType:    entityType,
			SyncToken:     token,
			LastSyncedAt:  &syncedAt,
			ServerVersion: 1,
			CreatedAt:     now,
			UpdatedAt:     now,
		}).Error
	}
	if err != nil {
		return err
	}
	return db.WithContext(ctx).
		Model(&domain.SyncState{}).
		Where("id = ?", s.ID).
		Updates(map[string]any{
			"sync_token":     token,
			"last_synced_at": syncedAt,
			"server_version": s.ServerVersion + 1,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// --- Tombstones ---

// CreateTombstone records that (entityType, entityID) was deleted for userID.
// Re-deleting the same entity is a no-op (the unique index absorbs replays).
func CreateTombstone(ctx context.Context, db *gorm.DB, userID, entityType, entityID string, deletedAt time.Time) error {
	err := db.WithContext(ctx).Create(&domain.Tombstone{
		ID:         uuid.NewString(),
		UserID:     userID,
		EntityType: entityType,
		EntityID:   entityID,
		DeletedAt:  deletedAt,
	}).Error
	if err != nil && isUniqueViolation(err) {
		return nil
	}
	return err
}

// ListTombstones returns tombstones for (userID, entityType) deleted within
// (after, until], oldest first.
func ListTombstones(ctx context.Context, db *gorm.DB, userID, entityType string, after, until time.Time) ([]domain.Tombstone, error) {
	var out []domain.Tombstone
	err := db.WithContext(ctx).
		Where("user_id = ? AND entity_type = ? AND deleted_at > ? AND deleted_at <= ?",
			userID, entityType, after, until).
		Order("deleted_at asc").
		Find(&out).Error
	return out, err
}

// PruneTombstones deletes tombstones older than the retention cutoff and
// returns the number removed.
func PruneTombstones(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("deleted_at < ?", cutoff).
		Delete(&domain.Tombstone{})
	return res.RowsAffected, res.Error
}

// --- Windowed deltas ---

// ListAlertsDelta returns the user's alerts updated within (after, until],
// oldest change first, capped at limit.
func ListAlertsDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time, limit int) ([]domain.Alert, error) {
	var out []domain.Alert
	q := db.WithContext(ctx).
		Where("user_id = ? AND updated_at > ? AND updated_at <= ?", userID, after, until).
		Order("updated_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListFavoritesDelta returns the user's favorites updated within (after, until],
// oldest change first, capped at limit.
func ListFavoritesDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time, limit int) ([]domain.Favorite, error) {
	var out []domain.Favorite
	q := db.WithContext(ctx).
		Where("user_id = ? AND updated_at > ? AND updated_at <= ?", userID, after, until).
		Order("updated_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// GetPreferencesDelta returns the user's preferences row if it changed within
// (after, until], or nil if it did not. Preferences are a singleton per user,
// so the delta is at most one row.
func GetPreferencesDelta(ctx context.Context, db *gorm.DB, userID string, after, until time.Time) (*domain.Preferences, error) {
	var p domain.Preferences
	err := db.WithContext(ctx).
		Where("user_id = ? AND updated_at > ? AND updated_at <= ?", userID, after, until).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure from
// glebarez/sqlite, which surfaces them as plain-text errors.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
