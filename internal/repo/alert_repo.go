// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Alert model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When an alert is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - ApplyEvaluation returns ErrStaleVersion when the optimistic-lock
//     version check fails, signalling the caller to re-read and retry.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - CreateAlert(ctx, db, a) -> error
//     Inserts a new Alert row, assigning a UUID and UTC timestamps.
//
//   - ListAlerts(ctx, db, userID, activeOnly) -> []domain.Alert, error
//     Returns a user's alerts, optionally filtered to active ones,
//     ordered by creation time descending.
//
//   - CountAlerts(ctx, db, userID) -> (int64, error)
//     Returns the total number of alerts owned by the user.
//
//   - GetAlert(ctx, db, id, userID) -> *domain.Alert, error
//     Fetches a single alert by ID/userID, or ErrNotFound if missing.
//
//   - UpdateAlertFields(ctx, db, id, userID, updates) -> error
//     Applies user-editable field updates, enforcing ownership.
//
//   - DeleteAlert(ctx, db, id, userID) -> error
//     Hard-deletes an alert, enforcing ownership.
//
//   - ListEvaluableAlerts(ctx, db, limit) -> []domain.Alert, error
//     Returns active, enabled alerts for the evaluator sweep, oldest
//     check first so starved alerts are picked up sooner.
//
//   - ApplyEvaluation(ctx, db, a, expectedVersion) -> error
//     Persists evaluator-owned fields conditional on the version read.
//
// This repository is designed to be wrapped by a higher-level service
// (see services.AlertService) which enforces business rules such as the
// one-way triggered transition and price-history capping.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStaleVersion is returned by ApplyEvaluation when the row's version no
// longer matches the one the caller read, i.e. a concurrent evaluation won.
var ErrStaleVersion = errors.New("alert version is stale")

// CreateAlert inserts the given alert. If the ID is empty a UUID is assigned,
// and CreatedAt/UpdatedAt are set to UTC now. On failure, it returns a DB error.
func CreateAlert(ctx context.Context, db *gorm.DB, a *domain.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	return db.WithContext(ctx).Create(a).Error
}

// ListAlerts returns all alerts belonging to userID, ordered by creation time
// descending (most recent first). When activeOnly is true, paused alerts are
// excluded. It returns an empty slice if the user has no alerts.
func ListAlerts(ctx context.Context, db *gorm.DB, userID string, activeOnly bool) ([]domain.Alert, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []domain.Alert
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

// CountAlerts returns the total number of alerts owned by userID.
// On DB error, it returns the error.
func CountAlerts(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// GetAlert fetches a single alert by its ID and owner (userID). If the record
// does not exist, it returns ErrNotFound. On other DB errors, the raw error
// is returned.
func GetAlert(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Alert, error) {
	var a domain.Alert
	err := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&a).Error
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateAlertFields applies the given column updates to an alert identified
// by id and owned by userID. If no rows are affected (alert missing or not
// owned by userID), it returns ErrNotFound. On DB error, the raw error is
// returned. Callers restrict updates to user-editable fields.
func UpdateAlertFields(ctx context.Context, db *gorm.DB, id, userID string, updates map[string]any) error {
	updates["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteAlert hard-deletes an alert identified by id and owned by userID.
// If no rows are affected, it returns ErrNotFound.
func DeleteAlert(ctx context.Context, db *gorm.DB, id, userID string) error {
	res := db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&domain.Alert{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListEvaluableAlerts returns up to limit alerts that the evaluator should
// visit: enabled, still in the active state, ordered so alerts never checked
// (or checked longest ago) come first. A limit <= 0 means no limit.
func ListEvaluableAlerts(ctx context.Context, db *gorm.DB, limit int) ([]domain.Alert, error) {
	q := db.WithContext(ctx).
		Where("is_active = ? AND status = ?", true, domain.AlertStatusActive).
		Order("last_checked_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []domain.Alert
	err := q.Find(&out).Error
	return out, err
}

// ApplyEvaluation persists the evaluator-owned fields of a (current price,
// lowest price, drop percent, history, status, triggered_at, last_checked_at)
// conditional on the row still carrying expectedVersion. On success the
// version is incremented. If the version moved underneath the caller it
// returns ErrStaleVersion; the caller re-reads and retries.
func ApplyEvaluation(ctx context.Context, db *gorm.DB, a *domain.Alert, expectedVersion int64) error {
	res := db.WithContext(ctx).
		Model(&domain.Alert{}).
		Where("id = ? AND version = ?", a.ID, expectedVersion).
		Updates(map[string]any{
			"current_price":      a.CurrentPrice,
			"lowest_price":       a.LowestPrice,
			"price_drop_percent": a.PriceDropPercent,
			"price_history":      a.PriceHistory,
			"status":             a.Status,
			"triggered_at":       a.TriggeredAt,
			"notification_sent":  a.NotificationSent,
			"last_checked_at":    a.LastCheckedAt,
			"updated_at":         time.Now().UTC(),
			"version":            expectedVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	a.Version = expectedVersion + 1
	return nil
}
