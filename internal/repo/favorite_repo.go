// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Favorite
// model: immutable per-user snapshots of saved deals.
//
// Functions:
//
//   - CreateFavorite(ctx, db, f) -> error
//     Inserts a favorite; returns ErrDuplicate if (user_id, deal_id) exists.
//
//   - ListFavorites(ctx, db, userID) -> []domain.Favorite, error
//     Returns a user's favorites, newest first.
//
//   - CountFavorites(ctx, db, userID) -> (int64, error)
//     Returns the total number of favorites for the user.
//
//   - GetFavoriteByDeal(ctx, db, userID, dealID) -> *domain.Favorite, error
//     Fetches the favorite for a deal, or ErrNotFound.
//
//   - DeleteFavoriteByDeal(ctx, db, userID, dealID) -> (string, error)
//     Removes the favorite and returns its row ID for tombstoning.
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

// CreateFavorite inserts the given favorite. If the ID is empty a UUID is
// assigned, and timestamps are set to UTC now. A (user_id, deal_id) unique
// violation is reported as ErrDuplicate; the caller decides whether that is
// an error or a no-op re-save.
func CreateFavorite(ctx context.Context, db *gorm.DB, f *domain.Favorite) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	if err := db.WithContext(ctx).Create(f).Error; err != nil {
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// ListFavorites returns all favorites belonging to userID, newest first.
// It returns an empty slice if the user has none.
func ListFavorites(ctx context.Context, db *gorm.DB, userID string) ([]domain.Favorite, error) {
	var out []domain.Favorite
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&out).Error
	return out, err
}

// CountFavorites returns the total number of favorites owned by userID.
func CountFavorites(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Favorite{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// GetFavoriteByDeal fetches the favorite for (userID, dealID), or ErrNotFound
// if the deal was never saved.
func GetFavoriteByDeal(ctx context.Context, db *gorm.DB, userID, dealID string) (*domain.Favorite, error) {
	var f domain.Favorite
	err := db.WithContext(ctx).
		Where("user_id = ? AND deal_id = ?", userID, dealID).
		First(&f).Error
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// DeleteFavoriteByDeal removes the favorite for (userID, dealID) and returns
// the deleted row's ID so the caller can record a tombstone in the same
// transaction. Returns ErrNotFound if the deal was never saved.
func DeleteFavoriteByDeal(ctx context.Context, db *gorm.DB, userID, dealID string) (string, error) {
	f, err := GetFavoriteByDeal(ctx, db, userID, dealID)
	if err != nil {
		return "", err
	}
	res := db.WithContext(ctx).
		Where("id = ?", f.ID).
		Delete(&domain.Favorite{})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", gorm.ErrRecordNotFound
	}
	return f.ID, nil
}
