// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Preferences
// model (one row per user, created lazily with defaults).
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
)

// defaultPreferences returns the row inserted on a user's first access.
func defaultPreferences(userID string, now time.Time) *domain.Preferences {
	return &domain.Preferences{
		UserID:             userID,
		PushEnabled:        true,
		PushDeals:          true,
		PushPriceAlerts:    true,
		Theme:              "system",
		Currency:           "USD",
		Language:           "en",
		DefaultSort:        "relevance",
		SaveSearchHistory:  true,
		AnonymousAnalytics: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// GetOrCreatePreferences returns the user's preferences row, inserting one
// with defaults on first access. A concurrent first access losing the insert
// race falls back to reading the winner's row.
func GetOrCreatePreferences(ctx context.Context, db *gorm.DB, userID string) (*domain.Preferences, error) {
	var p domain.Preferences
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	fresh := defaultPreferences(userID, time.Now().UTC())
	if cErr := db.WithContext(ctx).Create(fresh).Error; cErr != nil {
		// Lost the race: re-read.
		if rErr := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; rErr == nil {
			return &p, nil
		}
		return nil, cErr
	}
	return fresh, nil
}

// UpdatePreferences applies the given column updates to the user's row,
// creating it first if it does not exist yet. Callers restrict updates to
// known preference fields.
func UpdatePreferences(ctx context.Context, db *gorm.DB, userID string, updates map[string]any) (*domain.Preferences, error) {
	if _, err := GetOrCreatePreferences(ctx, db, userID); err != nil {
		return nil, err
	}
	updates["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Preferences{}).
		Where("user_id = ?", userID).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	var p domain.Preferences
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
