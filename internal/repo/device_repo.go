// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Device
// model used for push notification registration.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
)

// UpsertDevice registers a device for userID, or refreshes the push token
// and metadata if (user_id, device_id) already exists. Re-registration also
// reactivates a previously deactivated device.
func UpsertDevice(ctx context.Context, db *gorm.DB, d *domain.Device) (*domain.Device, error) {
	now := time.Now().UTC()
	var existing domain.Device
	err := db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", d.UserID, d.DeviceID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		d.ID = uuid.NewString()
		d.IsActive = true
		d.LastUsedAt = now
		d.CreatedAt = now
		d.UpdatedAt = now
		if cErr := db.WithContext(ctx).Create(d).Error; cErr != nil {
			return nil, cErr
		}
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	updates := map[string]any{
		"push_token":   d.PushToken,
		"platform":     d.Platform,
		"device_name":  d.DeviceName,
		"app_version":  d.AppVersion,
		"os_version":   d.OSVersion,
		"is_active":    true,
		"last_used_at": now,
		"updated_at":   now,
	}
	if uErr := db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; uErr != nil {
		return nil, uErr
	}
	var out domain.Device
	if gErr := db.WithContext(ctx).Where("id = ?", existing.ID).First(&out).Error; gErr != nil {
		return nil, gErr
	}
	return &out, nil
}

// ListDevices returns the user's active devices, most recently used first.
func ListDevices(ctx context.Context, db *gorm.DB, userID string) ([]domain.Device, error) {
	var out []domain.Device
	err := db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("last_used_at desc").
		Find(&out).Error
	return out, err
}

// DeactivateDevice marks a device inactive so it no longer receives pushes.
// Returns ErrNotFound when the device does not exist or is not owned by userID.
func DeactivateDevice(ctx context.Context, db *gorm.DB, userID, deviceID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("user_id = ? AND device_id = ? AND is_active = ?", userID, deviceID, true).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
