// Package services – DeviceService
//
// This file implements the DeviceService, which manages push notification
// device registrations. Registration is an upsert keyed by (user, device):
// re-registering refreshes the push token and reactivates the row.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
)

// DeviceRepo defines the repository contract required by DeviceService.
type DeviceRepo interface {
	// UpsertDevice registers or refreshes a device row.
	UpsertDevice(ctx context.Context, db *gorm.DB, d *domain.Device) (*domain.Device, error)

	// ListDevices returns the user's active devices.
	ListDevices(ctx context.Context, db *gorm.DB, userID string) ([]domain.Device, error)

	// DeactivateDevice marks a device inactive.
	DeactivateDevice(ctx context.Context, db *gorm.DB, userID, deviceID string) error
}

// DeviceService provides register/list/unregister operations over devices.
type DeviceService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the device repository used by this service.
	Repo DeviceRepo
}

// NewDeviceService constructs a DeviceService.
func NewDeviceService(db *gorm.DB, r DeviceRepo) *DeviceService {
	return &DeviceService{DB: db, Repo: r}
}

// RegisterDeviceInput carries the fields of a device registration.
type RegisterDeviceInput struct {
	DeviceID   string
	PushToken  string
	Platform   string
	DeviceName string
	AppVersion string
	OSVersion  string
}

// Register upserts a device registration for userID. The platform must be
// "ios" or "android".
func (s *DeviceService) Register(ctx context.Context, userID string, in RegisterDeviceInput) (*domain.Device, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return nil, ErrEmptyDeviceID
	}
	platform := strings.ToLower(strings.TrimSpace(in.Platform))
	if platform != "ios" && platform != "android" {
		return nil, ErrInvalidPlatform
	}
	return s.Repo.UpsertDevice(ctx, s.DB, &domain.Device{
		UserID:     userID,
		DeviceID:   deviceID,
		PushToken:  in.PushToken,
		Platform:   platform,
		DeviceName: in.DeviceName,
		AppVersion: in.AppVersion,
		OSVersion:  in.OSVersion,
	})
}

// List returns the user's active devices.
func (s *DeviceService) List(ctx context.Context, userID string) ([]domain.Device, error) {
	return s.Repo.ListDevices(ctx, s.DB, userID)
}

// Unregister deactivates a device so it stops receiving pushes.
func (s *DeviceService) Unregister(ctx context.Context, userID, deviceID string) error {
	err := s.Repo.DeactivateDevice(ctx, s.DB, userID, strings.TrimSpace(deviceID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrDeviceNotFound
	}
	return err
}
