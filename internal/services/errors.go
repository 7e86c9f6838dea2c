// Package services defines the business logic for price alerts, favorites,
// preferences, devices, and offline sync. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Alert-related errors.
var (
	// ErrAlertNotFound indicates that the requested alert does not exist or is
	// not accessible to the current user.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrEmptyQuery is returned when a request to create an alert contains an
	// empty product query.
	ErrEmptyQuery = errors.New("product query is empty")

	// ErrInvalidPrice is returned when a target or original price is not a
	// positive amount.
	ErrInvalidPrice = errors.New("price must be positive")

	// ErrNoUpdatableFields is returned when a PATCH carries none of the
	// user-editable alert fields.
	ErrNoUpdatableFields = errors.New("no updatable fields provided")
)

// Favorite-related errors.
var (
	// ErrFavoriteNotFound indicates that the requested favorite does not exist
	// or is not accessible to the current user.
	ErrFavoriteNotFound = errors.New("favorite not found")

	// ErrEmptyDealID is returned when a save request has no deal identifier.
	ErrEmptyDealID = errors.New("deal id is empty")
)

// Device-related errors.
var (
	// ErrDeviceNotFound indicates that the device is not registered for the
	// current user.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrInvalidPlatform is returned when a device registration names a
	// platform other than ios or android.
	ErrInvalidPlatform = errors.New("platform must be ios or android")

	// ErrEmptyDeviceID is returned when a registration has no device identifier.
	ErrEmptyDeviceID = errors.New("device id is empty")
)

// Preference-related errors.
var (
	// ErrInvalidPreference is returned when a preference update contains an
	// unknown field or a value outside its allowed set.
	ErrInvalidPreference = errors.New("invalid preference value")
)
