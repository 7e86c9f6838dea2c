// Package domain defines the persistence models for price alerts, saved-deal
// favorites, user preferences, devices, and offline-sync bookkeeping. These
// types are mapped with GORM and form the core data layer of the mobile
// backend.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Alert status values. The transition active → triggered is one-way: once an
// alert has triggered, subsequent price observations never revert it.
const (
	AlertStatusActive    = "active"
	AlertStatusTriggered = "triggered"
)

// Sync entity type tags. A sync token is only valid for the (user, entity
// type) pair it was issued for.
const (
	EntityFavorites   = "favorites"
	EntityAlerts      = "alerts"
	EntityPreferences = "preferences"
)

// PricePoint is a single observation in an alert's price history.
type PricePoint struct {
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// PriceHistory stores the most recent price observations as a JSON column.
// It is capped at MaxPriceHistory entries (oldest dropped first).
type PriceHistory []PricePoint

// MaxPriceHistory bounds the number of retained observations per alert.
const MaxPriceHistory = 30

// Value implements driver.Valuer, serializing the history as JSON.
func (h PriceHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner, deserializing the JSON column.
func (h *PriceHistory) Scan(src any) error {
	if src == nil {
		*h = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, h)
	case string:
		return json.Unmarshal([]byte(v), h)
	default:
		return errors.New("price history: unsupported column type")
	}
}

// StringList is a JSON-encoded list of strings (e.g. preferred deal sources).
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return errors.New("string list: unsupported column type")
	}
}

// Alert tracks a user's target price for a product query. Price fields are
// mutated only by the evaluator; the user may adjust the target price or
// pause/delete the alert.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: identifier of the alert owner; indexed for retrieval.
//   - ProductQuery: the tracked search query handed to the price source.
//   - TargetPrice: price at or below which the alert triggers.
//   - OriginalPrice: price observed when the alert was created.
//   - CurrentPrice: last observed price (nil until first evaluation).
//   - LowestPrice: running minimum over all observations; never increases.
//   - PriceDropPercent: (original - current) / original * 100, clamped at 0.
//   - Status: "active" or "triggered".
//   - TriggeredAt: set exactly once on the active → triggered transition.
//   - Version: optimistic-lock counter guarding concurrent evaluations.
type Alert struct {
	ID           string `json:"id"            gorm:"type:char(36);primaryKey"`
	UserID       string `json:"user_id"       gorm:"type:varchar(64);not null;index:idx_user_alerts"`
	ProductQuery string `json:"product_query" gorm:"type:varchar(500);not null"`
	ProductName  string `json:"product_name"  gorm:"type:varchar(255)"`
	ProductImage string `json:"product_image" gorm:"type:varchar(1000)"`
	ProductURL   string `json:"product_url"   gorm:"type:varchar(2000)"`

	TargetPrice      float64  `json:"target_price"       gorm:"not null"`
	OriginalPrice    float64  `json:"original_price"     gorm:"not null"`
	CurrentPrice     *float64 `json:"current_price"`
	LowestPrice      *float64 `json:"lowest_price"`
	PriceDropPercent float64  `json:"price_drop_percent"`
	Currency         string   `json:"currency" gorm:"type:char(3);not null;default:'USD'"`

	Status   string `json:"status"    gorm:"type:varchar(20);not null;default:'active';index"`
	IsActive bool   `json:"is_active" gorm:"not null;default:true;index:idx_user_alerts"`

	LastCheckedAt    *time.Time `json:"last_checked_at"`
	TriggeredAt      *time.Time `json:"triggered_at"`
	NotificationSent bool       `json:"notification_sent" gorm:"not null;default:false"`

	PriceHistory PriceHistory `json:"price_history" gorm:"type:text"`

	// Version guards concurrent evaluator sweeps: updates are conditional on
	// the version read, so same-record writes serialize while distinct alerts
	// evaluate in parallel.
	Version int64 `json:"-" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"index"`
}

// TableName returns the database table name for Alert.
func (Alert) TableName() string { return "alerts" }

// Triggered reports whether the alert has reached its target price.
func (a *Alert) Triggered() bool { return a.Status == AlertStatusTriggered }

// Favorite is an immutable snapshot of a deal the user chose to save. The
// snapshot fields are denormalized at save time so the favorite stays
// renderable even after the originating deal disappears from its source.
//
// DealID comes from the external affiliate record and follows the
// "{source_prefix}_{opaque_id}" convention (e.g. "cj_8841023").
type Favorite struct {
	ID     string `json:"id"      gorm:"type:char(36);primaryKey"`
	UserID string `json:"user_id" gorm:"type:varchar(64);not null;index;uniqueIndex:ux_user_deal"`
	DealID string `json:"deal_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_user_deal"`

	// Snapshot of the deal's display fields, captured once at save time.
	Title    string  `json:"title"     gorm:"type:varchar(255);not null"`
	Price    float64 `json:"price"     gorm:"not null"`
	ImageURL string  `json:"image_url" gorm:"type:varchar(1000)"`
	Source   string  `json:"source"    gorm:"type:varchar(64)"`
	URL      string  `json:"url"       gorm:"type:varchar(2000)"`

	CreatedAt time.Time `json:"saved_at"`
	UpdatedAt time.Time `json:"-" gorm:"index"`
}

// TableName returns the database table name for Favorite.
func (Favorite) TableName() string { return "favorites" }

// Preferences holds per-user mobile settings, synced across devices. One row
// per user; created on first access with defaults.
type Preferences struct {
	UserID string `json:"-" gorm:"type:varchar(64);primaryKey"`

	PushEnabled      bool `json:"push_enabled"       gorm:"not null;default:true"`
	PushDeals        bool `json:"push_deals"         gorm:"not null;default:true"`
	PushPriceAlerts  bool `json:"push_price_alerts"  gorm:"not null;default:true"`
	PushWeeklyDigest bool `json:"push_weekly_digest" gorm:"not null;default:false"`

	Theme    string `json:"theme"    gorm:"type:varchar(10);not null;default:'system'"`
	Currency string `json:"currency" gorm:"type:char(3);not null;default:'USD'"`
	Language string `json:"language" gorm:"type:varchar(10);not null;default:'en'"`

	DefaultSort      string     `json:"default_sort"      gorm:"type:varchar(20);not null;default:'relevance'"`
	ShowSoldItems    bool       `json:"show_sold_items"   gorm:"not null;default:false"`
	PreferredSources StringList `json:"preferred_sources" gorm:"type:text"`

	SaveSearchHistory  bool `json:"save_search_history" gorm:"not null;default:true"`
	AnonymousAnalytics bool `json:"anonymous_analytics" gorm:"not null;default:true"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Preferences.
func (Preferences) TableName() string { return "preferences" }

// SyncState tracks, per user and entity type, the last issued sync token and
// a server version counter. It is bookkeeping only: token validity is decided
// by the token itself (signature, scope, expiry), not by this row.
type SyncState struct {
	ID         string `json:"-"           gorm:"type:char(36);primaryKey"`
	UserID     string `json:"-"           gorm:"type:varchar(64);not null;uniqueIndex:ux_user_entity"`
	EntityType string `json:"entity_type" gorm:"type:varchar(20);not null;uniqueIndex:ux_user_entity"`

	SyncToken     string     `json:"sync_token"     gorm:"type:text"`
	LastSyncedAt  *time.Time `json:"last_synced_at"`
	ServerVersion int64      `json:"server_version" gorm:"not null;default:1"`

	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the database table name for SyncState.
func (SyncState) TableName() string { return "sync_states" }

// Tombstone marks a deleted entity so offline clients can drop their local
// copy on the next incremental pull. Tombstones are pruned after a retention
// window longer than any expected client offline period.
type Tombstone struct {
	ID         string    `json:"-"           gorm:"type:char(36);primaryKey"`
	UserID     string    `json:"-"           gorm:"type:varchar(64);not null;uniqueIndex:ux_tombstone"`
	EntityType string    `json:"entity_type" gorm:"type:varchar(20);not null;uniqueIndex:ux_tombstone"`
	EntityID   string    `json:"id"          gorm:"type:varchar(128);not null;uniqueIndex:ux_tombstone"`
	DeletedAt  time.Time `json:"deleted_at"  gorm:"not null;index"`
}

// TableName returns the database table name for Tombstone.
func (Tombstone) TableName() string { return "tombstones" }

// Device is a registered mobile device used for push notification delivery.
// One row per (user, device_id); re-registering updates the push token.
type Device struct {
	ID       string `json:"id"        gorm:"type:char(36);primaryKey"`
	UserID   string `json:"user_id"   gorm:"type:varchar(64);not null;uniqueIndex:ux_user_device"`
	DeviceID string `json:"device_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_user_device"`

	PushToken  string `json:"-"           gorm:"type:varchar(500)"`
	Platform   string `json:"platform"    gorm:"type:varchar(10);not null;check:platform IN ('ios','android')"`
	DeviceName string `json:"device_name" gorm:"type:varchar(255)"`
	AppVersion string `json:"app_version" gorm:"type:varchar(20)"`
	OSVersion  string `json:"os_version"  gorm:"type:varchar(20)"`

	IsActive   bool      `json:"is_active" gorm:"not null;default:true"`
	LastUsedAt time.Time `json:"last_used_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the database table name for Device.
func (Device) TableName() string { return "devices" }
