// Package services – PreferenceService
//
// This file implements the PreferenceService, which manages per-user mobile
// settings. The row is created lazily with defaults on first read, and PATCH
// updates validate enum-like fields (theme, sort order) before persisting so
// a bad client cannot poison the synced settings of the user's other devices.
package services

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
)

// PreferenceRepo defines the repository contract required by PreferenceService.
type PreferenceRepo interface {
	// GetOrCreatePreferences returns the row, inserting defaults on first access.
	GetOrCreatePreferences(ctx context.Context, db *gorm.DB, userID string) (*domain.Preferences, error)

	// UpdatePreferences applies column updates and returns the fresh row.
	UpdatePreferences(ctx context.Context, db *gorm.DB, userID string, updates map[string]any) (*domain.Preferences, error)
}

// PreferenceService provides read/update operations over user preferences.
type PreferenceService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the preference repository used by this service.
	Repo PreferenceRepo
}

// NewPreferenceService constructs a PreferenceService.
func NewPreferenceService(db *gorm.DB, r PreferenceRepo) *PreferenceService {
	return &PreferenceService{DB: db, Repo: r}
}

// Get returns the user's preferences, creating defaults on first access.
func (s *PreferenceService) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	return s.Repo.GetOrCreatePreferences(ctx, s.DB, userID)
}

// UpdatePreferencesInput carries a partial preference update. Nil pointers
// mean "leave unchanged".
type UpdatePreferencesInput struct {
	PushEnabled      *bool
	PushDeals        *bool
	PushPriceAlerts  *bool
	PushWeeklyDigest *bool

	Theme    *string
	Currency *string
	Language *string

	DefaultSort      *string
	ShowSoldItems    *bool
	PreferredSources *[]string

	SaveSearchHistory  *bool
	AnonymousAnalytics *bool
}

var (
	validThemes = map[string]bool{"light": true, "dark": true, "system": true}
	validSorts  = map[string]bool{"relevance": true, "price_asc": true, "price_desc": true, "newest": true, "discount": true}
)

// Update applies a partial update after validating enum fields, returning the
// fresh row. Unknown theme or sort values yield ErrInvalidPreference.
func (s *PreferenceService) Update(ctx context.Context, userID string, in UpdatePreferencesInput) (*domain.Preferences, error) {
	updates := map[string]any{}

	if in.PushEnabled != nil {
		updates["push_enabled"] = *in.PushEnabled
	}
	if in.PushDeals != nil {
		updates["push_deals"] = *in.PushDeals
	}
	if in.PushPriceAlerts != nil {
		updates["push_price_alerts"] = *in.PushPriceAlerts
	}
	if in.PushWeeklyDigest != nil {
		updates["push_weekly_digest"] = *in.PushWeeklyDigest
	}
	if in.Theme != nil {
		theme := strings.ToLower(strings.TrimSpace(*in.Theme))
		if !validThemes[theme] {
			return nil, ErrInvalidPreference
		}
		updates["theme"] = theme
	}
	if in.Currency != nil {
		cur := strings.ToUpper(strings.TrimSpace(*in.Currency))
		if len(cur) != 3 {
			return nil, ErrInvalidPreference
		}
		updates["currency"] = cur
	}
	if in.Language != nil {
		lang := strings.ToLower(strings.TrimSpace(*in.Language))
		if lang == "" {
			return nil, ErrInvalidPreference
		}
		updates["language"] = lang
	}
	if in.DefaultSort != nil {
		sort := strings.ToLower(strings.TrimSpace(*in.DefaultSort))
		if !validSorts[sort] {
			return nil, ErrInvalidPreference
		}
		updates["default_sort"] = sort
	}
	if in.ShowSoldItems != nil {
		updates["show_sold_items"] = *in.ShowSoldItems
	}
	if in.PreferredSources != nil {
		updates["preferred_sources"] = domain.StringList(*in.PreferredSources)
	}
	if in.SaveSearchHistory != nil {
		updates["save_search_history"] = *in.SaveSearchHistory
	}
	if in.AnonymousAnalytics != nil {
		updates["anonymous_analytics"] = *in.AnonymousAnalytics
	}

	if len(updates) == 0 {
		// Nothing to change; behave like a read.
		return s.Get(ctx, userID)
	}
	return s.Repo.UpdatePreferences(ctx, s.DB, userID, updates)
}
