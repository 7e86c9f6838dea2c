// Package services – AlertService
//
// This file implements the AlertService, which manages the lifecycle of price
// alerts. It validates and normalizes product queries, enforces ownership
// rules, and coordinates repository operations for creating, listing,
// updating, deleting, and evaluating alerts.
//
// Evaluation is the heart of the service: RecordObservation folds a fresh
// price observation into an alert, maintaining the running lowest price,
// the clamped drop percentage, the capped observation history, and the
// one-way active → triggered transition. Persistence is optimistic: the
// version column guards against concurrent sweeps, and stale writes are
// retried against a fresh read.
//
// Service-level errors (e.g., ErrAlertNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/repo"
)

// evalRetries bounds how often a stale-version write is retried before the
// observation is given up for this sweep.
const evalRetries = 3

// AlertRepo defines the repository contract required by AlertService.
// Implementations are responsible for persistence of alert aggregates.
type AlertRepo interface {
	// CreateAlert inserts a new alert row.
	CreateAlert(ctx context.Context, db *gorm.DB, a *domain.Alert) error

	// ListAlerts returns the user's alerts, optionally active-only.
	ListAlerts(ctx context.Context, db *gorm.DB, userID string, activeOnly bool) ([]domain.Alert, error)

	// GetAlert fetches an alert by ID ensuring it belongs to the user.
	GetAlert(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Alert, error)

	// UpdateAlertFields applies user-editable column updates.
	UpdateAlertFields(ctx context.Context, db *gorm.DB, id, userID string, updates map[string]any) error

	// DeleteAlert hard-deletes an alert owned by the user.
	DeleteAlert(ctx context.Context, db *gorm.DB, id, userID string) error

	// ApplyEvaluation persists evaluator-owned fields under a version check.
	ApplyEvaluation(ctx context.Context, db *gorm.DB, a *domain.Alert, expectedVersion int64) error

	// CreateTombstone records a deletion for offline clients.
	CreateTombstone(ctx context.Context, db *gorm.DB, userID, entityType, entityID string, deletedAt time.Time) error
}

// AlertService provides alert-level operations: CRUD for the HTTP API and
// observation folding for the evaluator sweep.
type AlertService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the alert repository used by this service.
	Repo AlertRepo

	// QueryMaxLen caps stored product queries by rune length.
	QueryMaxLen int
	// NameLocale selects the casing rules for derived product names.
	NameLocale language.Tag
}

// NewAlertService constructs an AlertService with sane defaults.
func NewAlertService(db *gorm.DB, r AlertRepo) *AlertService {
	return &AlertService{
		DB:          db,
		Repo:        r,
		QueryMaxLen: 200,
		NameLocale:  language.Und,
	}
}

// CreateAlertInput carries the user-supplied fields for a new alert.
type CreateAlertInput struct {
	ProductQuery  string
	ProductName   string
	ProductImage  string
	ProductURL    string
	TargetPrice   float64
	OriginalPrice float64
	Currency      string
}

// Create inserts a new alert owned by userID. The product query is
// normalized and clipped; when no display name is given one is derived from
// the query. Prices must be positive. A target at or above the current market
// price is allowed and simply triggers on the first evaluation.
func (s *AlertService) Create(ctx context.Context, userID string, in CreateAlertInput) (*domain.Alert, error) {
	query := normalizeQuery(in.ProductQuery)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if in.TargetPrice <= 0 || in.OriginalPrice <= 0 {
		return nil, ErrInvalidPrice
	}

	name := strings.TrimSpace(in.ProductName)
	if name == "" {
		name = cases.Title(s.nameLocaleOrDefault()).String(query)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "USD"
	}

	a := &domain.Alert{
		UserID:        userID,
		ProductQuery:  s.clip(query),
		ProductName:   name,
		ProductImage:  in.ProductImage,
		ProductURL:    in.ProductURL,
		TargetPrice:   round2(in.TargetPrice),
		OriginalPrice: round2(in.OriginalPrice),
		Currency:      currency,
		Status:        domain.AlertStatusActive,
		IsActive:      true,
	}
	if err := s.Repo.CreateAlert(ctx, s.DB, a); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns the user's alerts, optionally filtered to enabled ones.
func (s *AlertService) List(ctx context.Context, userID string, activeOnly bool) ([]domain.Alert, error) {
	return s.Repo.ListAlerts(ctx, s.DB, userID, activeOnly)
}

// Get fetches a single alert, mapping missing rows to ErrAlertNotFound.
func (s *AlertService) Get(ctx context.Context, userID, alertID string) (*domain.Alert, error) {
	a, err := s.Repo.GetAlert(ctx, s.DB, alertID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAlertNotFound
	}
	return a, err
}

// UpdateAlertInput carries the user-editable fields of a PATCH. Nil pointers
// mean "leave unchanged".
type UpdateAlertInput struct {
	TargetPrice *float64
	IsActive    *bool
}

// Update applies a partial update to an alert and returns the fresh row.
// Evaluator-owned fields (prices, status, history) are not user-editable.
func (s *AlertService) Update(ctx context.Context, userID, alertID string, in UpdateAlertInput) (*domain.Alert, error) {
	updates := map[string]any{}
	if in.TargetPrice != nil {
		if *in.TargetPrice <= 0 {
			return nil, ErrInvalidPrice
		}
		updates["target_price"] = round2(*in.TargetPrice)
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}
	if len(updates) == 0 {
		return nil, ErrNoUpdatableFields
	}

	if err := s.Repo.UpdateAlertFields(ctx, s.DB, alertID, userID, updates); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, err
	}
	return s.Get(ctx, userID, alertID)
}

// Delete removes an alert and records a tombstone in the same transaction so
// offline clients drop their local copy on the next pull.
func (s *AlertService) Delete(ctx context.Context, userID, alertID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Repo.DeleteAlert(ctx, tx, alertID, userID); err != nil {
			return err
		}
		return s.Repo.CreateTombstone(ctx, tx, userID, domain.EntityAlerts, alertID, time.Now().UTC())
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAlertNotFound
	}
	return err
}

// RecordObservation folds a fresh price observation into the alert and
// persists it. The fold:
//
//   - sets the current price and last-checked time,
//   - lowers (never raises) the running lowest price,
//   - recomputes the drop percent against the original price, clamped at 0,
//   - appends to the observation history, dropping the oldest past the cap,
//   - transitions active → triggered when the target is reached, stamping
//     triggered_at exactly once.
//
// Persistence is conditional on the version read; a concurrent sweep winning
// the write triggers a re-read and bounded retry.
func (s *AlertService) RecordObservation(ctx context.Context, userID, alertID string, price float64, observedAt time.Time) (*domain.Alert, error) {
	if price <= 0 {
		return nil, ErrInvalidPrice
	}
	price = round2(price)
	observedAt = observedAt.UTC()

	var lastErr error
	for attempt := 0; attempt < evalRetries; attempt++ {
		a, err := s.Repo.GetAlert(ctx, s.DB, alertID, userID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrAlertNotFound
			}
			return nil, err
		}

		readVersion := a.Version
		foldObservation(a, price, observedAt)

		err = s.Repo.ApplyEvaluation(ctx, s.DB, a, readVersion)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, repo.ErrStaleVersion) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// foldObservation applies a single observation to a in memory. Persisting the
// result (and bumping the version) is the caller's job.
func foldObservation(a *domain.Alert, price float64, observedAt time.Time) {
	a.CurrentPrice = &price
	a.LastCheckedAt = &observedAt

	if a.LowestPrice == nil || price < *a.LowestPrice {
		low := price
		a.LowestPrice = &low
	}

	drop := (a.OriginalPrice - price) / a.OriginalPrice * 100
	if drop < 0 {
		drop = 0
	}
	a.PriceDropPercent = round2(drop)

	a.PriceHistory = append(a.PriceHistory, domain.PricePoint{Price: price, ObservedAt: observedAt})
	if len(a.PriceHistory) > domain.MaxPriceHistory {
		a.PriceHistory = a.PriceHistory[len(a.PriceHistory)-domain.MaxPriceHistory:]
	}

	if a.Status == domain.AlertStatusActive && price <= a.TargetPrice {
		a.Status = domain.AlertStatusTriggered
		at := observedAt
		a.TriggeredAt = &at
	}
}

// clip truncates a product query to the configured maximum rune length.
func (s *AlertService) clip(q string) string {
	if s.QueryMaxLen > 0 && utf8.RuneCountInString(q) > s.QueryMaxLen {
		return string([]rune(q)[:s.QueryMaxLen])
	}
	return q
}

// nameLocaleOrDefault returns the configured locale, defaulting to English.
func (s *AlertService) nameLocaleOrDefault() language.Tag {
	if s.NameLocale == language.Und {
		return language.English
	}
	return s.NameLocale
}

// round2 rounds a price or percentage to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// normalizeQuery trims whitespace and collapses multiple spaces to one.
func normalizeQuery(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
