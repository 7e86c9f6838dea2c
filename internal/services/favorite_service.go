// Package services – FavoriteService
//
// This file implements the FavoriteService, which manages saved deals.
// A favorite is an immutable snapshot captured at save time: re-saving the
// same deal is a no-op that returns the original snapshot, and removal writes
// a tombstone so offline clients converge.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/repo"
)

// FavoriteRepo defines the repository contract required by FavoriteService.
type FavoriteRepo interface {
	// CreateFavorite inserts a snapshot; repo.ErrDuplicate on re-save.
	CreateFavorite(ctx context.Context, db *gorm.DB, f *domain.Favorite) error

	// ListFavorites returns the user's favorites, newest first.
	ListFavorites(ctx context.Context, db *gorm.DB, userID string) ([]domain.Favorite, error)

	// GetFavoriteByDeal fetches the favorite for a deal.
	GetFavoriteByDeal(ctx context.Context, db *gorm.DB, userID, dealID string) (*domain.Favorite, error)

	// DeleteFavoriteByDeal removes the favorite, returning its row ID.
	DeleteFavoriteByDeal(ctx context.Context, db *gorm.DB, userID, dealID string) (string, error)

	// CreateTombstone records a deletion for offline clients.
	CreateTombstone(ctx context.Context, db *gorm.DB, userID, entityType, entityID string, deletedAt time.Time) error
}

// FavoriteService provides save/list/remove operations over deal snapshots.
type FavoriteService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the favorite repository used by this service.
	Repo FavoriteRepo
}

// NewFavoriteService constructs a FavoriteService.
func NewFavoriteService(db *gorm.DB, r FavoriteRepo) *FavoriteService {
	return &FavoriteService{DB: db, Repo: r}
}

// SaveFavoriteInput carries the deal snapshot fields captured at save time.
type SaveFavoriteInput struct {
	DealID   string
	Title    string
	Price    float64
	ImageURL string
	Source   string
	URL      string
}

// Save stores a snapshot of the deal for userID. Saving a deal the user has
// already saved is a no-op: the original snapshot is returned unchanged, and
// the created flag reports false.
func (s *FavoriteService) Save(ctx context.Context, userID string, in SaveFavoriteInput) (*domain.Favorite, bool, error) {
	dealID := strings.TrimSpace(in.DealID)
	if dealID == "" {
		return nil, false, ErrEmptyDealID
	}
	f := &domain.Favorite{
		UserID:   userID,
		DealID:   dealID,
		Title:    strings.TrimSpace(in.Title),
		Price:    round2(in.Price),
		ImageURL: in.ImageURL,
		Source:   in.Source,
		URL:      in.URL,
	}
	err := s.Repo.CreateFavorite(ctx, s.DB, f)
	if err == nil {
		return f, true, nil
	}
	if !errors.Is(err, repo.ErrDuplicate) {
		return nil, false, err
	}
	existing, gErr := s.Repo.GetFavoriteByDeal(ctx, s.DB, userID, dealID)
	if gErr != nil {
		return nil, false, gErr
	}
	return existing, false, nil
}

// List returns all favorites for a user, newest first.
func (s *FavoriteService) List(ctx context.Context, userID string) ([]domain.Favorite, error) {
	return s.Repo.ListFavorites(ctx, s.DB, userID)
}

// Remove deletes the favorite for a deal and records a tombstone in the same
// transaction. Removing a deal that was never saved returns
// ErrFavoriteNotFound.
func (s *FavoriteService) Remove(ctx context.Context, userID, dealID string) error {
	dealID = strings.TrimSpace(dealID)
	if dealID == "" {
		return ErrEmptyDealID
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rowID, err := s.Repo.DeleteFavoriteByDeal(ctx, tx, userID, dealID)
		if err != nil {
			return err
		}
		return s.Repo.CreateTombstone(ctx, tx, userID, domain.EntityFavorites, rowID, time.Now().UTC())
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrFavoriteNotFound
	}
	return err
}
