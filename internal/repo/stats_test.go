package repo

import (
	"context"
	"testing"
	"time"

	"github.com/outfi/mobile-sync-backend/internal/domain"
)

func TestAlertsStats_EmptyAndPopulated(t *testing.T) {
	db := newRepoDB(t, &domain.Alert{})
	ctx := context.Background()

	count, maxAt, err := AlertsStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("AlertsStats empty: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}

	t1 := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)
	seedAlert(t, db, domain.Alert{ID: "a1", UserID: "u1", ProductQuery: "q", TargetPrice: 1, OriginalPrice: 2, UpdatedAt: t1})
	seedAlert(t, db, domain.Alert{ID: "a2", UserID: "u1", ProductQuery: "q", TargetPrice: 1, OriginalPrice: 2, UpdatedAt: t2})
	seedAlert(t, db, domain.Alert{ID: "ax", UserID: "u2", ProductQuery: "q", TargetPrice: 1, OriginalPrice: 2, UpdatedAt: t2.Add(time.Hour)})

	count, maxAt, err = AlertsStats(ctx, db, "u1")
	if err != nil {
		t.Fatalf("AlertsStats: %v", err)
	}
	if count != 2 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("unexpected stats: count=%d maxAt=%v", count, maxAt)
	}
}

func TestFavoritesStats_EmptyAndPopulated(t *testing.T) {
	db := newRepoDB(t, &domain.Favorite{})
	ctx := context.Background()

	count, maxAt, err := FavoritesStats(ctx, db, "u1")
	if err != nil || count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil, nil), got (%d, %v, %v)", count, maxAt, err)
	}

	t1 := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	f := domain.Favorite{ID: "f1", UserID: "u1", DealID: "d1", Title: "t", Price: 1, UpdatedAt: t1}
	if err := db.Create(&f).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	count, maxAt, err = FavoritesStats(ctx, db, "u1")
	if err != nil || count != 1 || maxAt == nil || !maxAt.Equal(t1) {
		t.Fatalf("unexpected stats: count=%d maxAt=%v err=%v", count, maxAt, err)
	}
}
