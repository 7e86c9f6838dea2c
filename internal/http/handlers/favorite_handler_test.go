package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/services"
)

func favoriteHandlers(favSvc FavoriteService) *Handlers {
	return New(&stubAlertSvc{}, favSvc, &stubPrefSvc{}, &stubDevSvc{}, &stubSyncSvc{})
}

func TestSaveFavorite_CreatedVsReplayedStatus(t *testing.T) {
	snapshot := &domain.Favorite{ID: "f1", DealID: "vinted-1", Title: "Wool overcoat", Price: 34.50}
	created := true
	svc := &stubFavSvc{saveFn: func(_ context.Context, _ string, in services.SaveFavoriteInput) (*domain.Favorite, bool, error) {
		if in.DealID != "vinted-1" {
			t.Fatalf("deal id not forwarded: %q", in.DealID)
		}
		if in.Title != "Wool overcoat" || in.Price != 34.50 || in.Source != "vinted" {
			t.Fatalf("deal_data snapshot not forwarded: %+v", in)
		}
		c := created
		created = false // second save is a no-op
		return snapshot, c, nil
	}}
	r := newTestRouter(favoriteHandlers(svc))
	payload := gin.H{
		"deal_id":   "vinted-1",
		"deal_data": gin.H{"title": "Wool overcoat", "price": 34.50, "source": "vinted"},
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(t, http.MethodPost, "/favorites", payload))
	if w.Code != http.StatusCreated {
		t.Fatalf("first save status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(t, http.MethodPost, "/favorites", payload))
	if w.Code != http.StatusOK {
		t.Fatalf("re-save status=%d, want 200", w.Code)
	}
	var f domain.Favorite
	if err := json.Unmarshal(w.Body.Bytes(), &f); err != nil {
		t.Fatalf("json: %v", err)
	}
	if f.Title != "Wool overcoat" {
		t.Fatalf("expected original snapshot back, got %+v", f)
	}
}

func TestSaveFavorite_BadPayload(t *testing.T) {
	svc := &stubFavSvc{saveFn: func(_ context.Context, _ string, _ services.SaveFavoriteInput) (*domain.Favorite, bool, error) {
		t.Fatalf("service must not be called on invalid payload")
		return nil, false, nil
	}}
	r := newTestRouter(favoriteHandlers(svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(t, http.MethodPost, "/favorites", gin.H{"deal_data": gin.H{"title": "no deal id"}}))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestListFavorites(t *testing.T) {
	svc := &stubFavSvc{listFn: func(_ context.Context, userID string) ([]domain.Favorite, error) {
		if userID != "user123" {
			t.Fatalf("user not forwarded: %q", userID)
		}
		return []domain.Favorite{{ID: "f1"}, {ID: "f2"}, {ID: "f3"}}, nil
	}}
	r := newTestRouter(favoriteHandlers(svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(t, http.MethodGet, "/favorites", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ListFavoritesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Total != 3 {
		t.Fatalf("unexpected total: %d", resp.Total)
	}
}

func TestRemoveFavorite_SuccessAndNotFound(t *testing.T) {
	svc := &stubFavSvc{removeFn: func(_ context.Context, _, dealID string) error {
		if dealID == "vinted-1" {
			return nil
		}
		return services.ErrFavoriteNotFound
	}}
	r := newTestRouter(favoriteHandlers(svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(t, http.MethodDelete, "/favorites/vinted-1", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, jsonReq(t, http.MethodDelete, "/favorites/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}
