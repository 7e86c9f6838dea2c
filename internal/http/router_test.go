package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/outfi/mobile-sync-backend/internal/config"
	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/http/middleware"
	"github.com/outfi/mobile-sync-backend/internal/services"
	"github.com/outfi/mobile-sync-backend/internal/synctoken"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T, dsn string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// schema so handlers don't explode on list endpoints
	if err := db.AutoMigrate(
		&domain.Alert{}, &domain.Favorite{}, &domain.Preferences{},
		&domain.SyncState{}, &domain.Tombstone{}, &domain.Device{}, &domain.Idempotency{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestCodec(t *testing.T) *synctoken.Codec {
	t.Helper()
	codec, err := synctoken.NewCodec("router-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return codec
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{AllowedOrigins: nil}, // triggers AllowAllOrigins branch
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Sync:        config.SyncConfig{PageLimit: 500},
	}
	db := newTestDB(t, "file:routerdb?mode=memory&cache=shared")

	RegisterRoutes(r, db, newTestCodec(t), cfg)

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/v2",
		RateRPS:     50,
		RateBurst:   5,
		CORS:        config.CORSConfig{AllowedOrigins: []string{"http://example.com"}},
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
		Sync:        config.SyncConfig{PageLimit: 500},
	}
	db := newTestDB(t, "file:routerdb2?mode=memory&cache=shared")

	RegisterRoutes(r, db, newTestCodec(t), cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

// End-to-end: create an alert through the full middleware pipeline, list it,
// save a favorite, then run a sync pull that returns both.
func TestRegisterRoutes_AlertsAndSyncFlow(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   50,
		CORS:        config.CORSConfig{},
		Security:    config.SecurityConfig{},
		OTEL:        config.OTELConfig{ServiceName: "svc"},
		Sync:        config.SyncConfig{PageLimit: 500},
	}
	db := newTestDB(t, "file:routerdb_flow?mode=memory&cache=shared")
	RegisterRoutes(r, db, newTestCodec(t), cfg)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatalf("encode: %v", err)
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User-ID", "flow-user")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	// Create an alert.
	w := do(http.MethodPost, "/api/v1/alerts", gin.H{
		"product_query":  "leather ankle boots",
		"target_price":   59.99,
		"original_price": 89.99,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create alert = %d body=%s", w.Code, w.Body.String())
	}
	var created domain.Alert
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("json: %v", err)
	}
	if created.ID == "" || created.Status != domain.AlertStatusActive {
		t.Fatalf("unexpected alert: %+v", created)
	}

	// List it back.
	w = do(http.MethodGet, "/api/v1/alerts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list alerts = %d", w.Code)
	}

	// Save a favorite.
	w = do(http.MethodPost, "/api/v1/favorites", gin.H{
		"deal_id": "vinted-1",
		"deal_data": gin.H{
			"title": "Wool overcoat", "price": 34.50, "source": "vinted",
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("save favorite = %d body=%s", w.Code, w.Body.String())
	}

	// Full sync returns both types plus preferences, keyed at the top level.
	w = do(http.MethodPost, "/api/v1/sync", gin.H{"full_sync": true})
	if w.Code != http.StatusOK {
		t.Fatalf("sync pull = %d body=%s", w.Code, w.Body.String())
	}
	var pull services.PullResult
	if err := json.Unmarshal(w.Body.Bytes(), &pull); err != nil {
		t.Fatalf("json: %v", err)
	}
	if pull.HasConflicts {
		t.Fatalf("full sync should not report conflicts")
	}
	for _, et := range []string{domain.EntityAlerts, domain.EntityFavorites, domain.EntityPreferences} {
		if _, okType := pull.Results[et]; !okType {
			t.Fatalf("sync results missing %q: %s", et, w.Body.String())
		}
	}

	// Sync status now has bookkeeping rows.
	w = do(http.MethodGet, "/api/v1/sync/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync status = %d", w.Code)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}

// Smoke test that a request traverses idempotency + ratelimit + otel + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{},                                            // allow-all branch
		Security:    config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}, // enabled (but only set on https)
		OTEL:        config.OTELConfig{ServiceName: "svc"},
		Sync:        config.SyncConfig{PageLimit: 500},
	}
	db := newTestDB(t, "file:routerdb_smoke?mode=memory&cache=shared")
	RegisterRoutes(r, db, newTestCodec(t), cfg)

	// Any request goes through the middleware stack
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	// simulate https so HSTS could be eligible if middleware checks scheme
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func Test_repoShims_Proxy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t, "file:routerdb_shims?mode=memory&cache=shared")
	ctx := context.Background()

	// --- alertRepoShim ---
	alerts := alertRepoShim{}
	a := &domain.Alert{
		UserID:        "u1",
		ProductQuery:  "wool coat",
		ProductName:   "Wool Coat",
		TargetPrice:   80,
		OriginalPrice: 120,
		Currency:      "USD",
		IsActive:      true,
		Status:        domain.AlertStatusActive,
		Version:       1,
	}
	if err := alerts.CreateAlert(ctx, db, a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if a.ID == "" {
		t.Fatalf("CreateAlert did not assign an ID")
	}
	got, err := alerts.GetAlert(ctx, db, a.ID, "u1")
	if err != nil || got.ProductQuery != "wool coat" {
		t.Fatalf("GetAlert: %v %+v", err, got)
	}
	all, err := alerts.ListAlerts(ctx, db, "u1", false)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListAlerts: %v len=%d", err, len(all))
	}
	if err := alerts.UpdateAlertFields(ctx, db, a.ID, "u1", map[string]any{"target_price": 70.0}); err != nil {
		t.Fatalf("UpdateAlertFields: %v", err)
	}
	if err := alerts.DeleteAlert(ctx, db, a.ID, "u1"); err != nil {
		t.Fatalf("DeleteAlert: %v", err)
	}
	if err := alerts.CreateTombstone(ctx, db, "u1", domain.EntityAlerts, a.ID, time.Now().UTC()); err != nil {
		t.Fatalf("CreateTombstone: %v", err)
	}

	// --- favoriteRepoShim ---
	favs := favoriteRepoShim{}
	f := &domain.Favorite{UserID: "u1", DealID: "d1", Title: "Coat", Price: 30}
	if err := favs.CreateFavorite(ctx, db, f); err != nil {
		t.Fatalf("CreateFavorite: %v", err)
	}
	if _, err := favs.GetFavoriteByDeal(ctx, db, "u1", "d1"); err != nil {
		t.Fatalf("GetFavoriteByDeal: %v", err)
	}
	if lst, err := favs.ListFavorites(ctx, db, "u1"); err != nil || len(lst) != 1 {
		t.Fatalf("ListFavorites: %v", err)
	}
	if _, err := favs.DeleteFavoriteByDeal(ctx, db, "u1", "d1"); err != nil {
		t.Fatalf("DeleteFavoriteByDeal: %v", err)
	}

	// --- preferenceRepoShim ---
	prefs := preferenceRepoShim{}
	if _, err := prefs.GetOrCreatePreferences(ctx, db, "u1"); err != nil {
		t.Fatalf("GetOrCreatePreferences: %v", err)
	}
	if p, err := prefs.UpdatePreferences(ctx, db, "u1", map[string]any{"theme": "dark"}); err != nil || p.Theme != "dark" {
		t.Fatalf("UpdatePreferences: %v %+v", err, p)
	}

	// --- deviceRepoShim ---
	devs := deviceRepoShim{}
	d, err := devs.UpsertDevice(ctx, db, &domain.Device{UserID: "u1", DeviceID: "dev1", Platform: "ios", IsActive: true})
	if err != nil || d.ID == "" {
		t.Fatalf("UpsertDevice: %v %+v", err, d)
	}
	if lst, err := devs.ListDevices(ctx, db, "u1"); err != nil || len(lst) != 1 {
		t.Fatalf("ListDevices: %v", err)
	}
	if err := devs.DeactivateDevice(ctx, db, "u1", "dev1"); err != nil {
		t.Fatalf("DeactivateDevice: %v", err)
	}

	// --- syncRepoShim ---
	sync := syncRepoShim{}
	until := time.Now().UTC().Add(time.Hour)
	after := time.Now().UTC().Add(-time.Hour)
	if n, err := sync.CountFavorites(ctx, db, "u1"); err != nil || n != 0 {
		t.Fatalf("CountFavorites: %v n=%d", err, n)
	}
	if _, err := sync.ListAlertsDelta(ctx, db, "u1", after, until, 10); err != nil {
		t.Fatalf("ListAlertsDelta: %v", err)
	}
	if _, err := sync.ListTombstones(ctx, db, "u1", domain.EntityAlerts, after, until); err != nil {
		t.Fatalf("ListTombstones: %v", err)
	}
	if err := sync.UpsertSyncState(ctx, db, "u1", domain.EntityAlerts, "tok", time.Now().UTC()); err != nil {
		t.Fatalf("UpsertSyncState: %v", err)
	}
	if st, err := sync.GetSyncState(ctx, db, "u1", domain.EntityAlerts); err != nil || st.ServerVersion != 1 {
		t.Fatalf("GetSyncState: %v %+v", err, st)
	}
}

func TestRegisterRoutes_IdempotencyCallback_MissAndHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/vX",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{}, // allow-all branch
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "svc"},
		Sync:        config.SyncConfig{PageLimit: 500},
	}
	db := newTestDB(t, "file:routerdb_idem?mode=memory&cache=shared")
	RegisterRoutes(r, db, newTestCodec(t), cfg)

	const userID = "u1"
	const key = "key-hit"

	// --- MISS: record does not exist (executes 'rec == nil' branch) ---
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/health", bytes.NewBufferString("{}"))
	req.Header.Set("X-User-ID", userID)
	req.Header.Set(middleware.HeaderIdempotencyKey, key)
	r.ServeHTTP(w, req)
	// NoMethod is expected for POST /health, but middleware ran.

	// --- seed an idempotency record so the callback returns non-nil ---
	seed := &domain.Idempotency{
		ID:         "idem-seed-1",
		UserID:     userID,
		Scope:      "health", // scopeFromRoute falls back to the raw path here
		Key:        key,
		ResourceID: "a-1",
		Status:     1,
		// ensure it's considered valid "now"
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := db.Create(seed).Error; err != nil {
		t.Fatalf("seed idempotency: %v", err)
	}

	// --- HIT: record exists (executes 'return true, nil' branch) ---
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", bytes.NewBufferString("{}"))
	req.Header.Set("X-User-ID", userID)
	req.Header.Set(middleware.HeaderIdempotencyKey, key)
	r.ServeHTTP(w, req)
	// again, 405 is fine; goal is to drive the middleware branch.
}

func TestRegisterRoutes_IdempotencyCallback_ErrorBranch(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{}, // allow-all branch
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "svc"},
		Sync:        config.SyncConfig{PageLimit: 500},
	}

	db := newTestDB(t, "file:routerdb_err?mode=memory&cache=shared")

	// Wire routes first...
	RegisterRoutes(r, db, newTestCodec(t), cfg)

	// ...then force queries to fail by closing the underlying connection.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	_ = sqlDB.Close()

	// Now any repo.GetIdempotency call should error → drives (err != nil) branch.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/health", bytes.NewBufferString("{}"))
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set(middleware.HeaderIdempotencyKey, "force-error")
	r.ServeHTTP(w, req)

	// 405 is expected for POST /health; goal is to exercise the middleware branch.
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}
