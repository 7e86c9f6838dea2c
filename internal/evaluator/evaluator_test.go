package evaluator

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/pricesource"
	"github.com/outfi/mobile-sync-backend/internal/repo"
	"github.com/outfi/mobile-sync-backend/internal/services"
)

// ---------- helpers ----------

func newEvalDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "eval_test.db")
	db, err := repo.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

// realAlertRepo satisfies services.AlertRepo with the real persistence layer.
type realAlertRepo struct{}

func (realAlertRepo) CreateAlert(ctx context.Context, db *gorm.DB, a *domain.Alert) error {
	return repo.CreateAlert(ctx, db, a)
}
func (realAlertRepo) ListAlerts(ctx context.Context, db *gorm.DB, userID string, activeOnly bool) ([]domain.Alert, error) {
	return repo.ListAlerts(ctx, db, userID, activeOnly)
}
func (realAlertRepo) GetAlert(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Alert, error) {
	return repo.GetAlert(ctx, db, id, userID)
}
func (realAlertRepo) UpdateAlertFields(ctx context.Context, db *gorm.DB, id, userID string, updates map[string]any) error {
	return repo.UpdateAlertFields(ctx, db, id, userID, updates)
}
func (realAlertRepo) DeleteAlert(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.DeleteAlert(ctx, db, id, userID)
}
func (realAlertRepo) ApplyEvaluation(ctx context.Context, db *gorm.DB, a *domain.Alert, expectedVersion int64) error {
	return repo.ApplyEvaluation(ctx, db, a, expectedVersion)
}
func (realAlertRepo) CreateTombstone(ctx context.Context, db *gorm.DB, userID, entityType, entityID string, deletedAt time.Time) error {
	return repo.CreateTombstone(ctx, db, userID, entityType, entityID, deletedAt)
}

// mapSource returns a fixed price per product query and records lookups.
type mapSource struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  int
}

func (s *mapSource) ObservePrice(_ context.Context, query, _ string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	p, ok := s.prices[query]
	if !ok {
		return 0, pricesource.ErrNoPrice
	}
	return p, nil
}

func seedEvalAlert(t *testing.T, db *gorm.DB, svc *services.AlertService, userID, query string, target, original float64) *domain.Alert {
	t.Helper()
	a, err := svc.Create(context.Background(), userID, services.CreateAlertInput{
		ProductQuery:  query,
		TargetPrice:   target,
		OriginalPrice: original,
	})
	if err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	return a
}

// ---------- SweepOnce ----------

func TestSweepOnce_UpdatesAndTriggers(t *testing.T) {
	db := newEvalDB(t)
	svc := services.NewAlertService(db, realAlertRepo{})

	above := seedEvalAlert(t, db, svc, "u1", "wool coat", 80.00, 120.00)
	below := seedEvalAlert(t, db, svc, "u1", "silk dress", 60.00, 100.00)

	src := &mapSource{prices: map[string]float64{
		"wool coat":  95.50, // above target, stays active
		"silk dress": 55.00, // at or below target, triggers
	}}
	ev := New(db, svc, src, time.Minute, 4, 0)
	ev.SweepOnce(context.Background())

	got, err := svc.Get(context.Background(), "u1", above.ID)
	if err != nil {
		t.Fatalf("get above: %v", err)
	}
	if got.CurrentPrice == nil || *got.CurrentPrice != 95.50 {
		t.Fatalf("expected current price 95.50, got %v", got.CurrentPrice)
	}
	if got.Status != domain.AlertStatusActive {
		t.Fatalf("above-target alert should stay active, got %q", got.Status)
	}
	if got.LastCheckedAt == nil {
		t.Fatalf("last_checked_at not set")
	}

	got, err = svc.Get(context.Background(), "u1", below.ID)
	if err != nil {
		t.Fatalf("get below: %v", err)
	}
	if got.Status != domain.AlertStatusTriggered {
		t.Fatalf("below-target alert should be triggered, got %q", got.Status)
	}
	if got.TriggeredAt == nil {
		t.Fatalf("triggered_at not set")
	}
	if src.calls != 2 {
		t.Fatalf("expected 2 lookups, got %d", src.calls)
	}
}

func TestSweepOnce_NoPriceLeavesAlertUntouched(t *testing.T) {
	db := newEvalDB(t)
	svc := services.NewAlertService(db, realAlertRepo{})
	a := seedEvalAlert(t, db, svc, "u1", "rare sneaker", 50.00, 200.00)

	src := &mapSource{prices: map[string]float64{}} // no listing anywhere
	New(db, svc, src, time.Minute, 2, 0).SweepOnce(context.Background())

	got, err := svc.Get(context.Background(), "u1", a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentPrice != nil || got.LastCheckedAt != nil {
		t.Fatalf("alert should be untouched on lookup miss: %+v", got)
	}
}

func TestSweepOnce_HardLookupErrorDoesNotAbortBatch(t *testing.T) {
	db := newEvalDB(t)
	svc := services.NewAlertService(db, realAlertRepo{})
	seedEvalAlert(t, db, svc, "u1", "wool coat", 80.00, 120.00)
	ok := seedEvalAlert(t, db, svc, "u1", "silk dress", 60.00, 100.00)

	src := &failOnceSource{failQuery: "wool coat", prices: map[string]float64{"silk dress": 70.00}}
	New(db, svc, src, time.Minute, 1, 0).SweepOnce(context.Background())

	got, err := svc.Get(context.Background(), "u1", ok.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentPrice == nil || *got.CurrentPrice != 70.00 {
		t.Fatalf("healthy alert should still be evaluated, got %v", got.CurrentPrice)
	}
}

type failOnceSource struct {
	failQuery string
	prices    map[string]float64
}

func (s *failOnceSource) ObservePrice(_ context.Context, query, _ string) (float64, error) {
	if query == s.failQuery {
		return 0, errors.New("upstream exploded")
	}
	if p, ok := s.prices[query]; ok {
		return p, nil
	}
	return 0, pricesource.ErrNoPrice
}

func TestSweepOnce_SkipsInactiveAndTriggered(t *testing.T) {
	db := newEvalDB(t)
	svc := services.NewAlertService(db, realAlertRepo{})

	paused := seedEvalAlert(t, db, svc, "u1", "wool coat", 80.00, 120.00)
	off := false
	if _, err := svc.Update(context.Background(), "u1", paused.ID, services.UpdateAlertInput{IsActive: &off}); err != nil {
		t.Fatalf("pause alert: %v", err)
	}

	fired := seedEvalAlert(t, db, svc, "u1", "silk dress", 60.00, 100.00)
	if _, err := svc.RecordObservation(context.Background(), "u1", fired.ID, 55.00, time.Now().UTC()); err != nil {
		t.Fatalf("trigger alert: %v", err)
	}

	src := &mapSource{prices: map[string]float64{"wool coat": 10.00, "silk dress": 10.00}}
	New(db, svc, src, time.Minute, 4, 0).SweepOnce(context.Background())

	if src.calls != 0 {
		t.Fatalf("paused and triggered alerts must not be evaluated, got %d lookups", src.calls)
	}
}

func TestSweepOnce_PrunesExpiredTombstones(t *testing.T) {
	db := newEvalDB(t)
	svc := services.NewAlertService(db, realAlertRepo{})
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	if err := repo.CreateTombstone(ctx, db, "u1", domain.EntityAlerts, "dead-1", old); err != nil {
		t.Fatalf("seed old tombstone: %v", err)
	}
	if err := repo.CreateTombstone(ctx, db, "u1", domain.EntityAlerts, "dead-2", time.Now().UTC()); err != nil {
		t.Fatalf("seed fresh tombstone: %v", err)
	}

	src := &mapSource{prices: map[string]float64{}}
	New(db, svc, src, time.Minute, 2, 24*time.Hour).SweepOnce(ctx)

	left, err := repo.ListTombstones(ctx, db, "u1", domain.EntityAlerts, time.Now().UTC().Add(-100*time.Hour), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("list tombstones: %v", err)
	}
	if len(left) != 1 || left[0].EntityID != "dead-2" {
		t.Fatalf("expected only the fresh tombstone to survive, got %+v", left)
	}
}

// gatedSource signals each lookup start and blocks it until release is closed.
type gatedSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *gatedSource) ObservePrice(context.Context, string, string) (float64, error) {
	s.started <- struct{}{}
	<-s.release
	return 0, pricesource.ErrNoPrice
}

func TestSweepOnce_CancelMidBatchWaitsForInFlightWorkers(t *testing.T) {
	db := newEvalDB(t)
	svc := services.NewAlertService(db, realAlertRepo{})
	for _, q := range []string{"wool coat", "silk dress", "denim jacket", "linen shirt"} {
		seedEvalAlert(t, db, svc, "u1", q, 10.00, 50.00)
	}

	src := &gatedSource{started: make(chan struct{}, 4), release: make(chan struct{})}
	ev := New(db, svc, src, time.Minute, 2, 0)

	before := runtime.NumGoroutine()
	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		ev.SweepOnce(ctx)
		close(returned)
	}()

	// Both workers in flight, the launch loop parked on the semaphore.
	<-src.started
	<-src.started
	cancel()
	close(src.release)

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatalf("SweepOnce did not return after cancel")
	}

	// Every launched worker must have exited by now, not be stuck reporting.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before {
		if time.Now().After(deadline) {
			t.Fatalf("worker goroutines still alive after canceled sweep: %d > %d",
				runtime.NumGoroutine(), before)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ---------- Run ----------

func TestRun_StopsOnContextCancel(t *testing.T) {
	db := newEvalDB(t)
	svc := services.NewAlertService(db, realAlertRepo{})
	src := &mapSource{prices: map[string]float64{}}
	ev := New(db, svc, src, 5*time.Millisecond, 2, 0)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		ev.Run(ctx)
		close(stopped)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
