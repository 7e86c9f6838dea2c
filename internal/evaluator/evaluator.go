// Package evaluator runs the background price sweep. On every tick it loads
// the alerts that are due for evaluation, resolves a fresh market price for
// each through a pricesource.Source, and folds the observation into the alert
// via the alert service. Stale-version conflicts and lookup misses are
// expected and never abort a sweep; each alert is handled independently.
//
// The sweep also prunes expired sync tombstones so the deletion log does not
// grow without bound.
//
// Functions:
//   - New: construct an Evaluator from its dependencies
//   - (*Evaluator) Run: blocking sweep loop, stops when ctx is canceled
//   - (*Evaluator) SweepOnce: one full sweep pass (exposed for tests/admin)
package evaluator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/outfi/mobile-sync-backend/internal/domain"
	"github.com/outfi/mobile-sync-backend/internal/pricesource"
	"github.com/outfi/mobile-sync-backend/internal/repo"
	"github.com/outfi/mobile-sync-backend/internal/services"
)

// batchSize caps how many alerts a single sweep evaluates. Alerts are picked
// oldest-checked first, so a backlog drains across consecutive sweeps.
const batchSize = 1000

var (
	// sweepAlerts counts evaluated alerts by outcome.
	sweepAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_sweep_alerts_total",
			Help: "Total number of alert evaluations by outcome.",
		},
		[]string{"outcome"}, // updated | triggered | no_price | stale | error
	)

	// sweepDuration records how long a full sweep pass takes.
	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "price_sweep_duration_seconds",
			Help:    "Duration of full price sweep passes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms..~3.4min
		},
	)

	// tombstonesPruned counts sync tombstones removed by retention pruning.
	tombstonesPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_tombstones_pruned_total",
			Help: "Total number of expired sync tombstones deleted.",
		},
	)
)

func init() {
	prometheus.MustRegister(sweepAlerts, sweepDuration, tombstonesPruned)
}

// Evaluator sweeps active alerts against current market prices.
type Evaluator struct {
	db     *gorm.DB
	alerts *services.AlertService
	source pricesource.Source

	interval  time.Duration
	workers   int
	retention time.Duration
}

// New constructs an Evaluator. workers bounds concurrent price lookups per
// sweep; retention is how long sync tombstones are kept before pruning.
func New(db *gorm.DB, alerts *services.AlertService, source pricesource.Source, interval time.Duration, workers int, retention time.Duration) *Evaluator {
	if workers < 1 {
		workers = 1
	}
	return &Evaluator{
		db:        db,
		alerts:    alerts,
		source:    source,
		interval:  interval,
		workers:   workers,
		retention: retention,
	}
}

// Run executes sweeps on a fixed interval until ctx is canceled. The first
// sweep starts one full interval after Run is called.
func (e *Evaluator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", e.interval).
		Int("workers", e.workers).
		Msg("evaluator: sweep loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("evaluator: sweep loop stopped")
			return
		case <-ticker.C:
			e.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one full pass: evaluate due alerts, then prune tombstones.
func (e *Evaluator) SweepOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		sweepDuration.Observe(time.Since(start).Seconds())
	}()

	alerts, err := repo.ListEvaluableAlerts(ctx, e.db, batchSize)
	if err != nil {
		log.Error().Err(err).Msg("evaluator: list evaluable alerts failed")
		return
	}
	if len(alerts) > 0 {
		e.evaluateAll(ctx, alerts)
	}

	e.pruneTombstones(ctx)
}

// evaluateAll fans the batch out over a bounded pool of workers. The
// semaphore keeps at most e.workers lookups in flight. On cancellation no new
// workers launch, but the ones already in flight are still waited for so no
// write outlives the sweep.
func (e *Evaluator) evaluateAll(ctx context.Context, alerts []domain.Alert) {
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup
	defer wg.Wait()
	for i := range alerts {
		select {
		case <-ctx.Done():
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(a domain.Alert) {
			defer func() {
				<-sem
				wg.Done()
			}()
			e.evaluateOne(ctx, a)
		}(alerts[i])
	}
}

func (e *Evaluator) evaluateOne(ctx context.Context, a domain.Alert) {
	price, err := e.source.ObservePrice(ctx, a.ProductQuery, a.ProductURL)
	if err != nil {
		if errors.Is(err, pricesource.ErrNoPrice) {
			sweepAlerts.WithLabelValues("no_price").Inc()
			return
		}
		sweepAlerts.WithLabelValues("error").Inc()
		log.Warn().Err(err).
			Str("alert_id", a.ID).
			Str("user_id", a.UserID).
			Msg("evaluator: price lookup failed")
		return
	}

	updated, err := e.alerts.RecordObservation(ctx, a.UserID, a.ID, price, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrStaleVersion):
			// Lost the race after all retries; the next sweep picks it up.
			sweepAlerts.WithLabelValues("stale").Inc()
		case errors.Is(err, services.ErrAlertNotFound):
			// Deleted between listing and evaluation.
			sweepAlerts.WithLabelValues("stale").Inc()
		default:
			sweepAlerts.WithLabelValues("error").Inc()
			log.Warn().Err(err).
				Str("alert_id", a.ID).
				Str("user_id", a.UserID).
				Msg("evaluator: record observation failed")
		}
		return
	}

	if updated.Triggered() && !a.Triggered() {
		sweepAlerts.WithLabelValues("triggered").Inc()
		log.Info().
			Str("alert_id", updated.ID).
			Str("user_id", updated.UserID).
			Float64("price", price).
			Float64("target_price", updated.TargetPrice).
			Msg("evaluator: alert triggered")
		return
	}
	sweepAlerts.WithLabelValues("updated").Inc()
}

func (e *Evaluator) pruneTombstones(ctx context.Context) {
	if e.retention <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-e.retention)
	n, err := repo.PruneTombstones(ctx, e.db, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("evaluator: tombstone pruning failed")
		return
	}
	if n > 0 {
		tombstonesPruned.Add(float64(n))
		log.Debug().Int64("pruned", n).Msg("evaluator: tombstones pruned")
	}
}
