// Package scheduler drives the four independent periodic loops named in
// spec.md §4.7: stats, sizes, topology, and daily maintenance. Each loop
// waits 10s on start, then alternates step() and sleep(interval), re-reading
// its interval from the Warehouse settings on every iteration so operator
// changes take effect without a restart.
//
// This replaces the teacher's gocron-based, per-policy backup scheduler
// entirely — there is no equivalent concept here (no ad-hoc per-entity
// schedules, just four fixed loops) — but keeps its habits: one loop per
// concern, structured per-cycle logging, and cooperative shutdown via
// context cancellation.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/audit"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/collector"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/registry"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/settings"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/syslog"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/warehouse"
)

// startupDelay is the fixed grace period every loop waits before its first
// step (spec.md §4.7).
const startupDelay = 10 * time.Second

// Scheduler owns the four loops and their shared dependencies.
type Scheduler struct {
	registry  *registry.Service
	collector *collector.Collector
	wh        *warehouse.Warehouse
	settings  *settings.Service
	syslog    *syslog.Writer
	auditor   *audit.Recorder
	logger    *zap.Logger
}

// New wires a Scheduler from its dependencies.
func New(reg *registry.Service, col *collector.Collector, wh *warehouse.Warehouse, set *settings.Service, sl *syslog.Writer, aud *audit.Recorder, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		registry:  reg,
		collector: col,
		wh:        wh,
		settings:  set,
		syslog:    sl,
		auditor:   aud,
		logger:    logger.Named("scheduler"),
	}
}

// Run starts all four loops and blocks until ctx is cancelled, returning
// once every loop has exited its current step (spec.md §4.7: "a shutdown
// signal cancels in-flight steps and the loop exits when its current step()
// returns or is aborted").
func (s *Scheduler) Run(ctx context.Context) {
	const loopCount = 4
	done := make(chan struct{}, loopCount)

	go s.loop(ctx, "stats", "collect_interval", 600, s.stepStats, done)
	go s.loop(ctx, "sizes", "size_update_interval", 1800, s.stepSizes, done)
	go s.loop(ctx, "topology", "db_check_interval", 1800, s.stepTopology, done)
	go s.loop(ctx, "maintenance", "", 86400, s.stepMaintenance, done)

	for i := 0; i < loopCount; i++ {
		<-done
	}
	s.logger.Info("scheduler stopped")
}

// loop implements the Idle -> Running -> Idle state machine shared by every
// loop (spec.md §4.7). intervalKey == "" means the loop has no Settings
// override and always runs on defaultInterval (maintenance's daily cadence).
func (s *Scheduler) loop(ctx context.Context, name, intervalKey string, defaultInterval int64, step func(context.Context), done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	select {
	case <-time.After(startupDelay):
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		step(ctx)
		s.logger.Debug("cycle finished", zap.String("loop", name), zap.Duration("took", time.Since(start)))

		interval := defaultInterval
		if intervalKey != "" {
			interval = s.settings.GetIntOrDefault(ctx, intervalKey, defaultInterval)
		}

		select {
		case <-time.After(time.Duration(interval) * time.Second):
		case <-ctx.Done():
			return
		}
	}
}
