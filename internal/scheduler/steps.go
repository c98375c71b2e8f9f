package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/collector"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/metrics"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/syslog"
)

// stepStats fans the activity-stats collector out over every registered
// target (spec.md §4.7's "stats" loop).
func (s *Scheduler) stepStats(ctx context.Context) {
	s.runFanOut(ctx, "stats", s.collector.CollectStats)
}

// stepSizes fans the size collector out over every registered target.
func (s *Scheduler) stepSizes(ctx context.Context) {
	s.runFanOut(ctx, "sizes", s.collector.CollectSizes)
}

// stepTopology fans the topology-sync collector out over every registered
// target.
func (s *Scheduler) stepTopology(ctx context.Context) {
	s.runFanOut(ctx, "topology", s.collector.SyncTopology)
}

// stepMaintenance runs the daily maintenance tasks: ensure upcoming
// statistics partitions exist, drop expired ones, and purge audit/system-log
// retention (spec.md §4.7's "maintenance" loop).
func (s *Scheduler) stepMaintenance(ctx context.Context) {
	now := time.Now().UTC()
	failed := 0

	if err := s.wh.EnsurePartitions(ctx, now); err != nil {
		failed++
		s.logger.Error("ensuring statistics partitions failed", zap.Error(err))
	}

	retentionMonths := s.settings.GetIntOrDefault(ctx, "retention_months", 12)
	dropped, err := s.wh.DropExpiredPartitions(ctx, int(retentionMonths), now)
	if err != nil {
		failed++
		s.logger.Error("dropping expired partitions failed", zap.Error(err))
	}

	auditRetentionDays := s.settings.GetIntOrDefault(ctx, "audit_retention_days", 90)
	auditPurged, err := s.auditor.PurgeOlderThan(ctx, int(auditRetentionDays))
	if err != nil {
		failed++
		s.logger.Error("purging audit_sessions failed", zap.Error(err))
	}

	logsRetentionDays := s.settings.GetIntOrDefault(ctx, "logs_retention_days", 30)
	logsPurged, err := s.syslog.PurgeOlderThan(ctx, int(logsRetentionDays))
	if err != nil {
		failed++
		s.logger.Error("purging system_log failed", zap.Error(err))
	}

	totalAffected := len(dropped) + int(auditPurged) + int(logsPurged)
	s.logger.Info("maintenance cycle complete",
		zap.Strings("partitions_dropped", dropped),
		zap.Int64("audit_rows_purged", auditPurged),
		zap.Int64("system_log_rows_purged", logsPurged),
	)
	s.writeSystemLog(ctx, "maintenance", totalAffected, failed, nil)
}

// runFanOut lists every registered target, runs op across all of them
// concurrently via collector.FanOut, aggregates the per-target results, and
// emits the system_log entry spec.md §4.7 requires after every cycle
// ("logs aggregate success/error counts per cycle").
func (s *Scheduler) runFanOut(ctx context.Context, loopName string, op func(context.Context, db.Target) collector.Result) {
	targets, err := s.registry.ListTargets(ctx)
	if err != nil {
		s.logger.Error("listing targets failed, skipping cycle", zap.String("loop", loopName), zap.Error(err))
		s.writeSystemLog(ctx, loopName, 0, 1, []string{"listing targets: " + err.Error()})
		return
	}
	metrics.TargetsRegistered.Set(float64(len(targets)))

	results := collector.FanOut(ctx, targets, op)

	var errCount, okCount int
	var errMessages []string
	for _, r := range results {
		if len(r.Errors) > 0 {
			errCount++
			metrics.CycleResultsTotal.WithLabelValues(loopName, "failed").Inc()
			for _, e := range r.Errors {
				errMessages = append(errMessages, r.ServerName+": "+e)
			}
			continue
		}
		okCount++
		metrics.CycleResultsTotal.WithLabelValues(loopName, "ok").Inc()
	}

	s.logger.Info("cycle complete",
		zap.String("loop", loopName),
		zap.Int("targets", len(targets)),
		zap.Int("ok", okCount),
		zap.Int("failed", errCount),
	)
	s.writeSystemLog(ctx, loopName, okCount, errCount, errMessages)
}

// writeSystemLog records a coarse per-cycle summary. errCount > 0 downgrades
// the level to warning; the row itself always succeeds best-effort (a
// logging failure must never be allowed to take down a loop).
func (s *Scheduler) writeSystemLog(ctx context.Context, source string, okCount, errCount int, errMessages []string) {
	level := syslog.LevelInfo
	if errCount > 0 {
		level = syslog.LevelWarning
	}

	details := map[string]any{"ok": okCount, "failed": errCount}
	if len(errMessages) > 0 {
		details["errors"] = errMessages
	}

	if err := s.syslog.Write(ctx, level, source, "cycle complete", details); err != nil {
		s.logger.Warn("writing system_log entry failed", zap.String("source", source), zap.Error(err))
	}
}
