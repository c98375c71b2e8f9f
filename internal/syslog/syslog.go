// Package syslog writes the Scheduler's per-cycle operational summary into
// the Warehouse's system_log stream (spec.md §4.7: "emits a system_log
// entry" after every loop iteration, distinct from the zap-structured
// process logs and from the per-target error lists collectors return).
package syslog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/warehouse"
)

// Level mirrors spec.md §6's system_log.level enum.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Writer appends rows to system_log.
type Writer struct {
	wh *warehouse.Warehouse
}

// NewWriter wraps a Warehouse.
func NewWriter(wh *warehouse.Warehouse) *Writer {
	return &Writer{wh: wh}
}

// Write appends one system_log row. details may be nil.
func (w *Writer) Write(ctx context.Context, level Level, source, message string, details map[string]any) error {
	var payload []byte
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			payload = b
		}
	}
	if err := w.wh.InsertSystemLog(ctx, string(level), source, message, payload); err != nil {
		return fmt.Errorf("syslog: write: %w", err)
	}
	return nil
}

// PurgeOlderThan deletes system_log rows older than retentionDays, called
// from the Scheduler's daily maintenance loop.
func (w *Writer) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	n, err := w.wh.PurgeSystemLogOlderThan(ctx, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("syslog: purge: %w", err)
	}
	return n, nil
}

// List returns recent system_log rows, newest first. No HTTP route exposes it.
func (w *Writer) List(ctx context.Context, limit int) ([]warehouse.SystemLogRow, error) {
	return w.wh.ListSystemLog(ctx, limit)
}
