package warehouse

import (
	"context"
	"fmt"
	"time"
)

// SystemLogRow is one system_log row: a coarse-grained operational journal
// of scheduler cycles and maintenance runs (spec.md §6, supplementing the
// per-target error lists collectors already return).
type SystemLogRow struct {
	ID        int64
	Timestamp time.Time
	Level     string // info | warning | error
	Source    string
	Message   string
	Details   []byte // raw JSON
}

// InsertSystemLog appends one system_log row.
func (w *Warehouse) InsertSystemLog(ctx context.Context, level, source, message string, details []byte) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO system_log (level, source, message, details)
		VALUES ($1, $2, $3, $4)`,
		level, source, message, details)
	if err != nil {
		return fmt.Errorf("warehouse: inserting system_log row: %w", err)
	}
	return nil
}

// ListSystemLog returns the most recent system_log rows, newest first.
func (w *Warehouse) ListSystemLog(ctx context.Context, limit int) ([]SystemLogRow, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT id, timestamp, level, source, message, details
		FROM system_log ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("warehouse: listing system_log: %w", err)
	}
	defer rows.Close()

	var out []SystemLogRow
	for rows.Next() {
		var s SystemLogRow
		if err := rows.Scan(&s.ID, &s.Timestamp, &s.Level, &s.Source, &s.Message, &s.Details); err != nil {
			return nil, fmt.Errorf("warehouse: scanning system_log row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// PurgeSystemLogOlderThan deletes system_log rows older than retentionDays.
func (w *Warehouse) PurgeSystemLogOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := w.pool.Exec(ctx, `
		DELETE FROM system_log WHERE timestamp < now() - ($1 || ' days')::interval`,
		retentionDays)
	if err != nil {
		return 0, fmt.Errorf("warehouse: purging system_log: %w", err)
	}
	return tag.RowsAffected(), nil
}
