package warehouse

import (
	"context"
	"fmt"
	"time"
)

// StatSample is one (target, database, timestamp) observation, matching
// spec.md §3's StatSample entity.
type StatSample struct {
	ServerName  string
	Ts          time.Time
	Datname     string
	Numbackends int32
	XactCommit  int64
	DBSize      *int64
	DiskFree    *int64
	DiskTotal   *int64
}

// InsertStats appends one row per sample (activity-stats collector, spec.md
// §4.6.1). db_size is always left null here; the size collector fills it in
// a later pass. Returns the number of rows actually inserted — callers use
// this to build the per-target cycle counter even when some rows fail.
func (w *Warehouse) InsertStats(ctx context.Context, samples []StatSample) (inserted int, err error) {
	for _, s := range samples {
		_, execErr := w.pool.Exec(ctx, `
			INSERT INTO statistics (server_name, ts, datname, numbackends, xact_commit, disk_free, disk_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			s.ServerName, s.Ts, s.Datname, s.Numbackends, s.XactCommit, s.DiskFree, s.DiskTotal)
		if execErr != nil {
			if err == nil {
				err = fmt.Errorf("warehouse: insert stats for %s/%s: %w", s.ServerName, s.Datname, execErr)
			}
			continue
		}
		inserted++
	}
	return inserted, err
}

// UpdateDBSizeWhereNull backfills db_size on every row for (serverName,
// datname) still carrying a null value (size collector, spec.md §4.6.2).
// Returns the number of rows affected.
func (w *Warehouse) UpdateDBSizeWhereNull(ctx context.Context, serverName, datname string, size int64) (int64, error) {
	tag, err := w.pool.Exec(ctx, `
		UPDATE statistics
		SET db_size = $1
		WHERE server_name = $2 AND datname = $3 AND db_size IS NULL`,
		size, serverName, datname)
	if err != nil {
		return 0, fmt.Errorf("warehouse: update db_size for %s/%s: %w", serverName, datname, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteTargetData implements registry.Cascade: it removes every statistics
// and db_info row for name (spec.md §4.5 cascade, testable property 8). Both
// statements are idempotent no-ops if the rows are already gone, so a
// partial cascade can simply be retried.
func (w *Warehouse) DeleteTargetData(ctx context.Context, name string) error {
	if _, err := w.pool.Exec(ctx, `DELETE FROM statistics WHERE server_name = $1`, name); err != nil {
		return fmt.Errorf("warehouse: deleting statistics for %q: %w", name, err)
	}
	if _, err := w.pool.Exec(ctx, `DELETE FROM db_info WHERE server_name = $1`, name); err != nil {
		return fmt.Errorf("warehouse: deleting db_info for %q: %w", name, err)
	}
	return nil
}
