package warehouse

import (
	"context"
	"fmt"
	"time"
)

// DBInfoRow mirrors one db_info row (spec.md §3's DBInfo entity).
type DBInfoRow struct {
	ServerName   string
	Datname      string
	OID          int64
	CreationTime *time.Time
	FirstSeen    time.Time
	LastSeen     time.Time
}

// LocalTopology returns the current db_info rows for serverName, keyed by
// datname — the "L" set the topology-sync collector diffs against the
// target's live database list (spec.md §4.6.3).
func (w *Warehouse) LocalTopology(ctx context.Context, serverName string) (map[string]int64, error) {
	rows, err := w.pool.Query(ctx, `SELECT datname, oid FROM db_info WHERE server_name = $1`, serverName)
	if err != nil {
		return nil, fmt.Errorf("warehouse: local topology for %q: %w", serverName, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var datname string
		var oid int64
		if err := rows.Scan(&datname, &oid); err != nil {
			return nil, fmt.Errorf("warehouse: scanning db_info row for %q: %w", serverName, err)
		}
		out[datname] = oid
	}
	return out, rows.Err()
}

// TouchLastSeen bulk-updates last_seen=now() for every listed datname on
// serverName (the "common, not recreated" branch of topology sync).
func (w *Warehouse) TouchLastSeen(ctx context.Context, serverName string, datnames []string) error {
	if len(datnames) == 0 {
		return nil
	}
	_, err := w.pool.Exec(ctx, `
		UPDATE db_info SET last_seen = now()
		WHERE server_name = $1 AND datname = ANY($2::text[])`,
		serverName, datnames)
	if err != nil {
		return fmt.Errorf("warehouse: touching last_seen for %q: %w", serverName, err)
	}
	return nil
}

// InsertDBInfo records a newly-discovered database, with first_seen and
// last_seen set to now (spec.md §4.6.3 step "new").
func (w *Warehouse) InsertDBInfo(ctx context.Context, serverName, datname string, oid int64, creationTime *time.Time) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO db_info (server_name, datname, oid, creation_time, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, now(), now())`,
		serverName, datname, oid, creationTime)
	if err != nil {
		return fmt.Errorf("warehouse: inserting db_info for %s/%s: %w", serverName, datname, err)
	}
	return nil
}

// RecreateDBInfo rewrites a db_info row whose OID changed under the same
// datname: new OID, new creation time, first_seen reset to now (spec.md
// §4.6.3 step "recreated"). Callers must delete the stale statistics rows
// for (serverName, datname) separately — that history belongs to the old
// OID and must not survive under the new one (testable property 6).
func (w *Warehouse) RecreateDBInfo(ctx context.Context, serverName, datname string, newOID int64, creationTime *time.Time) error {
	_, err := w.pool.Exec(ctx, `
		UPDATE db_info
		SET oid = $1, creation_time = $2, first_seen = now(), last_seen = now()
		WHERE server_name = $3 AND datname = $4`,
		newOID, creationTime, serverName, datname)
	if err != nil {
		return fmt.Errorf("warehouse: recreating db_info for %s/%s: %w", serverName, datname, err)
	}
	return nil
}

// DeleteDBInfo removes the db_info row for (serverName, datname). Statistics
// rows for the same key are deleted by the caller via DeleteStatsFor.
func (w *Warehouse) DeleteDBInfo(ctx context.Context, serverName, datname string) error {
	_, err := w.pool.Exec(ctx, `DELETE FROM db_info WHERE server_name = $1 AND datname = $2`, serverName, datname)
	if err != nil {
		return fmt.Errorf("warehouse: deleting db_info for %s/%s: %w", serverName, datname, err)
	}
	return nil
}

// DeleteStatsFor removes every statistics row for (serverName, datname),
// used both on recreation (stale OID's history) and on deletion.
func (w *Warehouse) DeleteStatsFor(ctx context.Context, serverName, datname string) error {
	_, err := w.pool.Exec(ctx, `DELETE FROM statistics WHERE server_name = $1 AND datname = $2`, serverName, datname)
	if err != nil {
		return fmt.Errorf("warehouse: deleting statistics for %s/%s: %w", serverName, datname, err)
	}
	return nil
}

// RowsMissingCreationTime returns (datname, oid) pairs whose creation_time is
// still null, for the backfill pass (spec.md §4.6.3 "Backfill pass").
func (w *Warehouse) RowsMissingCreationTime(ctx context.Context, serverName string) (map[string]int64, error) {
	rows, err := w.pool.Query(ctx, `
		SELECT datname, oid FROM db_info WHERE server_name = $1 AND creation_time IS NULL`, serverName)
	if err != nil {
		return nil, fmt.Errorf("warehouse: listing null creation_time rows for %q: %w", serverName, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var datname string
		var oid int64
		if err := rows.Scan(&datname, &oid); err != nil {
			return nil, fmt.Errorf("warehouse: scanning null creation_time row for %q: %w", serverName, err)
		}
		out[datname] = oid
	}
	return out, rows.Err()
}

// SetCreationTime fills in a previously-null creation_time.
func (w *Warehouse) SetCreationTime(ctx context.Context, serverName, datname string, creationTime time.Time) error {
	_, err := w.pool.Exec(ctx, `
		UPDATE db_info SET creation_time = $1 WHERE server_name = $2 AND datname = $3`,
		creationTime, serverName, datname)
	if err != nil {
		return fmt.Errorf("warehouse: backfilling creation_time for %s/%s: %w", serverName, datname, err)
	}
	return nil
}
