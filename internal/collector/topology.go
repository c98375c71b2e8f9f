package collector

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/pool"
)

// SyncTopology ports sync_server_db_info: diff the target's live database
// set (R) against db_info (L) by datname, then reconcile new/gone/recreated
// entries and repair statistics history for any database whose OID changed
// (spec.md §4.6.3, testable property 6).
func (c *Collector) SyncTopology(ctx context.Context, t db.Target) Result {
	res := Result{ServerName: t.Name}

	key := poolKey(t)
	conn, err := c.pool.Acquire(ctx, key, targetDSN(t, "postgres"), pool.DefaultTargetConfig)
	if err != nil {
		res.addErr("connect: %v", err)
		return res
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT datname, oid FROM pg_database
		WHERE NOT datistemplate AND datname != 'postgres'
		ORDER BY datname`)
	if err != nil {
		res.addErr("listing remote databases: %v", err)
		return res
	}
	remote := make(map[string]int64)
	for rows.Next() {
		var name string
		var oid int64
		if err := rows.Scan(&name, &oid); err != nil {
			rows.Close()
			res.addErr("scanning remote database row: %v", err)
			return res
		}
		remote[name] = oid
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		res.addErr("iterating remote databases: %v", err)
		return res
	}

	local, err := c.wh.LocalTopology(ctx, t.Name)
	if err != nil {
		res.addErr("reading local topology: %v", err)
		return res
	}

	var newNames, goneNames, recreatedNames, unchangedNames []string
	for name := range remote {
		if _, ok := local[name]; !ok {
			newNames = append(newNames, name)
		}
	}
	for name := range local {
		if _, ok := remote[name]; !ok {
			goneNames = append(goneNames, name)
		}
	}
	for name, localOID := range local {
		if remoteOID, ok := remote[name]; ok {
			if remoteOID != localOID {
				recreatedNames = append(recreatedNames, name)
			} else {
				unchangedNames = append(unchangedNames, name)
			}
		}
	}

	if err := c.wh.TouchLastSeen(ctx, t.Name, unchangedNames); err != nil {
		res.addErr("touching last_seen: %v", err)
	}

	for _, name := range newNames {
		oid := remote[name]
		creationTime := queryCreationTime(ctx, conn, oid)
		if err := c.wh.InsertDBInfo(ctx, t.Name, name, oid, creationTime); err != nil {
			res.addErr("add %s: %v", name, err)
			continue
		}
		res.Added++
	}

	for _, name := range recreatedNames {
		newOID := remote[name]
		oldOID := local[name]
		creationTime := queryCreationTime(ctx, conn, newOID)

		if err := c.wh.DeleteStatsFor(ctx, t.Name, name); err != nil {
			res.addErr("recreate %s: deleting stale statistics: %v", name, err)
			continue
		}
		if err := c.wh.RecreateDBInfo(ctx, t.Name, name, newOID, creationTime); err != nil {
			res.addErr("recreate %s: %v", name, err)
			continue
		}
		c.logger.Info("database recreated", zap.String("target", t.Name), zap.String("database", name),
			zap.Int64("old_oid", oldOID), zap.Int64("new_oid", newOID))
		res.Recreated++
	}

	for _, name := range goneNames {
		if err := c.wh.DeleteStatsFor(ctx, t.Name, name); err != nil {
			res.addErr("delete %s: statistics: %v", name, err)
			continue
		}
		if err := c.wh.DeleteDBInfo(ctx, t.Name, name); err != nil {
			res.addErr("delete %s: db_info: %v", name, err)
			continue
		}
		res.Deleted++
	}

	c.backfillCreationTimes(ctx, conn, t, &res)

	return res
}

// queryCreationTime reads a database's creation time via pg_stat_file on its
// PG_VERSION marker file, returning nil on any failure — permissions or
// filesystem layout can make this unreadable, and spec.md §4.6.3 allows
// nulls here ("pg_stat_file may fail ... nulls are allowed").
func queryCreationTime(ctx context.Context, conn *pgxpool.Conn, oid int64) *time.Time {
	var ts time.Time
	err := conn.QueryRow(ctx,
		`SELECT (pg_stat_file('base/' || $1 || '/PG_VERSION')).modification`, oid,
	).Scan(&ts)
	if err != nil {
		return nil
	}
	return &ts
}

// backfillCreationTimes fills in creation_time for any db_info row that is
// still null, one lookup attempt per row per cycle (spec.md §4.6.3
// "Backfill pass").
func (c *Collector) backfillCreationTimes(ctx context.Context, conn *pgxpool.Conn, t db.Target, res *Result) {
	missing, err := c.wh.RowsMissingCreationTime(ctx, t.Name)
	if err != nil {
		res.addErr("listing null creation_time rows: %v", err)
		return
	}
	for name, oid := range missing {
		ct := queryCreationTime(ctx, conn, oid)
		if ct == nil {
			continue
		}
		if err := c.wh.SetCreationTime(ctx, t.Name, name, *ct); err != nil {
			res.addErr("backfilling creation_time for %s: %v", name, err)
		}
	}
}
