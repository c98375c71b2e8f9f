package collector

import (
	"context"

	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/pool"
)

// CollectSizes ports collect_server_sizes: for every non-template database,
// read pg_database_size under a relaxed 600s statement timeout, then
// backfill the latest null db_size rows (spec.md §4.6.2). A per-database
// failure rolls back and moves on to the next; it never aborts the target's
// cycle (testable property 7 applies within a target too).
func (c *Collector) CollectSizes(ctx context.Context, t db.Target) Result {
	res := Result{ServerName: t.Name}

	key := poolKey(t)
	conn, err := c.pool.Acquire(ctx, key, targetDSN(t, "postgres"), pool.DefaultTargetConfig)
	if err != nil {
		res.addErr("connect: %v", err)
		return res
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT datname FROM pg_database
		WHERE NOT datistemplate AND datname != 'postgres'
		ORDER BY datname`)
	if err != nil {
		res.addErr("listing databases: %v", err)
		return res
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			res.addErr("scanning database name: %v", err)
			return res
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		res.addErr("iterating databases: %v", err)
		return res
	}

	if len(names) == 0 {
		res.addErr("no databases to size")
		return res
	}

	for _, name := range names {
		if _, err := conn.Exec(ctx, `SET statement_timeout = '600s'`); err != nil {
			res.addErr("%s: setting statement_timeout: %v", name, err)
			continue
		}

		var size int64
		err := conn.QueryRow(ctx, `SELECT pg_database_size($1)`, name).Scan(&size)
		if err != nil {
			res.addErr("%s: pg_database_size: %v", name, err)
			continue
		}

		updated, err := c.wh.UpdateDBSizeWhereNull(ctx, t.Name, name, size)
		if err != nil {
			res.addErr("%s: updating db_size: %v", name, err)
			continue
		}
		res.Updated += updated
	}

	if _, err := conn.Exec(ctx, `SET statement_timeout = '5s'`); err != nil {
		c.logger.Warn("resetting statement_timeout failed", zap.String("target", t.Name), zap.Error(err))
	}

	return res
}
