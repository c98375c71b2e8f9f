package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/pool"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/warehouse"
)

type pgStatRow struct {
	datname     string
	numbackends int32
	xactCommit  int64
}

// CollectStats ports original_source/backend/app/collector/tasks.py's
// collect_server_stats: read pg_stat_database joined with pg_database, get
// disk usage over SSH, and insert one statistics row per live database with
// db_size left null (spec.md §4.6.1).
func (c *Collector) CollectStats(ctx context.Context, t db.Target) Result {
	res := Result{ServerName: t.Name}

	key := poolKey(t)
	conn, err := c.pool.Acquire(ctx, key, targetDSN(t, "postgres"), pool.DefaultTargetConfig)
	if err != nil {
		res.addErr("connect: %v", err)
		if isTransient(err) {
			c.logger.Warn("target unreachable this cycle", zap.String("target", t.Name), zap.Error(err))
		} else {
			c.logger.Error("target connect failed", zap.String("target", t.Name), zap.Error(err))
		}
		return res
	}
	defer conn.Release()

	var dataDir string
	if err := conn.QueryRow(ctx, `SHOW data_directory`).Scan(&dataDir); err != nil {
		res.addErr("reading data_directory: %v", err)
		return res
	}

	rows, err := conn.Query(ctx, `
		SELECT s.datname, s.numbackends, s.xact_commit
		FROM pg_stat_database s
		JOIN pg_database d ON s.datid = d.oid
		WHERE NOT d.datistemplate AND d.datname != 'postgres'
		ORDER BY s.datname`)
	if err != nil {
		res.addErr("querying pg_stat_database: %v", err)
		return res
	}

	var statRows []pgStatRow
	for rows.Next() {
		var r pgStatRow
		if err := rows.Scan(&r.datname, &r.numbackends, &r.xactCommit); err != nil {
			rows.Close()
			res.addErr("scanning pg_stat_database row: %v", err)
			return res
		}
		statRows = append(statRows, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		res.addErr("iterating pg_stat_database: %v", err)
		return res
	}

	if len(statRows) == 0 {
		res.addErr("no databases in pg_stat_database")
		return res
	}

	var diskFree, diskTotal *int64
	if sshTarget, sshErr := c.sshTarget(ctx, t); sshErr != nil {
		c.logger.Warn("resolving ssh target failed, disk usage skipped", zap.String("target", t.Name), zap.Error(sshErr))
	} else if free, total, dfErr := c.ssh.DfBytes(ctx, sshTarget, dataDir); dfErr != nil {
		c.logger.Warn("df over ssh failed, disk usage skipped", zap.String("target", t.Name), zap.Error(dfErr))
	} else {
		diskFree, diskTotal = &free, &total
	}

	now := time.Now().UTC()
	samples := make([]warehouse.StatSample, 0, len(statRows))
	for _, r := range statRows {
		samples = append(samples, warehouse.StatSample{
			ServerName:  t.Name,
			Ts:          now,
			Datname:     r.datname,
			Numbackends: r.numbackends,
			XactCommit:  r.xactCommit,
			DiskFree:    diskFree,
			DiskTotal:   diskTotal,
		})
	}

	inserted, err := c.wh.InsertStats(ctx, samples)
	res.Inserted = inserted
	if err != nil {
		res.addErr("inserting statistics: %v", err)
	}
	return res
}
