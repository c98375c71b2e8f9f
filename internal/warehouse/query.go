package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Bucket is one of the fixed time-truncation granularities the adaptive
// timeline queries may choose (spec.md §4.8). The expressions below are a
// closed allow-list — never built from user input.
type Bucket string

const (
	BucketRaw   Bucket = "raw"
	BucketHour  Bucket = "hour"
	Bucket4Hour Bucket = "4hour"
	BucketDay   Bucket = "day"
)

// PickBucket implements spec.md §4.8's adaptive aggregation table and
// testable property 5 (monotonicity: raw < hour < 4h < day as the range
// widens).
func PickBucket(from, to time.Time) Bucket {
	delta := to.Sub(from)
	switch {
	case delta <= 2*24*time.Hour:
		return BucketRaw
	case delta <= 14*24*time.Hour:
		return BucketHour
	case delta <= 90*24*time.Hour:
		return Bucket4Hour
	default:
		return BucketDay
	}
}

// bucketExpr returns the date_trunc-based SQL expression for a bucket,
// applied to the `ts` column. Raw has no truncation — the caller selects ts
// directly instead of calling this.
func bucketExpr(b Bucket) string {
	switch b {
	case BucketHour:
		return `date_trunc('hour', ts)`
	case Bucket4Hour:
		return `date_trunc('hour', ts) - (extract(hour from ts)::int % 4) * interval '1 hour'`
	case BucketDay:
		return `date_trunc('day', ts)`
	default:
		return `ts`
	}
}

// TimelinePoint is one aggregated (or raw) timeline row.
type TimelinePoint struct {
	Bucket      time.Time
	Datname     string
	Numbackends float64
	XactCommit  int64
	DBSize      *int64
	DiskFree    *int64
	DiskTotal   *int64
}

// ServerTimeline returns every database's timeline for a target between
// from and to, bucketed adaptively (spec.md §4.8 server_timeline).
func (w *Warehouse) ServerTimeline(ctx context.Context, serverName string, from, to time.Time) ([]TimelinePoint, error) {
	return w.timeline(ctx, serverName, "", from, to)
}

// DatabaseTimeline returns one database's timeline for a target between from
// and to, bucketed adaptively (spec.md §4.8 database_timeline).
func (w *Warehouse) DatabaseTimeline(ctx context.Context, serverName, datname string, from, to time.Time) ([]TimelinePoint, error) {
	return w.timeline(ctx, serverName, datname, from, to)
}

func (w *Warehouse) timeline(ctx context.Context, serverName, datname string, from, to time.Time) ([]TimelinePoint, error) {
	bucket := PickBucket(from, to)
	expr := bucketExpr(bucket)

	query := fmt.Sprintf(`
		SELECT %s AS bucket, datname,
		       avg(numbackends) AS numbackends,
		       coalesce(max(xact_commit), 0) AS xact_commit,
		       max(db_size) AS db_size,
		       max(disk_free) AS disk_free,
		       max(disk_total) AS disk_total
		FROM statistics
		WHERE server_name = $1 AND ts >= $2 AND ts < $3 %s
		GROUP BY bucket, datname
		ORDER BY bucket ASC, datname ASC`,
		expr, datnameFilter(datname))

	args := []any{serverName, from, to}
	if datname != "" {
		args = append(args, datname)
	}

	rows, err := w.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("warehouse: timeline query for %q: %w", serverName, err)
	}
	defer rows.Close()

	var points []TimelinePoint
	for rows.Next() {
		var p TimelinePoint
		if err := rows.Scan(&p.Bucket, &p.Datname, &p.Numbackends, &p.XactCommit, &p.DBSize, &p.DiskFree, &p.DiskTotal); err != nil {
			return nil, fmt.Errorf("warehouse: scanning timeline row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// datnameFilter returns the extra WHERE clause fragment and uses $4 as the
// positional placeholder when a specific database is requested.
func datnameFilter(datname string) string {
	if datname == "" {
		return ""
	}
	return "AND datname = $4"
}

// ActivityRow is one pg_stat_activity entry as seen live on a target.
type ActivityRow struct {
	Pid           int32
	Datname       string
	Usename       string
	ApplicationName string
	State         string
	QueryStart    *time.Time
	Query         string
}

// CurrentActivity fans out to the target's own PostgreSQL via the supplied
// connection and reads pg_stat_activity directly — this is the one read
// path that bypasses the Warehouse entirely (spec.md §4.8: "live fan-out,
// not historical").
func CurrentActivity(ctx context.Context, conn *pgxpool.Conn) ([]ActivityRow, error) {
	rows, err := conn.Query(ctx, `
		SELECT pid, datname, usename, application_name, state, query_start, query
		FROM pg_stat_activity
		WHERE datname IS NOT NULL
		ORDER BY query_start ASC NULLS LAST`)
	if err != nil {
		return nil, fmt.Errorf("warehouse: current_activity: %w", err)
	}
	defer rows.Close()

	var out []ActivityRow
	for rows.Next() {
		var a ActivityRow
		if err := rows.Scan(&a.Pid, &a.Datname, &a.Usename, &a.ApplicationName, &a.State, &a.QueryStart, &a.Query); err != nil {
			return nil, fmt.Errorf("warehouse: scanning pg_stat_activity row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
