package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// partitionNamePattern matches statistics_YYYY_MM, the only partition-naming
// scheme this package creates or recognizes (spec.md §4.5).
var partitionNamePattern = regexp.MustCompile(`^statistics_(\d{4})_(\d{2})$`)

// EnsurePartitions creates the monthly statistics partitions for ref's month
// and the following two months, if they do not already exist. Called on
// startup and by the daily maintenance loop (spec.md §4.5, testable
// property 4).
func (w *Warehouse) EnsurePartitions(ctx context.Context, ref time.Time) error {
	ref = ref.UTC()
	monthStart := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		start := monthStart.AddDate(0, i, 0)
		end := start.AddDate(0, 1, 0)
		name := partitionName(start)

		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF statistics FOR VALUES FROM ($1) TO ($2)`,
			pgx.Identifier{name}.Sanitize(),
		)
		if _, err := w.pool.Exec(ctx, stmt, start, end); err != nil {
			return fmt.Errorf("warehouse: creating partition %s: %w", name, err)
		}
	}
	return nil
}

// DropExpiredPartitions drops every statistics_YYYY_MM partition whose month
// is older than retentionMonths relative to ref. Partition names that do not
// match the expected pattern are left alone (spec.md §4.5: "unparsable names
// are skipped").
func (w *Warehouse) DropExpiredPartitions(ctx context.Context, retentionMonths int, ref time.Time) (dropped []string, err error) {
	ref = ref.UTC()
	cutoff := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -retentionMonths, 0)

	rows, err := w.pool.Query(ctx, `
		SELECT child.relname
		FROM pg_inherits
		JOIN pg_class parent ON pg_inherits.inhparent = parent.oid
		JOIN pg_class child ON pg_inherits.inhrelid = child.oid
		WHERE parent.relname = 'statistics'`)
	if err != nil {
		return nil, fmt.Errorf("warehouse: listing partitions: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("warehouse: scanning partition name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("warehouse: iterating partitions: %w", err)
	}

	for _, name := range names {
		month, ok := parsePartitionMonth(name)
		if !ok {
			continue
		}
		if month.Before(cutoff) {
			stmt := fmt.Sprintf(`DROP TABLE IF EXISTS %s`, pgx.Identifier{name}.Sanitize())
			if _, err := w.pool.Exec(ctx, stmt); err != nil {
				return dropped, fmt.Errorf("warehouse: dropping partition %s: %w", name, err)
			}
			dropped = append(dropped, name)
			w.logger.Info("dropped expired statistics partition", zap.String("partition", name))
		}
	}
	return dropped, nil
}

func partitionName(monthStart time.Time) string {
	return fmt.Sprintf("statistics_%04d_%02d", monthStart.Year(), int(monthStart.Month()))
}

func parsePartitionMonth(name string) (time.Time, bool) {
	m := partitionNamePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(m[2])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}
