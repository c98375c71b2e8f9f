// Package warehouse implements the Time-Series Store (spec component C5)
// and its read-side query helpers (C8): a single PostgreSQL database,
// accessed through the Remote Pool, holding the monthly-partitioned
// `statistics` table, `db_info` topology, `settings`, `audit_sessions`, and
// `system_log`. Schema bootstrap and partition management are grounded on
// original_source/backend/app/database/local_db.py and
// original_source/backend/app/collector/maintenance.py; query shape is
// grounded on the other example pack's pgx idiom (pgx.Identifier.Sanitize
// for any dynamically-named object, e.g. partition names).
//
// Targets, SSH keys, and users live in the GORM-backed local database
// instead (internal/db, internal/repository) — see DESIGN.md for why the
// split holds: GORM models a fixed row shape well, but cannot express
// partitioned DDL or the adaptive date_trunc queries this package needs.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Warehouse owns the local PostgreSQL schema described in spec.md §6 (minus
// servers/ssh_keys/users, see package doc) and all reads/writes against it.
type Warehouse struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// New wraps an already-connected pgx pool. Callers are expected to build the
// pool via internal/pool.Manager using DefaultWarehouseConfig.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Warehouse {
	return &Warehouse{pool: pool, logger: logger.Named("warehouse")}
}

// Bootstrap creates every table and index this package owns if absent, and
// ensures the current and next two months' statistics partitions exist
// (spec.md §4.5: "on startup ... ensures its schema").
func (w *Warehouse) Bootstrap(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS statistics (
			id           bigserial,
			server_name  text        NOT NULL,
			ts           timestamptz NOT NULL,
			datname      text        NOT NULL,
			numbackends  integer,
			xact_commit  bigint,
			db_size      bigint,
			disk_free    bigint,
			disk_total   bigint,
			PRIMARY KEY (server_name, ts, datname)
		) PARTITION BY RANGE (ts)`,
		`CREATE INDEX IF NOT EXISTS statistics_server_ts_idx ON statistics (server_name, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS statistics_server_db_ts_idx ON statistics (server_name, datname, ts DESC)`,

		`CREATE TABLE IF NOT EXISTS db_info (
			server_name   text NOT NULL,
			datname       text NOT NULL,
			oid           bigint NOT NULL,
			creation_time timestamptz,
			first_seen    timestamptz NOT NULL DEFAULT now(),
			last_seen     timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (server_name, datname)
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key         text PRIMARY KEY,
			value       text NOT NULL,
			value_type  text NOT NULL,
			description text NOT NULL DEFAULT '',
			updated_at  timestamptz NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS audit_sessions (
			id         bigserial PRIMARY KEY,
			timestamp  timestamptz NOT NULL DEFAULT now(),
			event_type text NOT NULL,
			username   text,
			ip_address text,
			user_agent text,
			jti        text,
			details    jsonb
		)`,
		`CREATE INDEX IF NOT EXISTS audit_sessions_ts_idx ON audit_sessions (timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS audit_sessions_username_idx ON audit_sessions (username)`,
		`CREATE INDEX IF NOT EXISTS audit_sessions_event_type_idx ON audit_sessions (event_type)`,

		`CREATE TABLE IF NOT EXISTS system_log (
			id        bigserial PRIMARY KEY,
			timestamp timestamptz NOT NULL DEFAULT now(),
			level     text NOT NULL,
			source    text NOT NULL,
			message   text NOT NULL,
			details   jsonb
		)`,
		`CREATE INDEX IF NOT EXISTS system_log_ts_idx ON system_log (timestamp DESC)`,
	}

	for _, stmt := range stmts {
		if _, err := w.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("warehouse: bootstrap: %w", err)
		}
	}

	if err := w.seedDefaultSettings(ctx); err != nil {
		return fmt.Errorf("warehouse: seeding default settings: %w", err)
	}

	if err := w.EnsurePartitions(ctx, time.Now().UTC()); err != nil {
		return fmt.Errorf("warehouse: ensuring initial partitions: %w", err)
	}

	w.logger.Info("warehouse schema ready")
	return nil
}

// defaultSettings mirrors the env-var defaults named in spec.md §6.
var defaultSettings = []struct {
	key, value, valueType, description string
}{
	{"collect_interval", "600", "int", "Activity-stats collector interval, seconds"},
	{"size_update_interval", "1800", "int", "Size collector interval, seconds"},
	{"db_check_interval", "1800", "int", "Topology-sync collector interval, seconds"},
	{"retention_months", "12", "int", "Months of statistics partitions retained"},
	{"audit_retention_days", "90", "int", "Days of audit_sessions rows retained"},
	{"logs_retention_days", "30", "int", "Days of system_log rows retained"},
}

func (w *Warehouse) seedDefaultSettings(ctx context.Context) error {
	for _, s := range defaultSettings {
		_, err := w.pool.Exec(ctx, `
			INSERT INTO settings (key, value, value_type, description)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO NOTHING`,
			s.key, s.value, s.valueType, s.description)
		if err != nil {
			return err
		}
	}
	return nil
}
