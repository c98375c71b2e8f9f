package warehouse

import (
	"context"
	"fmt"
	"time"
)

// AuditRow is one audit_sessions row (spec.md §6). Auth events — login,
// refresh, logout, role checks — are the auth collaborator's concern; this
// package only persists and retrieves what it is handed.
type AuditRow struct {
	ID        int64
	Timestamp time.Time
	EventType string
	Username  string
	IPAddress string
	UserAgent string
	JTI       string
	Details   []byte // raw JSON
}

// InsertAuditEvent appends one audit_sessions row.
func (w *Warehouse) InsertAuditEvent(ctx context.Context, a AuditRow) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO audit_sessions (event_type, username, ip_address, user_agent, jti, details)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.EventType, a.Username, a.IPAddress, a.UserAgent, a.JTI, a.Details)
	if err != nil {
		return fmt.Errorf("warehouse: inserting audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent audit_sessions rows, newest first,
// optionally filtered by username and/or event type.
func (w *Warehouse) ListAuditEvents(ctx context.Context, username, eventType string, limit int) ([]AuditRow, error) {
	query := `
		SELECT id, timestamp, event_type, username, ip_address, user_agent, jti, details
		FROM audit_sessions
		WHERE ($1 = '' OR username = $1) AND ($2 = '' OR event_type = $2)
		ORDER BY timestamp DESC
		LIMIT $3`

	rows, err := w.pool.Query(ctx, query, username, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("warehouse: listing audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.EventType, &a.Username, &a.IPAddress, &a.UserAgent, &a.JTI, &a.Details); err != nil {
			return nil, fmt.Errorf("warehouse: scanning audit event row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeAuditOlderThan deletes audit_sessions rows older than retentionDays
// relative to now (spec.md §4.5 retention; default audit_retention_days).
func (w *Warehouse) PurgeAuditOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := w.pool.Exec(ctx, `
		DELETE FROM audit_sessions WHERE timestamp < now() - ($1 || ' days')::interval`,
		retentionDays)
	if err != nil {
		return 0, fmt.Errorf("warehouse: purging audit_sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
