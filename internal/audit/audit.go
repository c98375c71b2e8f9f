// Package audit records authentication and authorization events into the
// Warehouse's append-only audit_sessions stream (spec.md §6, §7 kind 2).
// This package owns only the shape of an event and its retention. Nothing in
// this repository calls Record: internal/auth and internal/api write no audit
// events for logins, refreshes, logouts or denied requests, and the Scheduler
// uses the Recorder only to purge expired rows.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/warehouse"
)

// EventType enumerates the session lifecycle events audited by spec.md's
// auth collaborator surface (§6: "POST /token, /refresh, /logout").
type EventType string

const (
	EventLogin        EventType = "login"
	EventLoginFailed  EventType = "login_failed"
	EventRefresh      EventType = "refresh"
	EventLogout       EventType = "logout"
	EventAccessDenied EventType = "access_denied"
)

// Event is one audit occurrence.
type Event struct {
	Type      EventType
	Username  string
	IPAddress string
	UserAgent string
	JTI       string
	Details   map[string]any
}

// Recorder persists Events to the Warehouse.
type Recorder struct {
	wh *warehouse.Warehouse
}

// NewRecorder wraps a Warehouse.
func NewRecorder(wh *warehouse.Warehouse) *Recorder {
	return &Recorder{wh: wh}
}

// Record appends e to audit_sessions. Marshaling failures fall back to a nil
// details payload rather than dropping the event — losing the free-form
// detail blob is preferable to losing the audit record itself.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	var details []byte
	if e.Details != nil {
		if b, err := json.Marshal(e.Details); err == nil {
			details = b
		}
	}

	return r.wh.InsertAuditEvent(ctx, warehouse.AuditRow{
		EventType: string(e.Type),
		Username:  e.Username,
		IPAddress: e.IPAddress,
		UserAgent: e.UserAgent,
		JTI:       e.JTI,
		Details:   details,
	})
}

// PurgeOlderThan deletes audit_sessions rows older than retentionDays,
// called from the Scheduler's daily maintenance loop (spec.md §4.7).
func (r *Recorder) PurgeOlderThan(ctx context.Context, retentionDays int) (int64, error) {
	n, err := r.wh.PurgeAuditOlderThan(ctx, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	return n, nil
}

// List returns recent audit events, newest first, optionally filtered by
// username and event type. No HTTP route exposes it.
func (r *Recorder) List(ctx context.Context, username, eventType string, limit int) ([]warehouse.AuditRow, error) {
	return r.wh.ListAuditEvents(ctx, username, eventType, limit)
}
