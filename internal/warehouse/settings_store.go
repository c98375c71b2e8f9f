package warehouse

import (
	"context"
	"fmt"
	"time"
)

// SettingRow is one row of the settings table as stored — a string value
// tagged with its declared type (spec.md §9's "dynamic-typed settings").
// internal/settings is the layer that understands what the tag means and
// enforces the bounds table from spec.md §6; this package only persists.
type SettingRow struct {
	Key         string
	Value       string
	ValueType   string
	Description string
	UpdatedAt   time.Time
}

// ListSettings returns every settings row.
func (w *Warehouse) ListSettings(ctx context.Context) ([]SettingRow, error) {
	rows, err := w.pool.Query(ctx, `SELECT key, value, value_type, description, updated_at FROM settings ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("warehouse: listing settings: %w", err)
	}
	defer rows.Close()

	var out []SettingRow
	for rows.Next() {
		var s SettingRow
		if err := rows.Scan(&s.Key, &s.Value, &s.ValueType, &s.Description, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("warehouse: scanning setting row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSetting returns one setting by key, or pgx.ErrNoRows if absent.
func (w *Warehouse) GetSetting(ctx context.Context, key string) (*SettingRow, error) {
	var s SettingRow
	err := w.pool.QueryRow(ctx, `
		SELECT key, value, value_type, description, updated_at FROM settings WHERE key = $1`, key,
	).Scan(&s.Key, &s.Value, &s.ValueType, &s.Description, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PutSetting upserts one setting's value, bumping updated_at. Bounds and
// type validation happen one layer up in internal/settings — this is a
// trusted raw write.
func (w *Warehouse) PutSetting(ctx context.Context, key, value, valueType string) error {
	_, err := w.pool.Exec(ctx, `
		INSERT INTO settings (key, value, value_type, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, value_type = EXCLUDED.value_type, updated_at = now()`,
		key, value, valueType)
	if err != nil {
		return fmt.Errorf("warehouse: writing setting %q: %w", key, err)
	}
	return nil
}
