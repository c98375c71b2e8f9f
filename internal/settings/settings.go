// Package settings implements spec.md §9's redesign of the source's
// dynamic-typed settings: instead of every value being a bare string with a
// sidecar value_type tag, each known key has a declared Kind and a
// compiled-in bounds check (spec.md §6's table). The Warehouse still stores
// strings (internal/warehouse/settings_store.go) — this package is the only
// place that parses and validates them.
package settings

import (
	"context"
	"fmt"
	"strconv"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/warehouse"
)

// Kind tags the declared type of a setting's value.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindBool
	KindDuration
)

// Value is the sum-type result of parsing a stored setting.
type Value struct {
	Kind Kind
	Int  int64
	Str  string
	Bool bool
}

// bound declares the inclusive [Min, Max] range a KindInt setting must fall
// within, taken verbatim from spec.md §6.
type bound struct {
	min, max int64
}

// knownSettings is the closed set of settings this service understands.
// A PUT for any other key is rejected — spec.md only names these five.
var knownSettings = map[string]struct {
	kind    Kind
	bounds  *bound
	envName string
}{
	"collect_interval":      {KindInt, &bound{60, 86400}, "COLLECT_INTERVAL"},
	"size_update_interval":  {KindInt, &bound{300, 86400}, "SIZE_UPDATE_INTERVAL"},
	"db_check_interval":     {KindInt, &bound{300, 86400}, "DB_CHECK_INTERVAL"},
	"retention_months":      {KindInt, &bound{1, 120}, "RETENTION_MONTHS"},
	"audit_retention_days":  {KindInt, &bound{7, 3650}, "AUDIT_RETENTION_DAYS"},
	// logs_retention_days has no bounds in spec.md §6's table but is a real,
	// persisted setting (§4.5 retention policy) — kept open-ended on purpose.
	"logs_retention_days": {KindInt, nil, "LOGS_RETENTION_DAYS"},
}

// ErrUnknownKey is returned for any setting not in knownSettings.
var ErrUnknownKey = fmt.Errorf("settings: unknown key")

// ErrOutOfRange is returned when a value falls outside its declared bounds.
var ErrOutOfRange = fmt.Errorf("settings: value out of range")

// Service reads and writes validated settings through the Warehouse.
type Service struct {
	wh *warehouse.Warehouse
}

// NewService wraps a Warehouse.
func NewService(wh *warehouse.Warehouse) *Service {
	return &Service{wh: wh}
}

// Get returns one setting's parsed value.
func (s *Service) Get(ctx context.Context, key string) (Value, error) {
	def, ok := knownSettings[key]
	if !ok {
		return Value{}, ErrUnknownKey
	}
	row, err := s.wh.GetSetting(ctx, key)
	if err != nil {
		return Value{}, fmt.Errorf("settings: get %q: %w", key, err)
	}
	return parseValue(def.kind, row.Value)
}

// GetIntOrDefault reads an int-kind setting, falling back to def on any
// error (missing row, bad environment, unreachable Warehouse). Used by the
// Scheduler so a broken settings row degrades to the built-in default
// instead of stalling a loop (spec.md §7 kind 4/5 distinction: this is a
// convenience path, not how persistent configuration failures are handled).
func (s *Service) GetIntOrDefault(ctx context.Context, key string, def int64) int64 {
	v, err := s.Get(ctx, key)
	if err != nil || v.Kind != KindInt {
		return def
	}
	return v.Int
}

// Set validates and writes a new value for key, enforcing spec.md §6's
// bounds table. Returns ErrUnknownKey or ErrOutOfRange on invalid input —
// both are "input violation" (spec.md §7 kind 1), never logged as error.
func (s *Service) Set(ctx context.Context, key string, raw string) error {
	def, ok := knownSettings[key]
	if !ok {
		return ErrUnknownKey
	}

	switch def.kind {
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrOutOfRange, raw)
		}
		if def.bounds != nil && (n < def.bounds.min || n > def.bounds.max) {
			return fmt.Errorf("%w: %s must be between %d and %d", ErrOutOfRange, key, def.bounds.min, def.bounds.max)
		}
	}

	if err := s.wh.PutSetting(ctx, key, raw, kindName(def.kind)); err != nil {
		return fmt.Errorf("settings: set %q: %w", key, err)
	}
	return nil
}

// List returns every known setting's current parsed value, keyed by name.
func (s *Service) List(ctx context.Context) (map[string]Value, error) {
	rows, err := s.wh.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	out := make(map[string]Value, len(rows))
	for _, row := range rows {
		def, ok := knownSettings[row.Key]
		if !ok {
			continue
		}
		v, err := parseValue(def.kind, row.Value)
		if err != nil {
			continue
		}
		out[row.Key] = v
	}
	return out, nil
}

func parseValue(kind Kind, raw string) (Value, error) {
	switch kind {
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("settings: parsing int value %q: %w", raw, err)
		}
		return Value{Kind: KindInt, Int: n}, nil
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Value{}, fmt.Errorf("settings: parsing bool value %q: %w", raw, err)
		}
		return Value{Kind: KindBool, Bool: b}, nil
	default:
		return Value{Kind: KindString, Str: raw}, nil
	}
}

func kindName(k Kind) string {
	switch k {
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindDuration:
		return "duration"
	default:
		return "string"
	}
}
