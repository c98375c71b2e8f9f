package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
)

// gormTargetRepository is the GORM implementation of TargetRepository.
// Target is keyed by name (not a generated UUID) per spec.md §3 — it is the
// stable join key used by every collected statistics/db_info row.
type gormTargetRepository struct {
	db *gorm.DB
}

// NewTargetRepository returns a TargetRepository backed by the provided *gorm.DB.
func NewTargetRepository(db *gorm.DB) *gormTargetRepository {
	return &gormTargetRepository{db: db}
}

// Create inserts a new target. Returns ErrConflict if the name is already taken.
func (r *gormTargetRepository) Create(ctx context.Context, target *db.Target) error {
	if err := r.db.WithContext(ctx).Create(target).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("targets: create: %w", err)
	}
	return nil
}

// GetByName retrieves a target by name. Returns ErrNotFound if absent.
func (r *gormTargetRepository) GetByName(ctx context.Context, name string) (*db.Target, error) {
	var t db.Target
	err := r.db.WithContext(ctx).First(&t, "name = ?", name).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("targets: get by name: %w", err)
	}
	return &t, nil
}

// UpdatePartial applies only the given columns via GORM's Updates(map), which
// emits an UPDATE naming exactly those columns. Columns absent from the map
// are never read or rewritten, so an empty map is a true no-op — required for
// the Registry's idempotence contract (spec.md §8.2: an update with an empty
// patch leaves the row equal except updated_at, and ciphertext fields are
// never re-encrypted unless their plaintext actually changed).
func (r *gormTargetRepository) UpdatePartial(ctx context.Context, name string, fields map[string]any) error {
	if len(fields) == 0 {
		// Still bump updated_at so callers observe a successful no-op write,
		// matching "equal row before/after except updated_at".
		fields = map[string]any{"updated_at": gorm.Expr("updated_at")}
	}
	result := r.db.WithContext(ctx).
		Model(&db.Target{}).
		Where("name = ?", name).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("targets: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes a target by name.
func (r *gormTargetRepository) Delete(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Delete(&db.Target{}, "name = ?", name)
	if result.Error != nil {
		return fmt.Errorf("targets: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every registered target, ordered by name for stable pagination-free listing.
func (r *gormTargetRepository) List(ctx context.Context) ([]db.Target, error) {
	var targets []db.Target
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("targets: list: %w", err)
	}
	return targets, nil
}

// CountByKeyID returns the number of targets referencing the given SSH key.
// Used by the Registry to refuse deletion of a key still in use — this count
// is always computed by query, never stored on SSHKey (spec.md §9).
func (r *gormTargetRepository) CountByKeyID(ctx context.Context, keyID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Target{}).
		Where("ssh_key_id = ?", keyID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("targets: count by key id: %w", err)
	}
	return count, nil
}

// isUniqueViolation reports whether err looks like a unique-constraint
// violation, across both the sqlite and postgres GORM drivers used by this
// service. Matched by substring since each driver wraps its own error type.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return contains(msg, "UNIQUE constraint failed") || contains(msg, "duplicate key value")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
