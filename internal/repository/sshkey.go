package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
)

// gormSSHKeyRepository is the GORM implementation of SSHKeyRepository.
type gormSSHKeyRepository struct {
	db *gorm.DB
}

// NewSSHKeyRepository returns an SSHKeyRepository backed by the provided *gorm.DB.
func NewSSHKeyRepository(db *gorm.DB) *gormSSHKeyRepository {
	return &gormSSHKeyRepository{db: db}
}

// Create inserts a new SSH key record. Returns ErrConflict if the fingerprint
// or name already exists (spec.md testable property 3: generated/imported
// keys never collide with an existing fingerprint).
func (r *gormSSHKeyRepository) Create(ctx context.Context, key *db.SSHKey) error {
	if err := r.db.WithContext(ctx).Create(key).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ssh_keys: create: %w", err)
	}
	return nil
}

// GetByID retrieves an SSH key by its UUID. Returns ErrNotFound if absent.
func (r *gormSSHKeyRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.SSHKey, error) {
	var k db.SSHKey
	err := r.db.WithContext(ctx).First(&k, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ssh_keys: get by id: %w", err)
	}
	return &k, nil
}

// GetByFingerprint retrieves an SSH key by its fingerprint. Used by the
// import path to report the name of the already-existing key on collision.
func (r *gormSSHKeyRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*db.SSHKey, error) {
	var k db.SSHKey
	err := r.db.WithContext(ctx).First(&k, "fingerprint = ?", fingerprint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ssh_keys: get by fingerprint: %w", err)
	}
	return &k, nil
}

// Update persists name/description changes. Private key material and
// fingerprint are immutable after creation per spec.md §4.2.
func (r *gormSSHKeyRepository) Update(ctx context.Context, key *db.SSHKey) error {
	result := r.db.WithContext(ctx).Save(key)
	if result.Error != nil {
		return fmt.Errorf("ssh_keys: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete permanently removes an SSH key by ID. Callers must check
// CountByKeyID == 0 first — the repository layer does not enforce the
// referential guard itself (that is Registry business logic, spec.md §4.2).
func (r *gormSSHKeyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&db.SSHKey{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("ssh_keys: delete: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns every stored SSH key, ordered by creation time.
func (r *gormSSHKeyRepository) List(ctx context.Context) ([]db.SSHKey, error) {
	var keys []db.SSHKey
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("ssh_keys: list: %w", err)
	}
	return keys, nil
}
