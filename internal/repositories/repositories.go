package repositories

import (
	"context"

	"github.com/google/uuid"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
)

// -----------------------------------------------------------------------------
// Common
// -----------------------------------------------------------------------------

// ListOptions contains common pagination and filtering options for list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// -----------------------------------------------------------------------------
// UserRepository
// -----------------------------------------------------------------------------

type UserRepository interface {
	Create(ctx context.Context, user *db.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetByLogin(ctx context.Context, login string) (*db.User, error)
	GetByOIDC(ctx context.Context, provider, sub string) (*db.User, error)
	Update(ctx context.Context, user *db.User) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, opts ListOptions) ([]db.User, int64, error)
}

// -----------------------------------------------------------------------------
// RefreshTokenRepository
// -----------------------------------------------------------------------------

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *db.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*db.RefreshToken, error)
	DeleteByHash(ctx context.Context, hash string) error
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	DeleteExpired(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// OIDCProviderRepository
// -----------------------------------------------------------------------------

type OIDCProviderRepository interface {
	Create(ctx context.Context, provider *db.OIDCProvider) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.OIDCProvider, error)
	GetEnabled(ctx context.Context) (*db.OIDCProvider, error)
	Update(ctx context.Context, provider *db.OIDCProvider) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// -----------------------------------------------------------------------------
// TargetRepository (Registry, C2)
// -----------------------------------------------------------------------------

type TargetRepository interface {
	Create(ctx context.Context, target *db.Target) error
	GetByName(ctx context.Context, name string) (*db.Target, error)

	// UpdatePartial applies only the given columns, leaving every other column
	// (including encrypted ones) untouched. An empty fields map is a true no-op
	// at the storage layer — required for Registry idempotence (spec.md §8.2).
	UpdatePartial(ctx context.Context, name string, fields map[string]any) error

	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]db.Target, error)
	CountByKeyID(ctx context.Context, keyID uuid.UUID) (int64, error)
}

// -----------------------------------------------------------------------------
// SSHKeyRepository (Registry, C2)
// -----------------------------------------------------------------------------

type SSHKeyRepository interface {
	Create(ctx context.Context, key *db.SSHKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*db.SSHKey, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*db.SSHKey, error)
	Update(ctx context.Context, key *db.SSHKey) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]db.SSHKey, error)
}
