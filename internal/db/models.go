package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) for efficient B-tree indexing and natural
// chronological ordering without a separate created_at sort. CreatedAt and
// UpdatedAt are managed automatically by GORM.
type base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
// This ensures every record has a valid time-ordered ID before insertion.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// softDelete extends base with a nullable DeletedAt field for soft deletion.
// GORM automatically filters out soft-deleted records from all queries unless
// Unscoped() is used explicitly.
type softDelete struct {
	base
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// -----------------------------------------------------------------------------
// Users & Auth
// -----------------------------------------------------------------------------

// User represents a local or OIDC-authenticated operator account.
// Login is the primary identifier presented at the token endpoint (spec's
// `users.login`); Email is informational and only required for OIDC accounts,
// where it is kept in sync with the identity provider on every login.
// Password is only set for local accounts — OIDC users authenticate via the
// provider and have an empty Password field.
type User struct {
	base
	Login        string          `gorm:"uniqueIndex;not null"`
	Email        string          `gorm:"default:''"`
	Password     EncryptedString `gorm:"type:text"` // empty for OIDC users
	DisplayName  string          `gorm:"not null"`
	Role         string          `gorm:"not null;default:'viewer'"` // admin | operator | viewer
	IsActive     bool            `gorm:"not null;default:true"`     // false = account disabled
	OIDCProvider string          `gorm:"default:''"`                // provider ID if OIDC user
	OIDCSub      string          `gorm:"default:''"`                // subject claim from OIDC token
	LastLoginAt  *time.Time
}

// RefreshToken stores a hashed refresh token associated with a user session.
// The raw token is never stored — only its SHA-256 hash. Tokens are rotated
// on every use and expire after 7 days.
type RefreshToken struct {
	base
	UserID    uuid.UUID `gorm:"type:text;not null;index"`
	TokenHash string    `gorm:"not null;uniqueIndex"` // SHA-256 hex of the raw token
	ExpiresAt time.Time `gorm:"not null;index"`
	RevokedAt *time.Time
	UserAgent string
	IPAddress string
}

// OIDCProvider stores the configuration for an external OIDC identity provider.
// ClientSecret is encrypted at rest. OIDC is an optional secondary login path;
// local login (Login+Password) is the primary one required by spec.md.
type OIDCProvider struct {
	base
	Name         string          `gorm:"not null"`
	Issuer       string          `gorm:"not null"`
	ClientID     string          `gorm:"not null"`
	ClientSecret EncryptedString `gorm:"type:text;not null"`
	RedirectURL  string          `gorm:"not null"`
	Scopes       string          `gorm:"not null;default:'openid email profile'"` // space-separated
	Enabled      bool            `gorm:"not null;default:false"`
}

// -----------------------------------------------------------------------------
// Target Registry (C2)
// -----------------------------------------------------------------------------

// Target is a monitored PostgreSQL instance. Name is the stable join key used
// by every collected row (statistics, db_info) — it is never regenerated.
// Exactly one of SSHPassword / SSHKeyID is populated at any time.
type Target struct {
	Name             string          `gorm:"primaryKey"`
	Host             string          `gorm:"not null"`
	PgPort           int             `gorm:"not null;default:5432"`
	PgUser           string          `gorm:"not null"`
	PgPassword       EncryptedString `gorm:"type:text;not null"`
	SSHUser          string          `gorm:"not null"`
	SSHPort          int             `gorm:"not null;default:22"`
	SSHAuthType      string          `gorm:"not null"` // "password" | "key"
	SSHPassword      EncryptedString `gorm:"type:text"`
	SSHKeyID         *uuid.UUID      `gorm:"type:text;index"`
	SSHKeyPassphrase EncryptedString `gorm:"type:text"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

// SSHKey is a stored SSH private key plus metadata. It may be referenced by
// multiple Targets and cannot be deleted while any reference remains — the
// reference count is always derived by querying Target, never stored here
// (spec.md §9: breaking the Target<->SSHKey cyclic reference).
type SSHKey struct {
	base
	Name           string          `gorm:"uniqueIndex;not null"`
	Fingerprint    string          `gorm:"uniqueIndex;not null"` // "SHA256:" + unpadded base64
	KeyType        string          `gorm:"not null"`            // "rsa" | "ed25519"
	PublicKey      string          `gorm:"type:text;not null"`  // OpenSSH text form
	PrivateKeyPEM  EncryptedString `gorm:"type:text;not null"`
	HasPassphrase  bool            `gorm:"not null;default:false"`
	CreatedBy      string          `gorm:"default:''"`
	Description    string          `gorm:"type:text;default:''"`
}
