// Package registry implements the Target Registry (spec component C2): the
// durable, encrypted-at-rest store of monitored PostgreSQL targets and the
// SSH keys they reference. Encryption itself is handled transparently by
// db.EncryptedString (Secret Box, C1) on every GORM read/write — this
// package only ever holds plaintext in memory while a request is in flight.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repositories"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repository"
)

// dialTimeout bounds the reachability pre-check performed on target creation.
const dialTimeout = 3 * time.Second

// Cascade is implemented by the Warehouse and Remote Pool. The Registry calls
// it after a target row is deleted so statistics/db_info rows and any open
// pool are cleaned up together, without the Registry depending on either
// package directly (spec.md §4.5 cascade, §4.3 close_pool).
type Cascade interface {
	DeleteTargetData(ctx context.Context, name string) error
	ClosePool(host string)
}

// Service is the Target Registry. It is safe for concurrent use — all state
// lives in the underlying repositories, not in the Service itself.
type Service struct {
	targets repositories.TargetRepository
	keys    repositories.SSHKeyRepository
	cascade Cascade
	logger  *zap.Logger
}

// NewService creates a Registry Service. cascade may be nil during early
// bootstrap (e.g. migrations) but must be set before DeleteTarget is called
// in production wiring.
func NewService(targets repositories.TargetRepository, keys repositories.SSHKeyRepository, cascade Cascade, logger *zap.Logger) *Service {
	return &Service{
		targets: targets,
		keys:    keys,
		cascade: cascade,
		logger:  logger.Named("registry"),
	}
}

// -----------------------------------------------------------------------------
// Targets
// -----------------------------------------------------------------------------

// ListTargets returns every registered target with credentials decrypted in
// memory (decryption already happened transparently via EncryptedString.Scan).
func (s *Service) ListTargets(ctx context.Context) ([]db.Target, error) {
	targets, err := s.targets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list targets: %w", err)
	}
	return targets, nil
}

// GetTarget returns one target by name, or ErrNotFound.
func (s *Service) GetTarget(ctx context.Context, name string) (*db.Target, error) {
	t, err := s.targets.GetByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: get target %q: %w", name, err)
	}
	return t, nil
}

// CreateTarget validates and inserts a new target. It performs a fast TCP
// reachability pre-check against host:pg_port before persisting, rejecting
// obviously-dead configuration early (original_source/services/ssh.py:
// is_host_reachable, servers.py: add_server validation).
func (s *Service) CreateTarget(ctx context.Context, t *db.Target) error {
	if err := validateNewTarget(t); err != nil {
		return err
	}

	if !isHostReachable(ctx, t.Host, t.PgPort) {
		return ErrUnreachable
	}

	if err := s.targets.Create(ctx, t); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("registry: create target %q: %w", t.Name, err)
	}
	return nil
}

// TargetPatch is a partial update for UpdateTarget. Only non-nil fields are
// applied; a zero-value patch is a true no-op (spec.md §8.2 idempotence).
// Passwords are plaintext in the patch — EncryptedString.Value() encrypts on
// write, so callers never pass ciphertext here.
type TargetPatch struct {
	Host             *string
	PgPort           *int
	PgUser           *string
	PgPassword       *string
	SSHUser          *string
	SSHPort          *int
	SSHAuthType      *string
	SSHPassword      *string
	SSHKeyID         *uuid.UUID
	SSHKeyPassphrase *string
}

// UpdateTarget applies patch to the target named name. Only fields present in
// patch are written — absent fields are never read or re-encrypted, which is
// what makes an empty patch a true no-op at the storage layer.
func (s *Service) UpdateTarget(ctx context.Context, name string, patch TargetPatch) error {
	fields := map[string]any{}

	if patch.Host != nil {
		fields["host"] = *patch.Host
	}
	if patch.PgPort != nil {
		fields["pg_port"] = *patch.PgPort
	}
	if patch.PgUser != nil {
		fields["pg_user"] = *patch.PgUser
	}
	if patch.PgPassword != nil {
		fields["pg_password"] = db.EncryptedString(*patch.PgPassword)
	}
	if patch.SSHUser != nil {
		fields["ssh_user"] = *patch.SSHUser
	}
	if patch.SSHPort != nil {
		fields["ssh_port"] = *patch.SSHPort
	}
	if patch.SSHAuthType != nil {
		if *patch.SSHAuthType != "password" && *patch.SSHAuthType != "key" {
			return fmt.Errorf("%w: ssh_auth_type must be \"password\" or \"key\"", ErrInvalid)
		}
		fields["ssh_auth_type"] = *patch.SSHAuthType
	}
	if patch.SSHPassword != nil {
		fields["ssh_password"] = db.EncryptedString(*patch.SSHPassword)
		fields["ssh_key_id"] = nil
	}
	if patch.SSHKeyID != nil {
		if _, err := s.keys.GetByID(ctx, *patch.SSHKeyID); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("%w: ssh key %s does not exist", ErrInvalid, patch.SSHKeyID)
			}
			return fmt.Errorf("registry: checking ssh key for update: %w", err)
		}
		fields["ssh_key_id"] = *patch.SSHKeyID
		fields["ssh_password"] = db.EncryptedString("")
	}
	if patch.SSHKeyPassphrase != nil {
		fields["ssh_key_passphrase"] = db.EncryptedString(*patch.SSHKeyPassphrase)
	}

	if err := s.targets.UpdatePartial(ctx, name, fields); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("registry: update target %q: %w", name, err)
	}
	return nil
}

// DeleteTarget removes the target row and cascades deletion of its collected
// history and any open connection pool (spec.md §4.5, §4.3). The row is
// deleted first; cascade failures are logged but do not resurrect the row.
// Calling DeleteTarget again does not re-run a failed cascade: the row is
// already gone, so the call returns ErrNotFound before reaching it.
func (s *Service) DeleteTarget(ctx context.Context, name string) error {
	// Capture host before deleting the row — the cascade needs it to close
	// any open Remote Pool, but the row is gone once Delete returns.
	existing, err := s.targets.GetByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("registry: delete target %q: %w", name, err)
	}

	if err := s.targets.Delete(ctx, name); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("registry: delete target %q: %w", name, err)
	}

	if s.cascade != nil {
		if err := s.cascade.DeleteTargetData(ctx, name); err != nil {
			s.logger.Error("cascade delete of target data failed", zap.String("target", name), zap.Error(err))
		}
		s.cascade.ClosePool(existing.Host)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// validateNewTarget enforces spec.md §3's invariants: name stability,
// exactly-one-of SSH auth field populated, and rejection of placeholder
// values that the original source also refuses (name/host == "test" or
// "localhost" — original_source/backend/app/api/servers.py: add_server).
func validateNewTarget(t *db.Target) error {
	name := strings.TrimSpace(t.Name)
	host := strings.TrimSpace(t.Host)

	if name == "" || host == "" || t.PgUser == "" || t.SSHUser == "" {
		return fmt.Errorf("%w: name, host, pg_user and ssh_user are required", ErrInvalid)
	}
	if strings.EqualFold(name, "test") || strings.EqualFold(host, "test") || strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: name/host \"test\" or \"localhost\" are not allowed", ErrInvalid)
	}

	switch t.SSHAuthType {
	case "password":
		if t.SSHPassword == "" {
			return fmt.Errorf("%w: ssh_password is required when ssh_auth_type is \"password\"", ErrInvalid)
		}
		if t.SSHKeyID != nil {
			return fmt.Errorf("%w: exactly one of ssh_password/ssh_key_id must be set", ErrInvalid)
		}
	case "key":
		if t.SSHKeyID == nil {
			return fmt.Errorf("%w: ssh_key_id is required when ssh_auth_type is \"key\"", ErrInvalid)
		}
		if t.SSHPassword != "" {
			return fmt.Errorf("%w: exactly one of ssh_password/ssh_key_id must be set", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: ssh_auth_type must be \"password\" or \"key\"", ErrInvalid)
	}

	if t.PgPort <= 0 || t.PgPort > 65535 {
		return fmt.Errorf("%w: pg_port out of range", ErrInvalid)
	}
	if t.SSHPort <= 0 || t.SSHPort > 65535 {
		return fmt.Errorf("%w: ssh_port out of range", ErrInvalid)
	}
	return nil
}

// isHostReachable performs a fast TCP dial against host:port, used as a
// cheap pre-flight before persisting a brand-new target. It is advisory
// only — a host that later goes offline is handled by the Scheduler's
// per-target partial-failure isolation, not by the Registry.
func isHostReachable(ctx context.Context, host string, port int) bool {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// isNotFound bridges the repository package's string-identified ErrNotFound
// sentinel, following the same pattern already used by internal/auth.
func isNotFound(err error) bool {
	return err != nil && err.Error() == repository.ErrNotFound.Error()
}
