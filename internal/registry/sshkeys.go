package registry

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repository"
)

// rsaKeyBits is the bit size used for generated SSH RSA keys.
const rsaKeyBits = 4096

// ListKeys returns every stored SSH key.
func (s *Service) ListKeys(ctx context.Context) ([]db.SSHKey, error) {
	keys, err := s.keys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list keys: %w", err)
	}
	return keys, nil
}

// GetKey returns one SSH key by ID, or ErrNotFound.
func (s *Service) GetKey(ctx context.Context, id uuid.UUID) (*db.SSHKey, error) {
	k, err := s.keys.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: get key %s: %w", id, err)
	}
	return k, nil
}

// ServersCount returns how many targets currently reference key id. This is
// always a live query, never cached on SSHKey — the only way to break the
// Target<->SSHKey cyclic reference (spec.md §9).
func (s *Service) ServersCount(ctx context.Context, id uuid.UUID) (int64, error) {
	n, err := s.targets.CountByKeyID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("registry: servers count for key %s: %w", id, err)
	}
	return n, nil
}

// GenerateKey creates a new key pair of keyType ("rsa" or "ed25519"), stores
// it with an optional encrypting passphrase, and returns the record. The
// private key is persisted in OpenSSH PEM form; PrivateKeyPEM is encrypted
// at rest by EncryptedString like any other credential field.
func (s *Service) GenerateKey(ctx context.Context, name, keyType, passphrase, description, createdBy string) (*db.SSHKey, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	var pemBlock *pem.Block
	var pub ssh.PublicKey
	var err error

	switch keyType {
	case "rsa":
		priv, genErr := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if genErr != nil {
			return nil, fmt.Errorf("registry: generating rsa key: %w", genErr)
		}
		pub, err = ssh.NewPublicKey(&priv.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("registry: deriving rsa public key: %w", err)
		}
		pemBlock, err = marshalPrivateKey(priv, name, passphrase)
	case "ed25519":
		edPub, edPriv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return nil, fmt.Errorf("registry: generating ed25519 key: %w", genErr)
		}
		pub, err = ssh.NewPublicKey(edPub)
		if err != nil {
			return nil, fmt.Errorf("registry: deriving ed25519 public key: %w", err)
		}
		pemBlock, err = marshalPrivateKey(edPriv, name, passphrase)
	default:
		return nil, fmt.Errorf("%w: key_type must be \"rsa\" or \"ed25519\"", ErrInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: marshaling private key: %w", err)
	}

	fingerprint := calculateFingerprint(pub)
	if existing, err := s.keys.GetByFingerprint(ctx, fingerprint); err == nil {
		return nil, fmt.Errorf("%w: collides with existing key %q", ErrConflict, existing.Name)
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("registry: checking fingerprint uniqueness: %w", err)
	}

	key := &db.SSHKey{
		Name:          name,
		Fingerprint:   fingerprint,
		KeyType:       keyType,
		PublicKey:     string(ssh.MarshalAuthorizedKey(pub)),
		PrivateKeyPEM: db.EncryptedString(pem.EncodeToMemory(pemBlock)),
		HasPassphrase: passphrase != "",
		CreatedBy:     createdBy,
		Description:   description,
	}

	if err := s.keys.Create(ctx, key); err != nil {
		if isConflict(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("registry: persisting generated key: %w", err)
	}
	return key, nil
}

// ImportKey parses an existing PEM-encoded private key (optionally
// passphrase-protected), validates it, and stores it. Duplicates by
// fingerprint are rejected with the name of the existing key
// (original_source/services/ssh_key_manager.py: import_key).
func (s *Service) ImportKey(ctx context.Context, name string, pemBytes []byte, passphrase, description, createdBy string) (*db.SSHKey, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}

	var raw any
	var err error
	if passphrase != "" {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		raw, err = ssh.ParseRawPrivateKey(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: could not parse private key: %v", ErrInvalid, err)
	}

	var keyType string
	var pub ssh.PublicKey
	switch k := raw.(type) {
	case *rsa.PrivateKey:
		keyType = "rsa"
		pub, err = ssh.NewPublicKey(&k.PublicKey)
	case *ed25519.PrivateKey:
		keyType = "ed25519"
		pub, err = ssh.NewPublicKey(k.Public())
	case ed25519.PrivateKey:
		keyType = "ed25519"
		pub, err = ssh.NewPublicKey(k.Public())
	default:
		return nil, fmt.Errorf("%w: unsupported key type for import", ErrInvalid)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: deriving public key on import: %w", err)
	}

	fingerprint := calculateFingerprint(pub)
	if existing, err := s.keys.GetByFingerprint(ctx, fingerprint); err == nil {
		return nil, fmt.Errorf("%w: collides with existing key %q", ErrConflict, existing.Name)
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("registry: checking fingerprint uniqueness: %w", err)
	}

	key := &db.SSHKey{
		Name:          name,
		Fingerprint:   fingerprint,
		KeyType:       keyType,
		PublicKey:     string(ssh.MarshalAuthorizedKey(pub)),
		PrivateKeyPEM: db.EncryptedString(pemBytes),
		HasPassphrase: passphrase != "",
		CreatedBy:     createdBy,
		Description:   description,
	}

	if err := s.keys.Create(ctx, key); err != nil {
		if isConflict(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("registry: persisting imported key: %w", err)
	}
	return key, nil
}

// UpdateKey changes only the name and/or description of an existing key.
// Key material, type, and fingerprint are immutable after creation.
func (s *Service) UpdateKey(ctx context.Context, id uuid.UUID, name, description *string) error {
	key, err := s.GetKey(ctx, id)
	if err != nil {
		return err
	}
	if name != nil {
		key.Name = *name
	}
	if description != nil {
		key.Description = *description
	}
	if err := s.keys.Update(ctx, key); err != nil {
		if isConflict(err) {
			return ErrConflict
		}
		return fmt.Errorf("registry: update key %s: %w", id, err)
	}
	return nil
}

// DeleteKey removes an SSH key, refusing if any target still references it
// (spec.md §4.2: "refuses if servers_count > 0").
func (s *Service) DeleteKey(ctx context.Context, id uuid.UUID) error {
	count, err := s.ServersCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrKeyInUse
	}
	if err := s.keys.Delete(ctx, id); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("registry: delete key %s: %w", id, err)
	}
	return nil
}

// GetDecryptedPrivateKey returns the PEM-encoded private key for id after
// verifying passphrase unlocks it. The PEM bytes themselves are already
// plaintext in memory (EncryptedString decrypts transparently on read) — the
// passphrase check here guards against handing out key material the caller
// cannot actually use, and re-validates passphrase correctness on every call.
func (s *Service) GetDecryptedPrivateKey(ctx context.Context, id uuid.UUID, passphrase string) ([]byte, error) {
	key, err := s.GetKey(ctx, id)
	if err != nil {
		return nil, err
	}

	pemBytes := []byte(key.PrivateKeyPEM)
	if key.HasPassphrase {
		if _, err := ssh.ParseRawPrivateKeyWithPassphrase(pemBytes, []byte(passphrase)); err != nil {
			return nil, fmt.Errorf("%w: passphrase does not unlock key %q", ErrInvalid, key.Name)
		}
	} else if _, err := ssh.ParseRawPrivateKey(pemBytes); err != nil {
		return nil, fmt.Errorf("registry: stored key %q failed to parse: %w", key.Name, err)
	}

	return pemBytes, nil
}

// calculateFingerprint implements the exact algorithm from
// original_source/services/ssh_key_manager.py:calculate_fingerprint —
// "SHA256:" followed by the unpadded standard base64 encoding of the SHA-256
// digest of the public key's SSH wire-format bytes.
func calculateFingerprint(pub ssh.PublicKey) string {
	sum := sha256.Sum256(pub.Marshal())
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// marshalPrivateKey encodes priv as an OpenSSH PEM block, encrypted with
// passphrase if non-empty.
func marshalPrivateKey(priv any, comment, passphrase string) (*pem.Block, error) {
	if passphrase != "" {
		return ssh.MarshalPrivateKeyWithPassphrase(priv, comment, []byte(passphrase))
	}
	return ssh.MarshalPrivateKey(priv, comment)
}

// isConflict bridges the repository package's string-identified ErrConflict
// sentinel, following the same pattern as isNotFound in registry.go.
func isConflict(err error) bool {
	return err != nil && err.Error() == repository.ErrConflict.Error()
}
