package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/registry"
)

// SSHKeyHandler exposes SSH key management (spec.md §6's `/ssh-keys` surface)
// over HTTP. Listing and reading keys is open to every authenticated role;
// generate, import, update, delete and export are admin-only.
type SSHKeyHandler struct {
	reg    *registry.Service
	logger *zap.Logger
}

// NewSSHKeyHandler creates a new SSHKeyHandler.
func NewSSHKeyHandler(reg *registry.Service, logger *zap.Logger) *SSHKeyHandler {
	return &SSHKeyHandler{reg: reg, logger: logger.Named("ssh_key_handler")}
}

// sshKeyResponse is the JSON representation of an SSHKey. PrivateKeyPEM is
// never included — it is exposed only via the dedicated export endpoint,
// and only after passphrase verification.
type sshKeyResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Fingerprint   string `json:"fingerprint"`
	KeyType       string `json:"key_type"`
	PublicKey     string `json:"public_key"`
	HasPassphrase bool   `json:"has_passphrase"`
	CreatedBy     string `json:"created_by"`
	Description   string `json:"description"`
	ServersCount  int64  `json:"servers_count"`
	CreatedAt     string `json:"created_at"`
}

func (h *SSHKeyHandler) keyToResponse(r *http.Request, k *db.SSHKey) sshKeyResponse {
	count, err := h.reg.ServersCount(r.Context(), k.ID)
	if err != nil {
		h.logger.Warn("failed to count servers for key", zap.String("id", k.ID.String()), zap.Error(err))
	}
	return sshKeyResponse{
		ID:            k.ID.String(),
		Name:          k.Name,
		Fingerprint:   k.Fingerprint,
		KeyType:       k.KeyType,
		PublicKey:     k.PublicKey,
		HasPassphrase: k.HasPassphrase,
		CreatedBy:     k.CreatedBy,
		Description:   k.Description,
		ServersCount:  count,
		CreatedAt:     k.CreatedAt.UTC().String(),
	}
}

// List handles GET /api/v1/ssh-keys.
func (h *SSHKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.reg.ListKeys(r.Context())
	if err != nil {
		h.logger.Error("failed to list ssh keys", zap.Error(err))
		ErrInternal(w)
		return
	}
	items := make([]sshKeyResponse, len(keys))
	for i := range keys {
		items[i] = h.keyToResponse(r, &keys[i])
	}
	Ok(w, items)
}

// GetByID handles GET /api/v1/ssh-keys/{id}.
func (h *SSHKeyHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	key, err := h.reg.GetKey(r.Context(), id)
	if err != nil {
		writeRegistryError(w, h.logger, "get ssh key", err)
		return
	}
	Ok(w, h.keyToResponse(r, key))
}

// generateKeyRequest is the JSON body for POST /api/v1/ssh-keys/generate.
type generateKeyRequest struct {
	Name        string `json:"name"`
	KeyType     string `json:"key_type"` // "rsa" | "ed25519"
	Passphrase  string `json:"passphrase,omitempty"`
	Description string `json:"description,omitempty"`
}

// Generate handles POST /api/v1/ssh-keys/generate.
func (h *SSHKeyHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := claimsFromCtx(r.Context())
	createdBy := ""
	if claims != nil {
		createdBy = claims.Login
	}

	key, err := h.reg.GenerateKey(r.Context(), req.Name, req.KeyType, req.Passphrase, req.Description, createdBy)
	if err != nil {
		writeRegistryError(w, h.logger, "generate ssh key", err)
		return
	}
	Created(w, h.keyToResponse(r, key))
}

// importKeyRequest is the JSON body for POST /api/v1/ssh-keys/import.
// PrivateKeyPEM is base64-encoded in the request body to keep the PEM's
// embedded newlines out of the JSON string.
type importKeyRequest struct {
	Name          string `json:"name"`
	PrivateKeyPEM string `json:"private_key_pem"`
	Passphrase    string `json:"passphrase,omitempty"`
	Description   string `json:"description,omitempty"`
}

// Import handles POST /api/v1/ssh-keys/import.
func (h *SSHKeyHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	pemBytes, err := base64.StdEncoding.DecodeString(req.PrivateKeyPEM)
	if err != nil {
		ErrBadRequest(w, "private_key_pem must be base64-encoded")
		return
	}

	claims := claimsFromCtx(r.Context())
	createdBy := ""
	if claims != nil {
		createdBy = claims.Login
	}

	key, err := h.reg.ImportKey(r.Context(), req.Name, pemBytes, req.Passphrase, req.Description, createdBy)
	if err != nil {
		writeRegistryError(w, h.logger, "import ssh key", err)
		return
	}
	Created(w, h.keyToResponse(r, key))
}

// updateKeyRequest is the JSON body for PATCH /api/v1/ssh-keys/{id}.
type updateKeyRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Update handles PATCH /api/v1/ssh-keys/{id}.
func (h *SSHKeyHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req updateKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.reg.UpdateKey(r.Context(), id, req.Name, req.Description); err != nil {
		writeRegistryError(w, h.logger, "update ssh key", err)
		return
	}
	key, err := h.reg.GetKey(r.Context(), id)
	if err != nil {
		writeRegistryError(w, h.logger, "get updated ssh key", err)
		return
	}
	Ok(w, h.keyToResponse(r, key))
}

// Delete handles DELETE /api/v1/ssh-keys/{id}.
// Refuses with 409 if any target still references the key.
func (h *SSHKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.reg.DeleteKey(r.Context(), id); err != nil {
		if errors.Is(err, registry.ErrKeyInUse) {
			ErrConflict(w, "ssh key is still referenced by one or more servers")
			return
		}
		writeRegistryError(w, h.logger, "delete ssh key", err)
		return
	}
	NoContent(w)
}

// exportKeyRequest is the JSON body for POST /api/v1/ssh-keys/{id}/export.
type exportKeyRequest struct {
	Passphrase string `json:"passphrase,omitempty"`
}

// exportKeyResponse returns the private key material base64-encoded, for
// the same reason importKeyRequest accepts it that way.
type exportKeyResponse struct {
	PrivateKeyPEM string `json:"private_key_pem"`
}

// Export handles POST /api/v1/ssh-keys/{id}/export.
// Requires the correct passphrase if the key is passphrase-protected.
func (h *SSHKeyHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}
	var req exportKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pemBytes, err := h.reg.GetDecryptedPrivateKey(r.Context(), id, req.Passphrase)
	if err != nil {
		writeRegistryError(w, h.logger, "export ssh key", err)
		return
	}
	Ok(w, exportKeyResponse{PrivateKeyPEM: base64.StdEncoding.EncodeToString(pemBytes)})
}
