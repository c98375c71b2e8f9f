package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/registry"
)

// TargetHandler exposes the Target Registry (spec.md §6's `/servers` CRUD
// surface) over HTTP. All routes are authenticated; mutating routes are
// admin-only in the router.
type TargetHandler struct {
	reg    *registry.Service
	logger *zap.Logger
}

// NewTargetHandler creates a new TargetHandler.
func NewTargetHandler(reg *registry.Service, logger *zap.Logger) *TargetHandler {
	return &TargetHandler{reg: reg, logger: logger.Named("target_handler")}
}

// targetResponse is the JSON representation of a Target. Credential fields
// (PgPassword, SSHPassword, SSHKeyPassphrase) are intentionally omitted —
// they are write-only.
type targetResponse struct {
	Name        string  `json:"name"`
	Host        string  `json:"host"`
	PgPort      int     `json:"pg_port"`
	PgUser      string  `json:"pg_user"`
	SSHUser     string  `json:"ssh_user"`
	SSHPort     int     `json:"ssh_port"`
	SSHAuthType string  `json:"ssh_auth_type"`
	SSHKeyID    *string `json:"ssh_key_id"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

func targetToResponse(t *db.Target) targetResponse {
	resp := targetResponse{
		Name:        t.Name,
		Host:        t.Host,
		PgPort:      t.PgPort,
		PgUser:      t.PgUser,
		SSHUser:     t.SSHUser,
		SSHPort:     t.SSHPort,
		SSHAuthType: t.SSHAuthType,
		CreatedAt:   t.CreatedAt.UTC().String(),
		UpdatedAt:   t.UpdatedAt.UTC().String(),
	}
	if t.SSHKeyID != nil {
		s := t.SSHKeyID.String()
		resp.SSHKeyID = &s
	}
	return resp
}

// List handles GET /api/v1/servers.
func (h *TargetHandler) List(w http.ResponseWriter, r *http.Request) {
	targets, err := h.reg.ListTargets(r.Context())
	if err != nil {
		h.logger.Error("failed to list targets", zap.Error(err))
		ErrInternal(w)
		return
	}
	items := make([]targetResponse, len(targets))
	for i := range targets {
		items[i] = targetToResponse(&targets[i])
	}
	Ok(w, items)
}

// GetByName handles GET /api/v1/servers/{name}.
func (h *TargetHandler) GetByName(w http.ResponseWriter, r *http.Request) {
	name := chiURLParam(r, "name")
	t, err := h.reg.GetTarget(r.Context(), name)
	if err != nil {
		writeRegistryError(w, h.logger, "get target", err)
		return
	}
	Ok(w, targetToResponse(t))
}

// createTargetRequest is the JSON body for POST /api/v1/servers.
type createTargetRequest struct {
	Name             string     `json:"name"`
	Host             string     `json:"host"`
	PgPort           int        `json:"pg_port"`
	PgUser           string     `json:"pg_user"`
	PgPassword       string     `json:"pg_password"`
	SSHUser          string     `json:"ssh_user"`
	SSHPort          int        `json:"ssh_port"`
	SSHAuthType      string     `json:"ssh_auth_type"`
	SSHPassword      string     `json:"ssh_password,omitempty"`
	SSHKeyID         *uuid.UUID `json:"ssh_key_id,omitempty"`
	SSHKeyPassphrase string     `json:"ssh_key_passphrase,omitempty"`
}

// Create handles POST /api/v1/servers (admin only).
func (h *TargetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PgPort == 0 {
		req.PgPort = 5432
	}
	if req.SSHPort == 0 {
		req.SSHPort = 22
	}

	t := &db.Target{
		Name:             req.Name,
		Host:             req.Host,
		PgPort:           req.PgPort,
		PgUser:           req.PgUser,
		PgPassword:       db.EncryptedString(req.PgPassword),
		SSHUser:          req.SSHUser,
		SSHPort:          req.SSHPort,
		SSHAuthType:      req.SSHAuthType,
		SSHPassword:      db.EncryptedString(req.SSHPassword),
		SSHKeyID:         req.SSHKeyID,
		SSHKeyPassphrase: db.EncryptedString(req.SSHKeyPassphrase),
	}

	if err := h.reg.CreateTarget(r.Context(), t); err != nil {
		writeRegistryError(w, h.logger, "create target", err)
		return
	}
	Created(w, targetToResponse(t))
}

// updateTargetRequest is the JSON body for PUT /api/v1/servers/{name}.
// All fields are optional partial-update fields.
type updateTargetRequest struct {
	Host             *string    `json:"host"`
	PgPort           *int       `json:"pg_port"`
	PgUser           *string    `json:"pg_user"`
	PgPassword       *string    `json:"pg_password"`
	SSHUser          *string    `json:"ssh_user"`
	SSHPort          *int       `json:"ssh_port"`
	SSHAuthType      *string    `json:"ssh_auth_type"`
	SSHPassword      *string    `json:"ssh_password"`
	SSHKeyID         *uuid.UUID `json:"ssh_key_id"`
	SSHKeyPassphrase *string    `json:"ssh_key_passphrase"`
}

// Update handles PUT /api/v1/servers/{name} (admin only).
func (h *TargetHandler) Update(w http.ResponseWriter, r *http.Request) {
	name := chiURLParam(r, "name")

	var req updateTargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	patch := registry.TargetPatch{
		Host:             req.Host,
		PgPort:           req.PgPort,
		PgUser:           req.PgUser,
		PgPassword:       req.PgPassword,
		SSHUser:          req.SSHUser,
		SSHPort:          req.SSHPort,
		SSHAuthType:      req.SSHAuthType,
		SSHPassword:      req.SSHPassword,
		SSHKeyID:         req.SSHKeyID,
		SSHKeyPassphrase: req.SSHKeyPassphrase,
	}

	if err := h.reg.UpdateTarget(r.Context(), name, patch); err != nil {
		writeRegistryError(w, h.logger, "update target", err)
		return
	}

	t, err := h.reg.GetTarget(r.Context(), name)
	if err != nil {
		writeRegistryError(w, h.logger, "get updated target", err)
		return
	}
	Ok(w, targetToResponse(t))
}

// Delete handles DELETE /api/v1/servers/{name} (admin only).
func (h *TargetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chiURLParam(r, "name")
	if err := h.reg.DeleteTarget(r.Context(), name); err != nil {
		writeRegistryError(w, h.logger, "delete target", err)
		return
	}
	NoContent(w)
}

// writeRegistryError maps registry.Service sentinel errors onto the HTTP
// status taxonomy of spec.md §7: input violation -> 400, not-found -> 404,
// conflict -> 409, unreachable -> 422 (well-formed but fails a business
// check), anything else -> 500 (logged, never exposed to the caller).
func writeRegistryError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		ErrNotFound(w)
	case errors.Is(err, registry.ErrInvalid):
		ErrBadRequest(w, err.Error())
	case errors.Is(err, registry.ErrConflict):
		ErrConflict(w, err.Error())
	case errors.Is(err, registry.ErrKeyInUse):
		ErrConflict(w, err.Error())
	case errors.Is(err, registry.ErrUnreachable):
		ErrUnprocessable(w, err.Error())
	default:
		logger.Error(op+" failed", zap.Error(err))
		ErrInternal(w)
	}
}
