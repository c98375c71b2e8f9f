package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repositories"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repository"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/settings"
)

// SettingsHandler groups the two unrelated "settings" concerns exposed over
// HTTP: the runtime tuning knobs in settings.Service (spec.md §6's bounds
// table: collect_interval, retention_months, ...) and OIDC provider config.
// Every route here is admin-only, enforced by RequireRole("admin") in the
// router.
type SettingsHandler struct {
	svc      *settings.Service
	oidcRepo repositories.OIDCProviderRepository
	logger   *zap.Logger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(svc *settings.Service, oidcRepo repositories.OIDCProviderRepository, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		svc:      svc,
		oidcRepo: oidcRepo,
		logger:   logger.Named("settings_handler"),
	}
}

// -----------------------------------------------------------------------------
// Runtime settings (spec.md §6)
// -----------------------------------------------------------------------------

// settingValueResponse is the JSON representation of one parsed setting.
type settingValueResponse struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

func settingToResponse(key string, v settings.Value) settingValueResponse {
	resp := settingValueResponse{Key: key}
	switch v.Kind {
	case settings.KindInt:
		resp.Kind, resp.Value = "int", v.Int
	case settings.KindBool:
		resp.Kind, resp.Value = "bool", v.Bool
	default:
		resp.Kind, resp.Value = "string", v.Str
	}
	return resp
}

// ListSettings handles GET /api/v1/settings (admin only).
// Returns every known setting's current value.
func (h *SettingsHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	values, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list settings", zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]settingValueResponse, 0, len(values))
	for key, v := range values {
		items = append(items, settingToResponse(key, v))
	}
	Ok(w, items)
}

// updateSettingRequest is the JSON body for PUT /api/v1/settings/{key}.
// Value is always sent as a string — settings.Service.Set parses and
// bounds-checks it against spec.md §6's table.
type updateSettingRequest struct {
	Value string `json:"value"`
}

// UpdateSetting handles PUT /api/v1/settings/{key} (admin only).
// Out-of-range or malformed values are a 400 (spec.md §7 kind 1: input
// violation, never logged as an error).
func (h *SettingsHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	key := chiURLParam(r, "key")

	var req updateSettingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.svc.Set(r.Context(), key, req.Value); err != nil {
		if errors.Is(err, settings.ErrUnknownKey) {
			ErrNotFound(w)
			return
		}
		if errors.Is(err, settings.ErrOutOfRange) {
			ErrBadRequest(w, err.Error())
			return
		}
		h.logger.Error("failed to update setting", zap.String("key", key), zap.Error(err))
		ErrInternal(w)
		return
	}

	v, err := h.svc.Get(r.Context(), key)
	if err != nil {
		ErrInternal(w)
		return
	}
	Ok(w, settingToResponse(key, v))
}

// -----------------------------------------------------------------------------
// OIDC provider configuration
// -----------------------------------------------------------------------------

// oidcProviderResponse is the JSON representation of an OIDC provider config.
// ClientSecret is intentionally omitted — it is write-only and never returned.
type oidcProviderResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Issuer      string `json:"issuer"`
	ClientID    string `json:"client_id"`
	RedirectURL string `json:"redirect_url"`
	Scopes      string `json:"scopes"`
	Enabled     bool   `json:"enabled"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// oidcProviderToResponse converts a db.OIDCProvider to an oidcProviderResponse.
func oidcProviderToResponse(p *db.OIDCProvider) oidcProviderResponse {
	return oidcProviderResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Issuer:      p.Issuer,
		ClientID:    p.ClientID,
		RedirectURL: p.RedirectURL,
		Scopes:      p.Scopes,
		Enabled:     p.Enabled,
		CreatedAt:   p.CreatedAt.UTC().String(),
		UpdatedAt:   p.UpdatedAt.UTC().String(),
	}
}

// GetOIDC handles GET /api/v1/settings/oidc (admin only).
// Returns the currently configured OIDC provider, or 404 if none is configured.
func (h *SettingsHandler) GetOIDC(w http.ResponseWriter, r *http.Request) {
	provider, err := h.oidcRepo.GetEnabled(r.Context())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get OIDC provider", zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, oidcProviderToResponse(provider))
}

// upsertOIDCRequest is the JSON body expected by PUT /api/v1/settings/oidc.
// PUT semantics: the entire configuration is replaced on each call.
// Only one OIDC provider is supported at a time.
type upsertOIDCRequest struct {
	Name         string `json:"name"`
	Issuer       string `json:"issuer"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURL  string `json:"redirect_url"`
	Scopes       string `json:"scopes"`
	Enabled      bool   `json:"enabled"`
}

// UpsertOIDC handles PUT /api/v1/settings/oidc (admin only).
// Creates the OIDC provider configuration if none exists, or replaces the
// existing one. ClientSecret is encrypted at rest automatically by
// EncryptedString.
func (h *SettingsHandler) UpsertOIDC(w http.ResponseWriter, r *http.Request) {
	var req upsertOIDCRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validateUpsertOIDC(&req); err != nil {
		ErrBadRequest(w, err.Error())
		return
	}

	if req.Scopes == "" {
		req.Scopes = "openid email profile"
	}

	existing, err := h.oidcRepo.GetEnabled(r.Context())
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		h.logger.Error("failed to check existing OIDC provider", zap.Error(err))
		ErrInternal(w)
		return
	}

	if existing != nil {
		existing.Name = req.Name
		existing.Issuer = req.Issuer
		existing.ClientID = req.ClientID
		existing.ClientSecret = db.EncryptedString(req.ClientSecret)
		existing.RedirectURL = req.RedirectURL
		existing.Scopes = req.Scopes
		existing.Enabled = req.Enabled

		if err := h.oidcRepo.Update(r.Context(), existing); err != nil {
			h.logger.Error("failed to update OIDC provider", zap.Error(err))
			ErrInternal(w)
			return
		}

		Ok(w, oidcProviderToResponse(existing))
		return
	}

	provider := &db.OIDCProvider{
		Name:         req.Name,
		Issuer:       req.Issuer,
		ClientID:     req.ClientID,
		ClientSecret: db.EncryptedString(req.ClientSecret),
		RedirectURL:  req.RedirectURL,
		Scopes:       req.Scopes,
		Enabled:      req.Enabled,
	}

	if err := h.oidcRepo.Create(r.Context(), provider); err != nil {
		h.logger.Error("failed to create OIDC provider", zap.Error(err))
		ErrInternal(w)
		return
	}

	Created(w, oidcProviderToResponse(provider))
}

// validateUpsertOIDC checks required fields for OIDC provider configuration.
func validateUpsertOIDC(req *upsertOIDCRequest) error {
	if req.Name == "" {
		return errors.New("name is required")
	}
	if req.Issuer == "" {
		return errors.New("issuer is required")
	}
	if req.ClientID == "" {
		return errors.New("client_id is required")
	}
	if req.ClientSecret == "" {
		return errors.New("client_secret is required")
	}
	if req.RedirectURL == "" {
		return errors.New("redirect_url is required")
	}
	return nil
}
