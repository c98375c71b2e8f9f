package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/auth"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/metrics"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/pool"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/registry"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repositories"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/settings"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/warehouse"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct to keep the constructor signature
// manageable as the number of dependencies grows.
type RouterConfig struct {
	AuthService  *auth.AuthService
	Users        repositories.UserRepository
	OIDCProviders repositories.OIDCProviderRepository
	Registry     *registry.Service
	Settings     *settings.Service
	Warehouse    *warehouse.Warehouse
	Pool         *pool.Manager
	Logger       *zap.Logger

	// Secure controls whether auth cookies are set with the Secure flag.
	// Set to true in production (HTTPS), false in local development.
	Secure bool
}

// NewRouter builds and returns the fully configured Chi router.
// API routes are registered under /api/v1 (spec.md §6/§9's HTTP surface);
// /healthz and /metrics are mounted at the root, outside authentication.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// --- Global middleware ---
	// RequestID generates a unique ID for each request, used in logs and
	// response headers for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// headers when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	// RequestLogger logs every request with method, path, status and bytes written.
	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches panics in handlers, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Health)
	r.Handle("/metrics", metrics.Handler())

	// --- Initialize handlers ---
	authHandler := NewAuthHandler(cfg.AuthService, cfg.Logger, cfg.Secure)
	userHandler := NewUserHandler(cfg.Users, cfg.Logger)
	targetHandler := NewTargetHandler(cfg.Registry, cfg.Logger)
	sshKeyHandler := NewSSHKeyHandler(cfg.Registry, cfg.Logger)
	statsHandler := NewStatsHandler(cfg.Registry, cfg.Warehouse, cfg.Pool, cfg.Logger)
	settingsHandler := NewSettingsHandler(cfg.Settings, cfg.OIDCProviders, cfg.Logger)

	// jwtMgr is used by the Authenticate middleware to validate Bearer tokens.
	jwtMgr := cfg.AuthService.JWTManager()

	r.Route("/api/v1", func(r chi.Router) {

		// --- Public routes (no authentication required) ---
		r.Group(func(r chi.Router) {
			r.Post("/token", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			// OIDC flow — public because the user is not yet authenticated.
			r.Get("/auth/oidc/login", authHandler.OIDCLogin)
			r.Get("/auth/oidc/callback", authHandler.OIDCCallback)
		})

		// --- Authenticated routes (valid JWT required) ---
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(jwtMgr))

			r.Post("/logout", authHandler.Logout)

			// Current user profile
			r.Get("/users/me", userHandler.GetMe)
			r.Patch("/users/me", userHandler.UpdateMe)

			// Target Registry (read access for every authenticated role)
			r.Get("/servers", targetHandler.List)
			r.Get("/servers/{name}", targetHandler.GetByName)

			// SSH keys (read access for every authenticated role)
			r.Get("/ssh-keys", sshKeyHandler.List)
			r.Get("/ssh-keys/{id}", sshKeyHandler.GetByID)

			// Query API
			r.Get("/server_stats/{name}", statsHandler.CurrentActivity)
			r.Get("/server/{name}/stats", statsHandler.ServerTimeline)
			r.Get("/server/{name}/db/{db}", statsHandler.CurrentActivity)
			r.Get("/server/{name}/db/{db}/stats", statsHandler.DatabaseTimeline)

			// --- Admin-only routes ---
			r.Group(func(r chi.Router) {
				r.Use(RequireRole("admin"))

				// User management
				r.Get("/users", userHandler.List)
				r.Post("/users", userHandler.Create)
				r.Get("/users/{id}", userHandler.GetByID)
				r.Patch("/users/{id}", userHandler.Update)
				r.Delete("/users/{id}", userHandler.Delete)

				// Target Registry mutations
				r.Post("/servers", targetHandler.Create)
				r.Put("/servers/{name}", targetHandler.Update)
				r.Delete("/servers/{name}", targetHandler.Delete)

				// SSH key mutations
				r.Post("/ssh-keys/generate", sshKeyHandler.Generate)
				r.Post("/ssh-keys/import", sshKeyHandler.Import)
				r.Patch("/ssh-keys/{id}", sshKeyHandler.Update)
				r.Delete("/ssh-keys/{id}", sshKeyHandler.Delete)
				r.Post("/ssh-keys/{id}/export", sshKeyHandler.Export)

				// Runtime settings
				r.Get("/settings", settingsHandler.ListSettings)
				r.Put("/settings/{key}", settingsHandler.UpdateSetting)

				// OIDC provider configuration
				r.Get("/settings/oidc", settingsHandler.GetOIDC)
				r.Put("/settings/oidc", settingsHandler.UpsertOIDC)
			})
		})
	})

	return r
}
