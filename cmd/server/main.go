package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/api"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/audit"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/auth"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/collector"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/pool"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/registry"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repository"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/scheduler"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/settings"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/sshexec"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/syslog"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/warehouse"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// warehousePoolKey identifies the Warehouse's own connection pool in the
// Remote Pool's key space. It is not a monitored target, so it uses a
// reserved host value no real Target can collide with.
var warehousePoolKey = pool.Key{Host: "__warehouse__", Port: 0, User: "warehouse", Database: "warehouse"}

type config struct {
	httpAddr        string
	dbDriver        string
	dbDSN           string
	warehouseDSN    string
	secretKey       string
	logLevel        string
	dataDir         string
	secureCookies   bool
	strictHostKeys  bool
	knownHostsFile  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "pgam-server",
		Short: "pgam-server — centralized PostgreSQL activity monitor",
		Long: `pgam-server periodically samples activity, size, and topology from a
set of monitored PostgreSQL clusters over SSH and direct connections,
stores the readings in a time-series warehouse, and exposes a REST API
for querying history and live activity.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("PGAM_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("PGAM_DB_DRIVER", "sqlite"), "Local metadata database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("PGAM_DB_DSN", "./pgam.db"), "Local metadata database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.warehouseDSN, "warehouse-dsn", envOrDefault("PGAM_WAREHOUSE_DSN", ""), "PostgreSQL DSN for the time-series warehouse (required)")
	root.PersistentFlags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("PGAM_SECRET_KEY", ""), "Master secret key for encrypting credentials at rest (required)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("PGAM_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.dataDir, "data-dir", envOrDefault("PGAM_DATA_DIR", "./data"), "Directory for server data (JWT keys, etc.)")
	root.PersistentFlags().BoolVar(&cfg.secureCookies, "secure-cookies", envOrDefault("PGAM_SECURE_COOKIES", "false") == "true", "Set Secure flag on auth cookies (enable in production over HTTPS)")
	root.PersistentFlags().BoolVar(&cfg.strictHostKeys, "strict-host-keys", envOrDefault("PGAM_STRICT_HOST_KEYS", "false") == "true", "Reject unknown SSH host keys instead of accepting any host key (recommended in production)")
	root.PersistentFlags().StringVar(&cfg.knownHostsFile, "known-hosts-file", envOrDefault("PGAM_KNOWN_HOSTS_FILE", ""), "known_hosts file to verify target SSH host keys against when --strict-host-keys is set (defaults to <data-dir>/known_hosts)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pgam-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or PGAM_SECRET_KEY")
	}
	if cfg.warehouseDSN == "" {
		return fmt.Errorf("warehouse DSN is required — set --warehouse-dsn or PGAM_WAREHOUSE_DSN")
	}

	logger.Info("starting pgam server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// InitEncryption must be called before opening the database so that
	// EncryptedString fields can encrypt/decrypt transparently on read/write.
	// The secret key is padded or truncated to exactly 32 bytes (AES-256).
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Local metadata database (users, targets, ssh keys) ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to local database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Remote Pool and Warehouse ---
	poolMgr := pool.NewManager(logger)
	defer poolMgr.CloseAll()

	whPool, err := poolMgr.Pool(ctx, warehousePoolKey, cfg.warehouseDSN, pool.DefaultWarehouseConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	wh := warehouse.New(whPool, logger)
	if err := wh.Bootstrap(ctx); err != nil {
		return fmt.Errorf("failed to bootstrap warehouse schema: %w", err)
	}

	// --- 4. Repositories ---
	userRepo := repository.NewUserRepository(gormDB)
	refreshTokenRepo := repository.NewRefreshTokenRepository(gormDB)
	oidcProviderRepo := repository.NewOIDCProviderRepository(gormDB)
	targetRepo := repository.NewTargetRepository(gormDB)
	sshKeyRepo := repository.NewSSHKeyRepository(gormDB)

	// --- 5. Target Registry, SSH executor, Collector ---
	cascadeAdapter := &registryCascade{wh: wh, pool: poolMgr}
	reg := registry.NewService(targetRepo, sshKeyRepo, cascadeAdapter, logger)

	var hostKeyCallback ssh.HostKeyCallback
	if cfg.strictHostKeys {
		hostKeyCallback, err = buildHostKeyCallback(cfg.dataDir, cfg.knownHostsFile)
		if err != nil {
			return fmt.Errorf("failed to load known_hosts for --strict-host-keys: %w", err)
		}
	}
	sshExec := sshexec.NewExecutor(logger, cfg.strictHostKeys, hostKeyCallback)
	col := collector.New(poolMgr, sshExec, wh, reg, logger)

	// --- 6. Settings, audit, system log ---
	settingsSvc := settings.NewService(wh)
	auditRecorder := audit.NewRecorder(wh)
	syslogWriter := syslog.NewWriter(wh)

	// --- 7. Scheduler ---
	sched := scheduler.New(reg, col, wh, settingsSvc, syslogWriter, auditRecorder, logger)
	go sched.Run(ctx)

	// --- 8. Auth ---
	// In development (no data dir or missing key files), ephemeral keys are
	// generated in memory. In production, persistent PEM files are used so
	// tokens survive server restarts.
	jwtManager, err := buildJWTManager(cfg.dataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}

	localProvider := auth.NewLocalAuthProvider(userRepo, refreshTokenRepo, jwtManager)
	oidcProvider := auth.NewOIDCAuthProvider(oidcProviderRepo, userRepo, refreshTokenRepo, jwtManager)
	authService := auth.NewAuthService(localProvider, oidcProvider, refreshTokenRepo, jwtManager)

	// --- 9. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		AuthService:   authService,
		Users:         userRepo,
		OIDCProviders: oidcProviderRepo,
		Registry:      reg,
		Settings:      settingsSvc,
		Warehouse:     wh,
		Pool:          poolMgr,
		Logger:        logger,
		Secure:        cfg.secureCookies,
	})

	httpSrv := &http.Server{
		Addr:         cfg.httpAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down pgam server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("pgam server stopped")
	return nil
}

// registryCascade adapts the Warehouse and Remote Pool to registry.Cascade,
// so target deletion cleans up statistics/db_info rows and any open pool
// without the Registry depending on either package directly.
type registryCascade struct {
	wh   *warehouse.Warehouse
	pool *pool.Manager
}

func (c *registryCascade) DeleteTargetData(ctx context.Context, name string) error {
	return c.wh.DeleteTargetData(ctx, name)
}

func (c *registryCascade) ClosePool(host string) {
	c.pool.ClosePoolsForHost(host)
}

// buildHostKeyCallback loads a known_hosts file and returns a callback that
// rejects any target host key not already present in it. knownHostsFile
// overrides the default location of <dataDir>/known_hosts when non-empty.
// Entries are added with ssh-keyscan/ssh ahead of time; this never
// auto-trusts a key the way ssh.InsecureIgnoreHostKey does.
func buildHostKeyCallback(dataDir, knownHostsFile string) (ssh.HostKeyCallback, error) {
	path := knownHostsFile
	if path == "" {
		path = filepath.Join(dataDir, "known_hosts")
	}
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("reading known_hosts file %q: %w", path, err)
	}
	return cb, nil
}

// buildJWTManager loads RSA keys from the data directory if available,
// or generates ephemeral in-memory keys for development.
func buildJWTManager(dataDir string, logger *zap.Logger) (*auth.JWTManager, error) {
	privPath := filepath.Join(dataDir, "jwt_private.pem")
	pubPath := filepath.Join(dataDir, "jwt_public.pem")

	if _, err := os.Stat(privPath); err == nil {
		logger.Info("loading JWT keys from disk", zap.String("private", privPath))
		return auth.NewJWTManagerFromFiles(privPath, pubPath, "pgam-server")
	}

	logger.Warn("JWT key files not found — using ephemeral in-memory keys (tokens will be invalidated on restart)",
		zap.String("expected_private", privPath),
	)
	return auth.NewJWTManagerGenerated("pgam-server")
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
