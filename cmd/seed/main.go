// Command seed bootstraps a fresh installation with an initial admin user.
// The Warehouse seeds its own default Settings rows on startup
// (internal/warehouse/schema.go's Bootstrap) — this command only needs to
// cover the one thing that can't happen automatically: an admin account to
// log in with before any other admin exists.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/auth"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/db"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repository"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type seedConfig struct {
	dbDriver    string
	dbDSN       string
	secretKey   string
	login       string
	email       string
	password    string
	displayName string
}

func newRootCmd() *cobra.Command {
	cfg := &seedConfig{}

	root := &cobra.Command{
		Use:   "pgam-seed",
		Short: "Create the initial admin user for a new pgam-server installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("PGAM_DB_DRIVER", "sqlite"), "Local metadata database driver (sqlite or postgres)")
	root.Flags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("PGAM_DB_DSN", "./pgam.db"), "Local metadata database DSN or file path for SQLite")
	root.Flags().StringVar(&cfg.secretKey, "secret-key", envOrDefault("PGAM_SECRET_KEY", ""), "Master secret key for encrypting credentials at rest (required, must match pgam-server's)")
	root.Flags().StringVar(&cfg.login, "login", "admin", "Login name for the new admin user")
	root.Flags().StringVar(&cfg.email, "email", "", "Email address for the new admin user")
	root.Flags().StringVar(&cfg.password, "password", "", "Password for the new admin user (required)")
	root.Flags().StringVar(&cfg.displayName, "display-name", "Administrator", "Display name for the new admin user")

	return root
}

func run(ctx context.Context, cfg *seedConfig) error {
	if cfg.secretKey == "" {
		return fmt.Errorf("secret key is required — set --secret-key or PGAM_SECRET_KEY")
	}
	if cfg.password == "" {
		return fmt.Errorf("password is required — set --password")
	}

	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.secretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	logger := zap.NewNop()
	gormDB, err := db.New(db.Config{
		Driver:   cfg.dbDriver,
		DSN:      cfg.dbDSN,
		Logger:   logger,
		LogLevel: 0,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to local database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	hashed, err := auth.HashPassword(cfg.password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	userRepo := repository.NewUserRepository(gormDB)
	user := &db.User{
		Login:       cfg.login,
		Email:       cfg.email,
		Password:    db.EncryptedString(hashed),
		DisplayName: cfg.displayName,
		Role:        "admin",
		IsActive:    true,
	}

	if err := userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("a user with login %q already exists", cfg.login)
		}
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	fmt.Printf("created admin user %q (id %s)\n", cfg.login, user.ID)
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
