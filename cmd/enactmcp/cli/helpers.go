package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/enactai/enactmcp/internal/config"
	"github.com/enactai/enactmcp/internal/store"
	"github.com/enactai/enactmcp/internal/token"
)

// resolveConfigPath returns the config file from --config, a local
// enactmcp.yaml, or ~/.enactmcp/enactmcp.yaml as fallback. The file does
// not have to exist; config.Load falls back to defaults.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat("enactmcp.yaml"); err == nil {
		return "enactmcp.yaml"
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".enactmcp", "enactmcp.yaml")
}

// loadConfig loads the effective configuration: file (or defaults)
// overlaid with ENACTMCP_* environment variables for the secret-bearing
// fields, so keys never need to be written to disk.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	if v := viper.GetString("auth.token_secret_key"); v != "" {
		cfg.Auth.TokenSecretKey = v
	}
	if v := viper.GetString("auth.jwt_secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("upstream.congress_api_key"); v != "" {
		cfg.Upstream.CongressAPIKey = v
	}
	if v := viper.GetString("upstream.govinfo_api_key"); v != "" {
		cfg.Upstream.GovInfoAPIKey = v
	}
	if v := viper.GetString("database.postgres_dsn"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	return cfg, nil
}

// openStore opens the configured token store backend: Postgres when a DSN
// is set, embedded SQLite otherwise.
func openStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Database.PostgresDSN != "" {
		return store.NewPostgresStore(cfg.Database.PostgresDSN)
	}
	return store.NewStore(cfg.Database.DataDir)
}

// buildManager wires the token manager on top of an open store.
func buildManager(cfg *config.Config, st *store.Store, logger *slog.Logger) (*token.Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sec, err := token.NewSecurity(cfg.Auth.TokenSecretKey)
	if err != nil {
		return nil, fmt.Errorf("token security: %w", err)
	}

	window, err := cfg.RateWindow()
	if err != nil {
		return nil, err
	}
	mc := token.ManagerConfig{
		RateWindow:     window,
		UsageRetention: cfg.UsageRetention(),
	}
	return token.NewManager(st, sec, mc, logger), nil
}

// versionString returns a display version string.
func versionString(v string) string {
	if v == "" || v == "dev" {
		return "dev"
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
