package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level enactmcp configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	MCP       MCPConfig       `yaml:"mcp"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig controls the HTTP server behavior (dashboard API plus the
// streamable MCP endpoint).
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// AuthConfig controls the token authentication core.
type AuthConfig struct {
	// TokenSecretKey is the HMAC key under which token secrets are hashed.
	// Required: without a stable key every issued token dies on restart.
	TokenSecretKey string `yaml:"token_secret_key"`
	// JWTSecret signs dashboard session tokens. Optional; the dashboard
	// login endpoint is disabled when empty.
	JWTSecret string `yaml:"jwt_secret"`
	// JWTExpiry is the dashboard session lifetime, e.g. "1h".
	JWTExpiry string `yaml:"jwt_expiry"`
	// RateWindow is the rolling window token rate limits apply to.
	RateWindow string `yaml:"rate_window"`
	// IPRateLimit caps unauthenticated requests per IP per minute at the
	// HTTP edge, before any token is even parsed.
	IPRateLimit int `yaml:"ip_rate_limit"`
}

// DatabaseConfig selects the token store backend. SQLite under data_dir is
// the default; a non-empty postgres_dsn switches to a shared Postgres
// database for multi-process deployments.
type DatabaseConfig struct {
	DataDir     string `yaml:"data_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// UpstreamConfig holds the government API credentials and endpoints.
type UpstreamConfig struct {
	CongressAPIKey string `yaml:"congress_api_key"`
	GovInfoAPIKey  string `yaml:"govinfo_api_key"`
	CongressURL    string `yaml:"congress_url"`
	GovInfoURL     string `yaml:"govinfo_url"`
	Timeout        string `yaml:"timeout"`
}

// MCPConfig controls the MCP server transport.
type MCPConfig struct {
	Transport string `yaml:"transport"` // stdio or http
}

// LoggingConfig controls log output and rotation.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	// File enables rotating file output when set; stderr otherwise.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RetentionConfig controls the usage-event cleanup policy.
type RetentionConfig struct {
	UsageDays       int    `yaml:"usage_days"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "DELETE"},
			},
		},
		Auth: AuthConfig{
			JWTExpiry:   "1h",
			RateWindow:  "1h",
			IPRateLimit: 120,
		},
		Database: DatabaseConfig{
			DataDir: defaultDataDir(),
		},
		Upstream: UpstreamConfig{
			CongressURL: "https://api.congress.gov/v3",
			GovInfoURL:  "https://api.govinfo.gov",
			Timeout:     "30s",
		},
		MCP: MCPConfig{
			Transport: "stdio",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Retention: RetentionConfig{
			UsageDays:       30,
			CleanupInterval: "1h",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".enactmcp"
	}
	return home + "/.enactmcp"
}

// Load reads and parses a YAML configuration file over the defaults.
// Environment variables referenced as ${VAR_NAME} in the file are expanded
// before parsing. A missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the constraints a server process cannot start without.
func (c *Config) Validate() error {
	if c.Auth.TokenSecretKey == "" {
		return errors.New("auth.token_secret_key is required (set ENACTMCP_AUTH_TOKEN_SECRET_KEY)")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.MCP.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("mcp.transport %q must be stdio or http", c.MCP.Transport)
	}
	if _, err := c.RateWindow(); err != nil {
		return err
	}
	if _, err := c.UpstreamTimeout(); err != nil {
		return err
	}
	if _, err := c.JWTExpiry(); err != nil {
		return err
	}
	return nil
}

// RateWindow parses auth.rate_window.
func (c *Config) RateWindow() (time.Duration, error) {
	return parseDuration("auth.rate_window", c.Auth.RateWindow, time.Hour)
}

// UpstreamTimeout parses upstream.timeout.
func (c *Config) UpstreamTimeout() (time.Duration, error) {
	return parseDuration("upstream.timeout", c.Upstream.Timeout, 30*time.Second)
}

// JWTExpiry parses auth.jwt_expiry.
func (c *Config) JWTExpiry() (time.Duration, error) {
	return parseDuration("auth.jwt_expiry", c.Auth.JWTExpiry, time.Hour)
}

// ShutdownTimeout parses server.shutdown_timeout.
func (c *Config) ShutdownTimeout() (time.Duration, error) {
	return parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout, 30*time.Second)
}

// CleanupInterval parses retention.cleanup_interval.
func (c *Config) CleanupInterval() (time.Duration, error) {
	return parseDuration("retention.cleanup_interval", c.Retention.CleanupInterval, time.Hour)
}

// UsageRetention returns the usage-event retention window.
func (c *Config) UsageRetention() time.Duration {
	days := c.Retention.UsageDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

// WriteDefault writes a commented starter configuration to path.
func WriteDefault(path string) error {
	return os.WriteFile(path, []byte(defaultFileTemplate), 0o644)
}

const defaultFileTemplate = `# enactmcp configuration

server:
  host: 0.0.0.0
  port: 8080
  shutdown_timeout: 30s
  cors:
    origins:
      - "*"

auth:
  # HMAC key for hashing token secrets. Keep this stable across restarts
  # or every issued token becomes unverifiable.
  token_secret_key: ""   # or set ENACTMCP_AUTH_TOKEN_SECRET_KEY
  # Signs dashboard sessions; leave empty to disable dashboard login.
  jwt_secret: ""
  jwt_expiry: 1h
  rate_window: 1h
  ip_rate_limit: 120

database:
  # SQLite token store location. Set postgres_dsn instead to share token
  # state between several server processes.
  data_dir: ~/.enactmcp
  postgres_dsn: ""

upstream:
  congress_api_key: ""   # or set ENACTMCP_UPSTREAM_CONGRESS_API_KEY
  govinfo_api_key: ""
  congress_url: https://api.congress.gov/v3
  govinfo_url: https://api.govinfo.gov
  timeout: 30s

mcp:
  transport: stdio       # stdio or http

logging:
  level: info            # debug, info, warn, error
  format: text           # text or json
  file: ""               # rotating log file; stderr when empty
  max_size_mb: 50
  max_backups: 5
  max_age_days: 30
  compress: false

retention:
  usage_days: 30
  cleanup_interval: 1h
`
