package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/enactai/enactmcp/internal/config"
	"github.com/enactai/enactmcp/internal/govdata"
	"github.com/enactai/enactmcp/internal/mcp"
	"github.com/enactai/enactmcp/internal/server"
	"github.com/enactai/enactmcp/internal/service"
	"github.com/enactai/enactmcp/internal/token"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server hosting the admin dashboard API under
/api/v1/system and the streamable MCP endpoint under /mcp.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP listen port (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP listen host (overrides config)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger, logCloser := config.NewLogger(cfg.Logging)
	defer logCloser.Close()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer st.Close()

	mgr, err := buildManager(cfg, st, logger)
	if err != nil {
		return err
	}

	jwtExpiry, err := cfg.JWTExpiry()
	if err != nil {
		return err
	}
	sessions := service.NewSessionService(token.NewGate(mgr), cfg.Auth.JWTSecret, jwtExpiry)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret not set, dashboard login is disabled")
	}

	mcpSrv, err := buildMCPServer(cfg, mgr, logger)
	if err != nil {
		return err
	}

	shutdownTimeout, err := cfg.ShutdownTimeout()
	if err != nil {
		return err
	}
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORS.Origins,
		IPRateLimit:     cfg.Auth.IPRateLimit,
	}
	srv := server.New(srvCfg, st, mgr, sessions, mcpSrv.HTTPHandler(), logger)

	cleanupInterval, err := cfg.CleanupInterval()
	if err != nil {
		return err
	}
	go runCleanupLoop(cleanupInterval, mgr, logger)

	fmt.Printf("→ EnactMCP listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ MCP endpoint:  http://%s:%d/mcp\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Dashboard API: http://%s:%d/api/v1/system\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:        http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}

// buildMCPServer wires the upstream API clients and the token gate into an
// MCP server instance.
func buildMCPServer(cfg *config.Config, mgr *token.Manager, logger *slog.Logger) (*mcp.MCPServer, error) {
	timeout, err := cfg.UpstreamTimeout()
	if err != nil {
		return nil, err
	}
	if cfg.Upstream.CongressAPIKey == "" {
		logger.Warn("upstream.congress_api_key not set, Congress.gov calls will be rejected upstream")
	}
	if cfg.Upstream.GovInfoAPIKey == "" {
		logger.Warn("upstream.govinfo_api_key not set, GovInfo calls will be rejected upstream")
	}

	congress := govdata.NewCongress(cfg.Upstream.CongressURL, cfg.Upstream.CongressAPIKey, timeout)
	govinfo := govdata.NewGovInfo(cfg.Upstream.GovInfoURL, cfg.Upstream.GovInfoAPIKey, timeout)
	return mcp.NewMCPServer(token.NewGate(mgr), mgr, congress, govinfo, logger), nil
}

// runCleanupLoop expires stale tokens and purges old usage events on the
// configured interval, for as long as the process runs.
func runCleanupLoop(interval time.Duration, mgr *token.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		expired, purged, err := mgr.Cleanup(ctx)
		cancel()
		if err != nil {
			logger.Error("periodic cleanup failed", "error", err)
			continue
		}
		if expired > 0 || purged > 0 {
			logger.Info("periodic cleanup", "expired_tokens", expired, "purged_events", purged)
		}
	}
}
