package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enactai/enactmcp/internal/config"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server exposing the legislative
data tools. Supports stdio (default) and standalone HTTP transports.

In stdio mode the server communicates over stdin/stdout using JSON-RPC,
suitable for direct integration with Claude Desktop or other MCP clients.
Clients authenticate per call with a "token" argument or once per
session via the authenticate tool.`,
		Example: `  enactmcp mcp                               # stdio mode (for Claude Desktop)
  enactmcp mcp --transport http --port 3001  # standalone streamable HTTP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "", "Transport mode: stdio or http (overrides config)")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if transport != "" {
		cfg.MCP.Transport = transport
	}

	// Stdio mode owns stdout for JSON-RPC, so logs must go to stderr or a
	// file regardless of what the config says about format.
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

	mcpSrv, err := buildMCPServer(cfg, mgr, logger)
	if err != nil {
		return err
	}

	switch cfg.MCP.Transport {
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	case "stdio":
		return mcpSrv.ServeStdio()
	default:
		return fmt.Errorf("unknown MCP transport %q (want stdio or http)", cfg.MCP.Transport)
	}
}
