package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enactmcp",
		Short: "Token-gated MCP gateway for U.S. legislative data",
		Long: `EnactMCP exposes Congress.gov and GovInfo as MCP tools for AI agents,
behind a self-hosted token authentication layer: tiered access tokens,
per-token rate limits, IP allow-lists, and full usage analytics.

Run it over stdio for Claude Desktop, or as an HTTP server with the
admin dashboard API and a streamable MCP endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./enactmcp.yaml, then ~/.enactmcp/enactmcp.yaml)")

	cobra.OnInitialize(initConfig)

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

func initConfig() {
	// Secrets come from the environment so they never land in a file:
	// ENACTMCP_AUTH_TOKEN_SECRET_KEY, ENACTMCP_UPSTREAM_CONGRESS_API_KEY, etc.
	viper.SetEnvPrefix("ENACTMCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
