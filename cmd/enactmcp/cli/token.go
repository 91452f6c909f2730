package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/store"
	"github.com/enactai/enactmcp/internal/token"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
		Long:  "Create, inspect, revoke, and rotate the access tokens that gate the MCP tools.",
	}

	cmd.AddCommand(newTokenCreateCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenShowCmd())
	cmd.AddCommand(newTokenRevokeCmd())
	cmd.AddCommand(newTokenRotateCmd())
	cmd.AddCommand(newTokenVerifyCmd())
	cmd.AddCommand(newTokenAnalyticsCmd())
	cmd.AddCommand(newTokenCleanupCmd())

	return cmd
}

// openManager builds a token manager against the configured store. The
// caller must Close the returned store.
func openManager() (*token.Manager, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open token store: %w", err)
	}
	// CLI output belongs to the command results, so manager logs are muted.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	mgr, err := buildManager(cfg, st, logger)
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return mgr, st, nil
}

// ---------- token create ----------

func newTokenCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		tier        string
		rateLimit   int
		allowTools  []string
		ipAllow     []string
		expiresDays int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new access token",
		Long:  "Generate a new access token. The raw secret is shown once and cannot be retrieved again.",
		Example: `  enactmcp token create --name "research-bot" --tier read_only
  enactmcp token create --name ci --tier standard --rate-limit 500 --expires-days 90
  enactmcp token create --name office --tier admin --ip 10.0.0.0/24 --ip 192.168.1.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCreate(name, description, tier, rateLimit, allowTools, ipAllow, expiresDays)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Unique token name (required)")
	cmd.Flags().StringVar(&description, "description", "", "Human-readable description")
	cmd.Flags().StringVar(&tier, "tier", "standard", "Access tier: read_only, standard, or admin")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per rolling window (0 = default)")
	cmd.Flags().StringArrayVar(&allowTools, "allow", nil, "Restrict to a specific tool (repeatable)")
	cmd.Flags().StringArrayVar(&ipAllow, "ip", nil, "Allowed caller IP or CIDR (repeatable)")
	cmd.Flags().IntVar(&expiresDays, "expires-days", 0, "Days until expiry (0 = never)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runTokenCreate(name, description, tier string, rateLimit int, allowTools, ipAllow []string, expiresDays int) error {
	mgr, st, err := openManager()
	if err != nil {
		return err
	}
	defer st.Close()

	params := token.CreateParams{
		Name:         name,
		Description:  description,
		Tier:         model.Tier(tier),
		RateLimit:    rateLimit,
		AllowedTools: allowTools,
		IPWhitelist:  ipAllow,
	}
	if expiresDays > 0 {
		d := time.Duration(expiresDays) * 24 * time.Hour
		params.ExpiresIn = &d
	}

	tok, secret, err := mgr.CreateToken(context.Background(), params)
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}

	fmt.Println("Access token created:")
	fmt.Println()
	fmt.Printf("  Secret: %s\n", secret)
	fmt.Printf("  ID:     %s\n", tok.ID)
	fmt.Printf("  Name:   %s\n", tok.Name)
	fmt.Printf("  Tier:   %s\n", tok.Tier)
	if tok.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", tok.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this secret now - it cannot be retrieved again.")
	return nil
}

// ---------- token list ----------

func newTokenListCmd() *cobra.Command {
	var (
		jsonOutput bool
		all        bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List access tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenList(jsonOutput, all)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&all, "all", false, "Include revoked and expired tokens")

	return cmd
}

func runTokenList(jsonOutput, all bool) error {
	mgr, st, err := openManager()
	if err != nil {
		return err
	}
	defer st.Close()

	tokens, err := mgr.ListTokens(context.Background(), all)
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tokens)
	}

	if len(tokens) == 0 {
		fmt.Println("No tokens. Use 'enactmcp token create' to issue one.")
		return nil
	}

	fmt.Printf("%-22s %-38s %-10s %-7s %8s\n", "NAME", "ID", "TIER", "ACTIVE", "USES")
	fmt.Printf("%-22s %-38s %-10s %-7s %8s\n", "----", "--", "----", "------", "----")
	for _, tok := range tokens {
		active := "yes"
		if !tok.IsActive {
			active = "no"
		}
		fmt.Printf("%-22s %-38s %-10s %-7s %8d\n", tok.Name, tok.ID, tok.Tier, active, tok.UsageCount)
	}
	return nil
}

// ---------- token show ----------

func newTokenShowCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "show <id-or-name>",
		Short: "Show a token and its recent usage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenShow(args[0], hours)
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "Usage window in hours")

	return cmd
}

func runTokenShow(idOrName string, hours int) error {
	mgr, st, err := openManager()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	tok, err := mgr.GetToken(ctx, idOrName)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	stats, err := mgr.UsageStats(ctx, tok.ID, time.Duration(hours)*time.Hour)
	if err != nil {
		return fmt.Errorf("usage stats: %w", err)
	}

	out := map[string]any{
		"token": tok,
		"usage": stats,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ---------- token revoke ----------

func newTokenRevokeCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "revoke <id-or-name>",
		Short: "Revoke a token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenRevoke(args[0], reason)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit trail")

	return cmd
}

func runTokenRevoke(idOrName, reason string) error {
	mgr, st, err := openManager()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := mgr.RevokeToken(context.Background(), idOrName, "cli", reason); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	fmt.Printf("Token %q revoked.\n", idOrName)
	return nil
}

// ---------- token rotate ----------

func newTokenRotateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rotate <id-or-name>",
		Short: "Rotate a token, minting a fresh secret",
		Long:  "Revoke the existing secret and issue a replacement token with the same policy settings.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenRotate(args[0])
		},
	}

	return cmd
}

func runTokenRotate(idOrName string) error {
	mgr, st, err := openManager()
	if err != nil {
		return err
	}
	defer st.Close()

	tok, secret, err := mgr.RotateToken(context.Background(), idOrName, "cli")
	if err != nil {
		return fmt.Errorf("rotate token: %w", err)
	}

	fmt.Println("Token rotated:")
	fmt.Println()
	fmt.Printf("  New secret: %s\n", secret)
	fmt.Printf("  New ID:     %s\n", tok.ID)
	fmt.Println()
	fmt.Println("  The old secret no longer works. Save the new one now.")
	return nil
}

// ---------- token verify ----------

func newTokenVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check whether a token secret authenticates",
		Long: `Prompt for a token secret (without echo) and run it through the full
authentication path: format, revocation, expiry, and rate limit checks.
The attempt counts against the token's rate limit like any other use.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenVerify()
		},
	}

	return cmd
}

func runTokenVerify() error {
	secret, err := readSecret("Token secret: ")
	if err != nil {
		return err
	}

	mgr, st, err := openManager()
	if err != nil {
		return err
	}
	defer st.Close()

	ident, err := mgr.Authenticate(context.Background(), secret, "", "")
	if err != nil {
		return fmt.Errorf("verification failed: %s", token.PublicMessage(err))
	}

	fmt.Println("Token is valid.")
	fmt.Printf("  Name: %s\n", ident.Name)
	fmt.Printf("  Tier: %s\n", ident.Tier)
	if len(ident.AllowedTools) > 0 {
		fmt.Printf("  Tools: %s\n", strings.Join(ident.AllowedTools, ", "))
	}
	return nil
}

// readSecret reads a secret from the terminal without echoing it. When
// stdin is not a terminal (piped input) it falls back to reading a line.
func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read secret: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", errors.New("no secret provided on stdin")
	}
	return strings.TrimSpace(line), nil
}

// ---------- token analytics ----------

func newTokenAnalyticsCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show system-wide usage analytics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenAnalytics(hours)
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "Analytics window in hours")

	return cmd
}

func runTokenAnalytics(hours int) error {
	mgr, st, err := openManager()
	if err != nil {
		return err
	}
	defer st.Close()

	analytics, err := mgr.Analytics(context.Background(), time.Duration(hours)*time.Hour)
	if err != nil {
		return fmt.Errorf("analytics: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(analytics)
}

// ---------- token cleanup ----------

func newTokenCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire stale tokens and purge old usage events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCleanup()
		},
	}

	return cmd
}

func runTokenCleanup() error {
	mgr, st, err := openManager()
	if err != nil {
		return err
	}
	defer st.Close()

	expired, purged, err := mgr.Cleanup(context.Background())
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	fmt.Printf("Expired tokens: %d\n", expired)
	fmt.Printf("Purged events:  %d\n", purged)
	return nil
}
