package mcp

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/token"
)

// withToken adds the optional per-call credential parameter every gated
// tool accepts.
func withToken() mcp.ToolOption {
	return mcp.WithString("token",
		mcp.Description("Access token (enact_...). Optional if a session was established with the authenticate tool."),
	)
}

// registerTools registers all legislative data tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Session tools -----

	srv.AddTool(
		mcp.NewTool("authenticate",
			mcp.WithDescription(
				"Authenticate this MCP session with an access token. After a "+
					"successful call the token is remembered for the rest of the "+
					"session and does not need to be passed to each tool.",
			),
			mcp.WithString("token",
				mcp.Required(),
				mcp.Description("Access token issued by the operator (enact_...)"),
			),
		),
		s.handleAuthenticate,
	)

	srv.AddTool(
		mcp.NewTool("get_token_info",
			mcp.WithDescription(
				"Show the authenticated token's name, permission tier, allowed "+
					"tools, and usage statistics for the last 24 hours.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
		),
		s.secured("get_token_info", s.handleTokenInfo),
	)

	// ----- Congress.gov tools (read_only tier and up) -----

	srv.AddTool(
		mcp.NewTool("search_bills",
			mcp.WithDescription(
				"Search bills and resolutions in Congress by keyword. Returns "+
					"matching bills with their number, title, latest action, and "+
					"sponsor. Use get_bill for the full detail record.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithString("query",
				mcp.Description("Search keywords (e.g. \"clean energy\")"),
			),
			mcp.WithNumber("congress",
				mcp.Description("Congress number to search within (e.g. 118). Omit for all."),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of bills to return (default 10, max 250)"),
			),
		),
		s.secured("search_bills", s.handleSearchBills),
	)

	srv.AddTool(
		mcp.NewTool("get_bill",
			mcp.WithDescription(
				"Get the full detail record for one bill: sponsors, committees, "+
					"actions, related bills, and text versions.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithNumber("congress",
				mcp.Required(),
				mcp.Description("Congress number (e.g. 118)"),
			),
			mcp.WithString("bill_type",
				mcp.Required(),
				mcp.Description("Bill type: hr, s, hjres, sjres, hconres, sconres, hres, or sres"),
			),
			mcp.WithNumber("bill_number",
				mcp.Required(),
				mcp.Description("Bill number (e.g. 1234 for H.R. 1234)"),
			),
		),
		s.secured("get_bill", s.handleGetBill),
	)

	srv.AddTool(
		mcp.NewTool("get_member",
			mcp.WithDescription(
				"Get a member of Congress by bioguide ID: party, state, terms "+
					"served, and sponsored legislation counts.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithString("bioguide_id",
				mcp.Required(),
				mcp.Description("Bioguide identifier (e.g. \"P000197\")"),
			),
		),
		s.secured("get_member", s.handleGetMember),
	)

	srv.AddTool(
		mcp.NewTool("get_committee",
			mcp.WithDescription(
				"Get a congressional committee by chamber and system code, "+
					"including its subcommittees and jurisdiction.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithString("chamber",
				mcp.Required(),
				mcp.Description("Chamber: house, senate, or joint"),
			),
			mcp.WithString("committee_code",
				mcp.Required(),
				mcp.Description("Committee system code (e.g. \"hsju00\" for House Judiciary)"),
			),
		),
		s.secured("get_committee", s.handleGetCommittee),
	)

	srv.AddTool(
		mcp.NewTool("get_congress_overview",
			mcp.WithDescription(
				"Get the overview for one congress: session dates, chamber "+
					"composition, and leadership.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithNumber("congress",
				mcp.Description("Congress number (default: the current congress)"),
			),
		),
		s.secured("get_congress_overview", s.handleCongressOverview),
	)

	srv.AddTool(
		mcp.NewTool("get_legislative_process",
			mcp.WithDescription(
				"Explain how a bill becomes law: the stages of the US "+
					"legislative process from introduction to enactment.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
		),
		s.secured("get_legislative_process", s.handleLegislativeProcess),
	)

	srv.AddTool(
		mcp.NewTool("search_amendments",
			mcp.WithDescription(
				"Search amendments offered in Congress by keyword, with their "+
					"purpose, sponsor, and disposition.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithString("query",
				mcp.Description("Search keywords"),
			),
			mcp.WithNumber("congress",
				mcp.Description("Congress number to search within. Omit for all."),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of amendments to return (default 10, max 250)"),
			),
		),
		s.secured("search_amendments", s.handleSearchAmendments),
	)

	// ----- Full data tools (standard tier and up) -----

	srv.AddTool(
		mcp.NewTool("get_votes",
			mcp.WithDescription(
				"List recent recorded House votes with their result, totals, "+
					"and the question voted on. Requires the standard tier.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithNumber("congress",
				mcp.Description("Congress number. Omit for the most recent votes."),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of votes to return (default 10, max 250)"),
			),
		),
		s.secured("get_votes", s.handleGetVotes),
	)

	srv.AddTool(
		mcp.NewTool("search_govinfo",
			mcp.WithDescription(
				"Full-text search across GovInfo's official document collections "+
					"(public laws, congressional record, federal register, and "+
					"more). Requires the standard tier.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Search query"),
			),
			mcp.WithString("collection",
				mcp.Description("Restrict to one collection code (e.g. PLAW, CREC, FR)"),
			),
			mcp.WithNumber("page_size",
				mcp.Description("Results per page (default 10, max 100)"),
			),
		),
		s.secured("search_govinfo", s.handleSearchGovInfo),
	)

	srv.AddTool(
		mcp.NewTool("get_public_law",
			mcp.WithDescription(
				"Get the official record of an enacted public law by congress "+
					"and law number. Requires the standard tier.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithNumber("congress",
				mcp.Required(),
				mcp.Description("Congress number (e.g. 118)"),
			),
			mcp.WithNumber("law_number",
				mcp.Required(),
				mcp.Description("Law number within the congress (e.g. 5 for Public Law 118-5)"),
			),
		),
		s.secured("get_public_law", s.handleGetPublicLaw),
	)

	srv.AddTool(
		mcp.NewTool("get_congressional_record",
			mcp.WithDescription(
				"List Congressional Record issues published in a date range. "+
					"Requires the standard tier.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithString("start_date",
				mcp.Required(),
				mcp.Description("Start date, YYYY-MM-DD"),
			),
			mcp.WithString("end_date",
				mcp.Description("End date, YYYY-MM-DD (default: start date)"),
			),
			mcp.WithNumber("page_size",
				mcp.Description("Results per page (default 10, max 100)"),
			),
		),
		s.secured("get_congressional_record", s.handleCongressionalRecord),
	)

	srv.AddTool(
		mcp.NewTool("get_federal_register",
			mcp.WithDescription(
				"List Federal Register issues published in a date range. "+
					"Requires the standard tier.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithString("start_date",
				mcp.Required(),
				mcp.Description("Start date, YYYY-MM-DD"),
			),
			mcp.WithString("end_date",
				mcp.Description("End date, YYYY-MM-DD (default: start date)"),
			),
			mcp.WithNumber("page_size",
				mcp.Description("Results per page (default 10, max 100)"),
			),
		),
		s.secured("get_federal_register", s.handleFederalRegister),
	)

	srv.AddTool(
		mcp.NewTool("calculate_legislative_stats",
			mcp.WithDescription(
				"Compute summary statistics over a congress's recent bills: "+
					"counts by bill type and originating chamber. Requires the "+
					"standard tier.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			withToken(),
			mcp.WithNumber("congress",
				mcp.Required(),
				mcp.Description("Congress number (e.g. 118)"),
			),
			mcp.WithNumber("sample_size",
				mcp.Description("Number of recent bills to sample (default 100, max 250)"),
			),
		),
		s.secured("calculate_legislative_stats", s.handleLegislativeStats),
	)
}

// =========================================================================
// Session tool handlers
// =========================================================================

// handleAuthenticate validates a token and pins it to the session. It is
// the only tool that takes the credential as its subject rather than as a
// transport concern, so it does not go through the secured wrapper.
func (s *MCPServer) handleAuthenticate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	secret, err := requireString(request, "token")
	if err != nil {
		return toolError("%v", err)
	}

	ident, err := s.gate.Authenticate(ctx, secret, "", callerIP(ctx))
	if err != nil {
		s.logger.Warn("session authentication failed", "error", err)
		return toolError("Authentication failed: %s", token.PublicMessage(err))
	}

	pinned := s.pinSession(ctx, secret)
	s.logger.Info("session authenticated",
		"token_id", ident.TokenID, "tier", ident.Tier, "session_pinned", pinned)

	return successJSON(map[string]any{
		"authenticated":  true,
		"session_pinned": pinned,
		"name":           ident.Name,
		"tier":           ident.Tier,
		"allowed_tools":  allowedToolNames(ident),
	})
}

// handleTokenInfo reports the authenticated token's identity and recent
// usage.
func (s *MCPServer) handleTokenInfo(ctx context.Context, request mcp.CallToolRequest, ident *model.Identity) (*mcp.CallToolResult, error) {
	stats, err := s.mgr.UsageStats(ctx, ident.TokenID, 24*time.Hour)
	if err != nil {
		return toolError("Failed to load usage statistics: %v", err)
	}
	return successJSON(map[string]any{
		"token_id":      ident.TokenID,
		"name":          ident.Name,
		"tier":          ident.Tier,
		"allowed_tools": allowedToolNames(ident),
		"usage_24h":     stats,
	})
}

// allowedToolNames resolves the effective tool list for an identity: the
// explicit allow-list when present, the tier's tool set otherwise.
func allowedToolNames(ident *model.Identity) []string {
	if ident.AllowedTools != nil {
		return ident.AllowedTools
	}
	if ident.Tier == model.TierReadOnly {
		return model.ReadOnlyTools()
	}
	return []string{"all tools for tier " + string(ident.Tier)}
}

// =========================================================================
// Congress.gov tool handlers
// =========================================================================

func (s *MCPServer) handleSearchBills(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	query := optionalString(request, "query")
	congress := optionalInt(request, "congress", 0)
	limit := clamp(optionalInt(request, "limit", 10), 1, 250)

	out, err := s.congress.SearchBills(ctx, query, congress, limit)
	if err != nil {
		return toolError("Bill search failed: %v", err)
	}
	return successJSON(out)
}

func (s *MCPServer) handleGetBill(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	congress := optionalInt(request, "congress", 0)
	if congress <= 0 {
		return toolError("congress must be a positive number")
	}
	billType, err := requireString(request, "bill_type")
	if err != nil {
		return toolError("%v", err)
	}
	number := optionalInt(request, "bill_number", 0)
	if number <= 0 {
		return toolError("bill_number must be a positive number")
	}

	out, err := s.congress.GetBill(ctx, congress, billType, number)
	if err != nil {
		return toolError("Failed to fetch bill %d/%s/%d: %v", congress, billType, number, err)
	}
	return successJSON(out)
}

func (s *MCPServer) handleGetMember(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	bioguide, err := requireString(request, "bioguide_id")
	if err != nil {
		return toolError("%v", err)
	}
	out, err := s.congress.GetMember(ctx, bioguide)
	if err != nil {
		return toolError("Failed to fetch member %q: %v", bioguide, err)
	}
	return successJSON(out)
}

func (s *MCPServer) handleGetCommittee(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	chamber, err := requireString(request, "chamber")
	if err != nil {
		return toolError("%v", err)
	}
	code, err := requireString(request, "committee_code")
	if err != nil {
		return toolError("%v", err)
	}
	out, err := s.congress.GetCommittee(ctx, chamber, code)
	if err != nil {
		return toolError("Failed to fetch committee %s/%s: %v", chamber, code, err)
	}
	return successJSON(out)
}

// currentCongress is the default congress when a caller does not specify
// one. Congresses last two years; the 119th convened in January 2025.
const currentCongress = 119

func (s *MCPServer) handleCongressOverview(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	congress := optionalInt(request, "congress", currentCongress)
	out, err := s.congress.GetCongress(ctx, congress)
	if err != nil {
		return toolError("Failed to fetch congress %d: %v", congress, err)
	}
	return successJSON(out)
}

func (s *MCPServer) handleLegislativeProcess(_ context.Context, _ mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(legislativeProcessText), nil
}

func (s *MCPServer) handleSearchAmendments(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	query := optionalString(request, "query")
	congress := optionalInt(request, "congress", 0)
	limit := clamp(optionalInt(request, "limit", 10), 1, 250)

	out, err := s.congress.SearchAmendments(ctx, query, congress, limit)
	if err != nil {
		return toolError("Amendment search failed: %v", err)
	}
	return successJSON(out)
}

func (s *MCPServer) handleGetVotes(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	congress := optionalInt(request, "congress", 0)
	limit := clamp(optionalInt(request, "limit", 10), 1, 250)

	out, err := s.congress.GetVotes(ctx, congress, limit)
	if err != nil {
		return toolError("Failed to fetch votes: %v", err)
	}
	return successJSON(out)
}

// =========================================================================
// GovInfo tool handlers
// =========================================================================

func (s *MCPServer) handleSearchGovInfo(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	query, err := requireString(request, "query")
	if err != nil {
		return toolError("%v", err)
	}
	collection := optionalString(request, "collection")
	pageSize := clamp(optionalInt(request, "page_size", 10), 1, 100)

	out, err := s.govinfo.Search(ctx, query, collection, pageSize)
	if err != nil {
		return toolError("GovInfo search failed: %v", err)
	}
	return successJSON(out)
}

func (s *MCPServer) handleGetPublicLaw(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	congress := optionalInt(request, "congress", 0)
	lawNumber := optionalInt(request, "law_number", 0)
	if congress <= 0 || lawNumber <= 0 {
		return toolError("congress and law_number must be positive numbers")
	}

	out, err := s.govinfo.GetPublicLaw(ctx, congress, lawNumber)
	if err != nil {
		return toolError("Failed to fetch Public Law %d-%d: %v", congress, lawNumber, err)
	}
	return successJSON(out)
}

func (s *MCPServer) handleCongressionalRecord(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	return s.handlePublished(ctx, request, "CREC", "Congressional Record")
}

func (s *MCPServer) handleFederalRegister(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	return s.handlePublished(ctx, request, "FR", "Federal Register")
}

func (s *MCPServer) handlePublished(ctx context.Context, request mcp.CallToolRequest, collection, label string) (*mcp.CallToolResult, error) {
	start, err := requireString(request, "start_date")
	if err != nil {
		return toolError("%v", err)
	}
	if _, err := time.Parse("2006-01-02", start); err != nil {
		return toolError("start_date must be YYYY-MM-DD")
	}
	end := optionalString(request, "end_date")
	if end == "" {
		end = start
	} else if _, err := time.Parse("2006-01-02", end); err != nil {
		return toolError("end_date must be YYYY-MM-DD")
	}
	pageSize := clamp(optionalInt(request, "page_size", 10), 1, 100)

	out, err := s.govinfo.ListPublished(ctx, collection, start, end, pageSize)
	if err != nil {
		return toolError("Failed to fetch %s issues: %v", label, err)
	}
	return successJSON(out)
}

// =========================================================================
// Statistics
// =========================================================================

func (s *MCPServer) handleLegislativeStats(ctx context.Context, request mcp.CallToolRequest, _ *model.Identity) (*mcp.CallToolResult, error) {
	congress := optionalInt(request, "congress", 0)
	if congress <= 0 {
		return toolError("congress must be a positive number")
	}
	sampleSize := clamp(optionalInt(request, "sample_size", 100), 1, 250)

	out, err := s.congress.ListBills(ctx, congress, 0, sampleSize)
	if err != nil {
		return toolError("Failed to fetch bills for congress %d: %v", congress, err)
	}

	stats := computeBillStats(congress, out)
	return successJSON(stats)
}

// billStats summarizes a sample of a congress's recent bills.
type billStats struct {
	Congress      int            `json:"congress"`
	SampleSize    int            `json:"sample_size"`
	ByType        map[string]int `json:"by_type"`
	ByChamber     map[string]int `json:"by_origin_chamber"`
	LatestAction  string         `json:"latest_action_date,omitempty"`
	EarliestInSet string         `json:"earliest_action_date,omitempty"`
}

// computeBillStats tallies the bills array of a Congress.gov listing
// payload. Unrecognized entries are skipped rather than failing the call.
func computeBillStats(congress int, payload map[string]any) billStats {
	stats := billStats{
		Congress:  congress,
		ByType:    map[string]int{},
		ByChamber: map[string]int{},
	}

	bills, _ := payload["bills"].([]any)
	for _, raw := range bills {
		bill, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		stats.SampleSize++
		if t, ok := bill["type"].(string); ok && t != "" {
			stats.ByType[t]++
		}
		if c, ok := bill["originChamber"].(string); ok && c != "" {
			stats.ByChamber[c]++
		}
		if action, ok := bill["latestAction"].(map[string]any); ok {
			if date, ok := action["actionDate"].(string); ok && date != "" {
				if stats.LatestAction == "" || date > stats.LatestAction {
					stats.LatestAction = date
				}
				if stats.EarliestInSet == "" || date < stats.EarliestInSet {
					stats.EarliestInSet = date
				}
			}
		}
	}
	return stats
}
