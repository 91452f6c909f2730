package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/enactai/enactmcp/internal/model"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only reference material that LLM clients can load into
// their context without spending a tool call.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	srv.AddResource(
		mcp.NewResource(
			"congress://legislative-process",
			"How a Bill Becomes Law",
			mcp.WithResourceDescription(
				"Reference explanation of the US federal legislative process, "+
					"from introduction through committee, floor votes, and enactment.",
			),
			mcp.WithMIMEType("text/plain"),
		),
		s.handleProcessResource,
	)

	srv.AddResource(
		mcp.NewResource(
			"congress://tool-tiers",
			"Tool Permission Tiers",
			mcp.WithResourceDescription(
				"Which tools each token permission tier may call.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleTiersResource,
	)
}

func (s *MCPServer) handleProcessResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "congress://legislative-process",
			MIMEType: "text/plain",
			Text:     legislativeProcessText,
		},
	}, nil
}

func (s *MCPServer) handleTiersResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {
	tiers := map[string]any{
		"read_only": map[string]any{
			"description": "Basic legislative lookups",
			"tools":       model.ReadOnlyTools(),
		},
		"standard": map[string]any{
			"description": "All data tools, including GovInfo collections and statistics",
			"tools":       "read_only tools plus get_votes, search_govinfo, get_public_law, get_congressional_record, get_federal_register, calculate_legislative_stats",
		},
		"admin": map[string]any{
			"description": "All data tools plus token administration on the dashboard API",
		},
	}

	b, err := json.MarshalIndent(tiers, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tiers: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "congress://tool-tiers",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

const legislativeProcessText = `How a Bill Becomes Law

1. Introduction
   A member of the House or Senate introduces a bill. House bills are
   numbered H.R. N, Senate bills S. N. Joint, concurrent, and simple
   resolutions get their own prefixes (H.J.Res., S.Con.Res., H.Res., ...).

2. Committee referral
   The bill is referred to one or more committees with jurisdiction over
   its subject. Most bills die here. Committees hold hearings, mark the
   bill up, and may report it to the full chamber, with or without
   amendments.

3. Floor consideration
   The chamber debates the reported bill under rules set by the House
   Rules Committee or by Senate unanimous consent / cloture. Amendments
   may be offered, then the chamber votes. Passage requires a simple
   majority (the Senate usually needs 60 votes to end debate first).

4. The other chamber
   The bill repeats committee and floor consideration in the second
   chamber. If the second chamber amends it, the chambers reconcile the
   difference, either by amendment exchange or a conference committee,
   and both must pass identical text.

5. Presidential action
   The president signs the bill into law, vetoes it (Congress can
   override with two-thirds of both chambers), or lets it become law by
   taking no action for ten days while Congress is in session. An
   unsigned bill dies by pocket veto if Congress adjourns in that window.

6. Publication
   Enacted bills are assigned a Public Law number (e.g. Public Law 118-5)
   and published by the Office of the Federal Register and GovInfo.`
