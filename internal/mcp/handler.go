package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/enactai/enactmcp/internal/model"
	"github.com/enactai/enactmcp/internal/token"
)

// securedHandler is a tool handler that runs with a validated identity.
type securedHandler func(ctx context.Context, request mcp.CallToolRequest, ident *model.Identity) (*mcp.CallToolResult, error)

// secured wraps a tool handler with credential resolution, the full
// authentication check for toolName, and usage recording. The credential is
// taken from the call's "token" argument, falling back to whatever the
// authenticate tool pinned to this client's session.
func (s *MCPServer) secured(toolName string, h securedHandler) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		secret := optionalString(request, "token")
		if secret == "" {
			secret = s.sessionCredential(ctx)
		}
		if secret == "" {
			return toolError("No token provided. Pass a token argument or call the authenticate tool first.")
		}

		ident, err := s.gate.Authenticate(ctx, secret, toolName, callerIP(ctx))
		if err != nil {
			s.logger.Warn("tool call rejected", "tool", toolName, "error", err)
			return toolError("Authentication failed: %s", token.PublicMessage(err))
		}

		start := time.Now()
		result, err := h(ctx, request, ident)
		elapsed := time.Since(start)

		success := err == nil && (result == nil || !result.IsError)
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		} else if result != nil && result.IsError {
			errMsg = firstText(result)
		}
		s.mgr.RecordUsage(ctx, ident.TokenID, toolName, success, callerIP(ctx), "mcp", elapsed, errMsg)

		return result, err
	}
}

// firstText pulls the first text content out of a tool result, for error
// bookkeeping.
func firstText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalInt extracts an optional integer argument from the tool request.
func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
