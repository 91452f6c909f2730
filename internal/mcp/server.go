package mcp

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/enactai/enactmcp/internal/govdata"
	"github.com/enactai/enactmcp/internal/token"
)

// MCPServer wraps the mcp-go server with the legislative data tools. Every
// data tool is gated on a bearer token issued by the token manager; callers
// either pass the token with each call or establish a session once via the
// authenticate tool.
type MCPServer struct {
	gate     *token.Gate
	mgr      *token.Manager
	congress *govdata.Congress
	govinfo  *govdata.GovInfo
	logger   *slog.Logger
	server   *server.MCPServer

	// Credentials pinned by the authenticate tool, keyed by MCP client
	// session ID so one client's login never bleeds into another's calls
	// on the multi-client HTTP transport.
	sessionMu      sync.Mutex
	sessionSecrets map[string]string
}

// NewMCPServer creates an MCPServer pre-loaded with all legislative tools
// and resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(gate *token.Gate, mgr *token.Manager, congress *govdata.Congress, govinfo *govdata.GovInfo, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		gate:           gate,
		mgr:            mgr,
		congress:       congress,
		govinfo:        govinfo,
		logger:         logger,
		sessionSecrets: make(map[string]string),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, sess server.ClientSession) {
		s.clearSession(sess.SessionID())
	})

	mcpServer := server.NewMCPServer(
		"EnactAI Legislative Data",
		"0.1.0",
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode. This is the primary
// integration path for Claude Code, Claude Desktop, and other MCP clients
// that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server,
		server.WithHTTPContextFunc(withClientIP))
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

// HTTPHandler returns the Streamable HTTP transport as an http.Handler,
// for mounting inside an existing router instead of a dedicated listener.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHTTPContextFunc(withClientIP))
}

// pinSession binds the secret to the calling client's MCP session after a
// successful authenticate call. Returns false when the transport carries
// no client session, in which case callers must pass the token per call.
func (s *MCPServer) pinSession(ctx context.Context, secret string) bool {
	sess := server.ClientSessionFromContext(ctx)
	if sess == nil {
		return false
	}
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessionSecrets[sess.SessionID()] = secret
	return true
}

// sessionCredential returns the secret pinned to the calling client's
// session. Empty for other sessions and for sessionless transports.
func (s *MCPServer) sessionCredential(ctx context.Context) string {
	sess := server.ClientSessionFromContext(ctx)
	if sess == nil {
		return ""
	}
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.sessionSecrets[sess.SessionID()]
}

func (s *MCPServer) clearSession(sessionID string) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	delete(s.sessionSecrets, sessionID)
}

type clientIPKey struct{}

// withClientIP records the HTTP caller's address in the request context so
// tool-level authentication can enforce token IP allow-lists.
func withClientIP(ctx context.Context, r *http.Request) context.Context {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return context.WithValue(ctx, clientIPKey{}, host)
}

// callerIP returns the recorded client address, empty on stdio.
func callerIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
