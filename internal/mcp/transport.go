package mcp

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables MCP session management. Tutor sessions are
	// independent of it and are always addressed by session_id.
	Stateless bool
}

// NewHTTPHandler creates an HTTP handler for the MCP server using Streamable HTTP transport.
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}

	sdkOpts := &mcp.StreamableHTTPOptions{
		Stateless: opts.Stateless,
	}

	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server.MCPServer()
	}, sdkOpts)
}

// NewRouter mounts the MCP endpoint at /mcp, the health check at /health and
// the landing page at /.
func NewRouter(server *Server, health HealthChecker, opts *HTTPHandlerOptions) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/mcp", NewHTTPHandler(server, opts))
	r.HandleFunc("/health", NewHealthHandler(health)).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/", NewLandingHandler(server)).Methods(http.MethodGet)
	return r
}
