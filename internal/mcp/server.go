package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/course-tutor/internal/github"
	"github.com/bull/course-tutor/internal/tutor"
)

const defaultVersion = "v0.1.0"

// Server wraps the MCP server with dependencies.
type Server struct {
	server  *mcp.Server
	tutor   *tutor.Service
	github  *github.Fetcher
	version string
	tools   []ToolInfo
	logger  *slog.Logger
}

// Config holds server dependencies.
type Config struct {
	Tutor   *tutor.Service
	GitHub  *github.Fetcher // Optional; enables ingest with github=true
	Version string
	Logger  *slog.Logger
}

// ToolInfo names a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = defaultVersion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "course-tutor",
			Version: version,
		}, nil),
		tutor:   cfg.Tutor,
		github:  cfg.GitHub,
		version: version,
		logger:  logger,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	addTool(s, "ask", "Ask the math tutor a question. Answers draw on the ingested course materials and a verified computation when the question asks to solve, simplify, differentiate, integrate, expand or factor an expression in backticks or dollar signs. Pass session_id to continue a conversation.", s.handleAsk)
	addTool(s, "compute", "Compute an exact symbolic result: simplify, solve, derivative, integral, expand or factor. Returns plain text and LaTeX.", s.handleCompute)
	addTool(s, "quiz", "Generate practice problems with worked solutions on a topic, grounded in matching course materials when available.", s.handleQuiz)
	addTool(s, "ingest", "Ingest course materials (pdf, txt, md) from server-side paths or from the configured GitHub repository. Unchanged documents are skipped.", s.handleIngest)
	addTool(s, "list_documents", "List the ingested course documents.", s.handleListDocuments)
	addTool(s, "delete_document", "Remove an ingested document and its chunks from the index.", s.handleDeleteDocument)
	addTool(s, "stats", "Report index size, embedding dimension, live sessions and cached computations.", s.handleStats)
	addTool(s, "create_session", "Start a tutoring session. A session id is generated when none is given.", s.handleCreateSession)
	addTool(s, "get_session", "Describe a live tutoring session.", s.handleGetSession)
	addTool(s, "list_sessions", "List live tutoring sessions, most recently active first.", s.handleListSessions)
	addTool(s, "delete_session", "End a tutoring session and discard its history.", s.handleDeleteSession)
	addTool(s, "session_history", "Return a session's conversation turns, oldest first. Set clear to start over afterwards.", s.handleHistory)
}

func addTool[In, Out any](s *Server, name, description string, h mcp.ToolHandlerFor[In, Out]) {
	mcp.AddTool(s.server, &mcp.Tool{Name: name, Description: description}, h)
	s.tools = append(s.tools, ToolInfo{Name: name, Description: description})
}

// Tools lists the registered tools in registration order.
func (s *Server) Tools() []ToolInfo {
	return s.tools
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
