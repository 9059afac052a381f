package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Status      JobStatusReader
	Documents   DocumentReader
	Collections CollectionInspector
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	impl := &mcp.Implementation{
		Name:    "pdfchat-ingestion",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_job_status",
		Description: "Get the state (queued, active, completed, failed) and progress of a PDF ingestion job.",
	}, makeJobStatusHandler(cfg.Status))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List the PDFs a user has indexed, newest first, with page, chunk and live vector counts.",
	}, makeListDocumentsHandler(cfg.Documents, cfg.Collections))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_document",
		Description: "Get one indexed PDF by collection name and check that its vector collection is complete.",
	}, makeGetDocumentHandler(cfg.Documents, cfg.Collections))

	return &Server{server: server}
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
