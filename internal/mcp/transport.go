package mcp

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/auth"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// tokenLifetime bounds how long a verified token is trusted by the SDK.
// Tokens are re-verified on every request.
const tokenLifetime = time.Hour

// HTTPHandlerOptions configures the HTTP transport behavior.
type HTTPHandlerOptions struct {
	// Stateless disables session management. The ingestion tools are plain
	// lookups, so cmd/mcp-server runs stateless unless MCP_STATEFUL is set.
	Stateless bool

	// Tokens maps bearer tokens to the user they act for. When set, requests
	// without a known token are rejected and document tools are pinned to
	// the token's user.
	Tokens map[string]string
}

// NewHTTPHandler creates an HTTP handler for the MCP server using Streamable HTTP transport.
// The handler can be mounted on any http.ServeMux path (e.g., "/mcp").
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, &mcpserver.HTTPHandlerOptions{Stateless: true}))
//	mux.HandleFunc("/health", health.NewHandler(checks))
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}

	sdkOpts := &mcp.StreamableHTTPOptions{
		Stateless: opts.Stateless,
	}

	var h http.Handler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return server.MCPServer()
	}, sdkOpts)

	if len(opts.Tokens) > 0 {
		h = auth.RequireBearerToken(staticTokenVerifier(opts.Tokens), nil)(h)
	}
	return h
}

// staticTokenVerifier resolves bearer tokens from a fixed token to user table.
func staticTokenVerifier(tokens map[string]string) auth.TokenVerifier {
	return func(_ context.Context, token string, _ *http.Request) (*auth.TokenInfo, error) {
		user, ok := tokens[token]
		if !ok {
			return nil, fmt.Errorf("unknown bearer token: %w", auth.ErrInvalidToken)
		}
		return &auth.TokenInfo{UserID: user, Expiration: time.Now().Add(tokenLifetime)}, nil
	}
}
