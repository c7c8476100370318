// Package mcp exposes the investigation engine over the Model Context
// Protocol so agent callers can drive it tool by tool or run a full
// investigation in one call.
package mcp

import (
	"context"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sleuthstack/logsleuth/internal/kb"
	"github.com/sleuthstack/logsleuth/internal/models"
	"github.com/sleuthstack/logsleuth/internal/utils"
)

// Store is the event-store slice consumed by the search tool.
type Store interface {
	SearchEvents(ctx context.Context, query, window, service, level string, max int) (models.SearchResult, error)
}

// Analyzer serves the error-frequency tool.
type Analyzer interface {
	Analyze(ctx context.Context, window, service, errorKind, interval string) (models.FrequencySnapshot, error)
}

// Correlator serves the trace tools.
type Correlator interface {
	Correlate(ctx context.Context, traceID string, max int) (models.CorrelatedTrace, error)
	DiscoverErrorTraces(ctx context.Context, service, window string, maxTraces int) ([]models.TraceSummary, error)
}

// Investigator runs the full five-phase workflow.
type Investigator interface {
	Run(ctx context.Context, incident, window string, persist bool) (models.Report, error)
}

// Server wraps the MCP server with the engine's components.
type Server struct {
	mcpServer    *mcpserver.MCPServer
	store        Store
	analyzer     Analyzer
	correlator   Correlator
	bridge       kb.Bridge
	investigator Investigator
	logger       *slog.Logger
	latency      *utils.LatencyTracker
}

// New creates the MCP server with all tools registered.
func New(store Store, analyzer Analyzer, correlator Correlator, bridge kb.Bridge, investigator Investigator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:        store,
		analyzer:     analyzer,
		correlator:   correlator,
		bridge:       bridge,
		investigator: investigator,
		logger:       logger,
		latency:      utils.NewLatencyTracker(256),
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"logsleuth",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio blocks serving the stdio transport until the client disconnects.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
