package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/sleuthstack/logsleuth/internal/metrics"
	"github.com/sleuthstack/logsleuth/internal/models"
	"github.com/sleuthstack/logsleuth/internal/utils"
)

func (s *Server) registerTools() {
	// search_logs — wildcard/substring search over log events.
	s.mcpServer.AddTool(
		mcplib.NewTool("search_logs",
			mcplib.WithDescription("Search log events by message text. Supports * wildcards; plain text matches as a substring."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("query",
				mcplib.Description("Text or wildcard pattern to match against message and error message fields"),
				mcplib.Required(),
			),
			mcplib.WithString("time_range",
				mcplib.Description("Relative window such as 30m, 2h or 1d"),
				mcplib.DefaultString("1h"),
			),
			mcplib.WithString("service", mcplib.Description("Restrict to one service")),
			mcplib.WithString("level", mcplib.Description("Restrict to one severity level, e.g. error")),
			mcplib.WithNumber("max_results",
				mcplib.Description("Maximum events to return"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(50),
			),
		),
		s.handleSearchLogs,
	)

	// get_error_frequency — per-service counts, histogram and spike report.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_error_frequency",
			mcplib.WithDescription("Measure error volume over time: per-service breakdown, time-bucketed histogram, and spike detection."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("time_range",
				mcplib.Description("Relative window such as 30m, 2h or 1d"),
				mcplib.DefaultString("1h"),
			),
			mcplib.WithString("service", mcplib.Description("Restrict to one service")),
			mcplib.WithString("error_type", mcplib.Description("Restrict totals to one error type")),
			mcplib.WithString("interval",
				mcplib.Description("Histogram bucket width, e.g. 1m or 5m"),
				mcplib.DefaultString("5m"),
			),
		),
		s.handleErrorFrequency,
	)

	// find_correlated_logs — follow one trace across services.
	s.mcpServer.AddTool(
		mcplib.NewTool("find_correlated_logs",
			mcplib.WithDescription("Fetch all events sharing a trace id, ordered causally, with the earliest-erroring service attributed as the root cause."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("trace_id",
				mcplib.Description("The trace identifier to follow"),
				mcplib.Required(),
			),
			mcplib.WithNumber("max_results",
				mcplib.Description("Maximum events to fetch for the trace"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(100),
			),
		),
		s.handleCorrelatedLogs,
	)

	// find_error_traces — list recent distinct error traces for a service.
	s.mcpServer.AddTool(
		mcplib.NewTool("find_error_traces",
			mcplib.WithDescription("List the most recent distinct error traces for a service, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("service",
				mcplib.Description("The service whose error traces to list"),
				mcplib.Required(),
			),
			mcplib.WithString("time_range",
				mcplib.Description("Relative window such as 30m, 2h or 1d"),
				mcplib.DefaultString("1h"),
			),
			mcplib.WithNumber("max_traces",
				mcplib.Description("Maximum distinct traces to return"),
				mcplib.Min(1),
				mcplib.Max(50),
				mcplib.DefaultNumber(5),
			),
		),
		s.handleErrorTraces,
	)

	// search_past_incidents — keyword search over stored investigations.
	s.mcpServer.AddTool(
		mcplib.NewTool("search_past_incidents",
			mcplib.WithDescription("Search previously saved investigations by keywords, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithString("query",
				mcplib.Description("Keywords matched against root causes, incident text and suggestions"),
				mcplib.Required(),
			),
			mcplib.WithString("service", mcplib.Description("Restrict to incidents attributed to one service")),
			mcplib.WithString("error_type", mcplib.Description("Restrict to incidents with one error type")),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum incidents to return"),
				mcplib.Min(1),
				mcplib.Max(20),
				mcplib.DefaultNumber(5),
			),
		),
		s.handlePastIncidents,
	)

	// save_investigation — persist findings to the knowledge base.
	s.mcpServer.AddTool(
		mcplib.NewTool("save_investigation",
			mcplib.WithDescription("Save investigation findings to the knowledge base so future investigations can find them."),
			mcplib.WithString("input",
				mcplib.Description("The original incident description"),
				mcplib.Required(),
			),
			mcplib.WithString("root_cause",
				mcplib.Description("The root-cause narrative"),
				mcplib.Required(),
			),
			mcplib.WithString("root_cause_service", mcplib.Description("Service attributed as the origin")),
			mcplib.WithString("affected_services", mcplib.Description("Comma-separated list of affected services")),
			mcplib.WithString("error_types", mcplib.Description("Comma-separated list of observed error types")),
			mcplib.WithString("suggestions", mcplib.Description("Remediation suggestions, newline-separated")),
			mcplib.WithString("resolution", mcplib.Description("How the incident was resolved, if known")),
			mcplib.WithString("time_range",
				mcplib.Description("The investigated window, e.g. 2h"),
				mcplib.DefaultString("1h"),
			),
		),
		s.handleSaveInvestigation,
	)

	// investigate — the full five-phase workflow in one call.
	s.mcpServer.AddTool(
		mcplib.NewTool("investigate",
			mcplib.WithDescription("Run a full incident investigation: keyword extraction, error search, frequency and spike analysis, trace correlation, and root-cause synthesis."),
			mcplib.WithString("incident",
				mcplib.Description("Free-text description of the incident, e.g. 'payment-service timeouts since 14:00'"),
				mcplib.Required(),
			),
			mcplib.WithString("time_range",
				mcplib.Description("Relative window to investigate, such as 30m, 2h or 1d"),
			),
			mcplib.WithBoolean("save",
				mcplib.Description("Persist the findings to the knowledge base when a root cause is attributed"),
				mcplib.DefaultBool(false),
			),
		),
		s.handleInvestigate,
	)
}

func (s *Server) handleSearchLogs(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metrics.ObserveToolCall("search_logs")

	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	window := request.GetString("time_range", "1h")
	service := request.GetString("service", "")
	level := request.GetString("level", "")
	max := request.GetInt("max_results", 50)

	result, err := s.store.SearchEvents(ctx, query, window, service, level, max)
	if err != nil {
		return errorResult(fmt.Sprintf("search failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (s *Server) handleErrorFrequency(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metrics.ObserveToolCall("get_error_frequency")

	window := request.GetString("time_range", "1h")
	service := request.GetString("service", "")
	errorKind := request.GetString("error_type", "")
	interval := request.GetString("interval", "5m")

	snapshot, err := s.analyzer.Analyze(ctx, window, service, errorKind, interval)
	if err != nil {
		return errorResult(fmt.Sprintf("frequency analysis failed: %v", err)), nil
	}
	return jsonResult(snapshot)
}

func (s *Server) handleCorrelatedLogs(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metrics.ObserveToolCall("find_correlated_logs")

	traceID := request.GetString("trace_id", "")
	if traceID == "" {
		return errorResult("trace_id is required"), nil
	}
	max := request.GetInt("max_results", 100)

	trace, err := s.correlator.Correlate(ctx, traceID, max)
	if err != nil {
		return errorResult(fmt.Sprintf("correlation failed: %v", err)), nil
	}
	return jsonResult(trace)
}

func (s *Server) handleErrorTraces(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metrics.ObserveToolCall("find_error_traces")

	service := request.GetString("service", "")
	if service == "" {
		return errorResult("service is required"), nil
	}
	window := request.GetString("time_range", "1h")
	maxTraces := request.GetInt("max_traces", 5)

	summaries, err := s.correlator.DiscoverErrorTraces(ctx, service, window, maxTraces)
	if err != nil {
		return errorResult(fmt.Sprintf("trace discovery failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"service": service,
		"traces":  summaries,
	})
}

func (s *Server) handlePastIncidents(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metrics.ObserveToolCall("search_past_incidents")

	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	service := request.GetString("service", "")
	errorKind := request.GetString("error_type", "")
	limit := request.GetInt("limit", 5)

	incidents, err := s.bridge.SearchSimilar(ctx, query, service, errorKind, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("knowledge base search failed: %v", err)), nil
	}
	if incidents == nil {
		incidents = []models.PastIncident{}
	}
	return jsonResult(map[string]any{"incidents": incidents})
}

func (s *Server) handleSaveInvestigation(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metrics.ObserveToolCall("save_investigation")

	input := request.GetString("input", "")
	rootCause := request.GetString("root_cause", "")
	if input == "" || rootCause == "" {
		return errorResult("input and root_cause are required"), nil
	}

	end := time.Now().UTC()
	record := models.InvestigationRecord{
		Input:            input,
		WindowStart:      end.Add(-utils.ParseWindow(request.GetString("time_range", "1h"))),
		WindowEnd:        end,
		RootCause:        rootCause,
		RootCauseService: request.GetString("root_cause_service", ""),
		AffectedServices: splitList(request.GetString("affected_services", "")),
		ErrorKinds:       splitList(request.GetString("error_types", "")),
		Suggestions:      request.GetString("suggestions", ""),
		Resolution:       request.GetString("resolution", ""),
	}

	id, err := s.bridge.Write(ctx, record)
	if err != nil {
		return errorResult(fmt.Sprintf("save failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"id": id, "saved": true})
}

func (s *Server) handleInvestigate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	metrics.ObserveToolCall("investigate")

	incident := request.GetString("incident", "")
	if incident == "" {
		return errorResult("incident is required"), nil
	}
	window := request.GetString("time_range", "")
	save := request.GetBool("save", false)

	started := time.Now()
	report, err := s.investigator.Run(ctx, incident, window, save)
	elapsed := time.Since(started)
	s.latency.Observe(elapsed)

	if err != nil {
		return errorResult(fmt.Sprintf("investigation failed: %v", err)), nil
	}

	s.logger.Info("investigation served",
		slog.Duration("elapsed", elapsed),
		slog.Duration("p95", s.latency.Percentile(95)),
		slog.Int("samples", s.latency.Count()),
	)
	return jsonResult(report)
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
