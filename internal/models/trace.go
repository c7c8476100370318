package models

import "time"

// TimelineEntry projects a LogEvent into the per-trace timeline, with the
// duration converted to milliseconds. Entries are always sorted ascending by
// timestamp, ties broken by ingestion sequence.
type TimelineEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Service      string    `json:"service"`
	Level        string    `json:"level"`
	Message      string    `json:"message"`
	SpanID       string    `json:"span_id,omitempty"`
	Host         string    `json:"host,omitempty"`
	ErrorKind    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	HTTPMethod   string    `json:"http_method,omitempty"`
	HTTPPath     string    `json:"http_path,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	DurationMS   float64   `json:"duration_ms,omitempty"`
	IsError      bool      `json:"is_error"`
}

// CorrelatedTrace is the result of following one trace identifier across
// service boundaries. RootCauseService is the service of the chronologically
// first erroring event; it is empty when the trace has no errors.
type CorrelatedTrace struct {
	TraceID          string          `json:"trace_id"`
	TotalEvents      int             `json:"total_events"`
	Services         []string        `json:"services_involved"`
	HasErrors        bool            `json:"has_errors"`
	RootCauseService string          `json:"root_cause_service,omitempty"`
	FirstErrorTime   *time.Time      `json:"first_error_time,omitempty"`
	Timeline         []TimelineEntry `json:"timeline"`
}

// TraceSummary identifies one discovered error trace, newest first.
type TraceSummary struct {
	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
	ErrorKind string    `json:"error_type,omitempty"`
	Message   string    `json:"message"`
}
