package models

import "time"

// LogEvent is one structured log record returned by the event store.
// Events are read-only inputs; the engine never mutates or writes them back.
type LogEvent struct {
	Timestamp    time.Time `json:"timestamp"`
	Service      string    `json:"service"`
	Level        string    `json:"level"`
	Message      string    `json:"message"`
	TraceID      string    `json:"trace_id,omitempty"`
	SpanID       string    `json:"span_id,omitempty"`
	Host         string    `json:"host,omitempty"`
	ErrorKind    string    `json:"error_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	HTTPMethod   string    `json:"http_method,omitempty"`
	HTTPPath     string    `json:"http_path,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`

	// Duration is the raw event duration as reported by the store (nanoseconds).
	Duration time.Duration `json:"duration,omitempty"`

	// Seq is the event's position within the store's result set. It is the
	// deterministic secondary sort key for events sharing a timestamp.
	Seq int64 `json:"-"`
}

// IsError reports whether the event carries error details.
func (e LogEvent) IsError() bool {
	return e.ErrorKind != "" || e.ErrorMessage != ""
}

// SearchResult wraps a page of events with the store-side total.
type SearchResult struct {
	Total  int        `json:"total"`
	Events []LogEvent `json:"hits"`
}
