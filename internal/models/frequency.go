package models

import "time"

// SpikeSeverity classifies how far a spike bucket exceeds the window average.
type SpikeSeverity string

const (
	SpikeMedium SpikeSeverity = "medium"
	SpikeHigh   SpikeSeverity = "high"
)

// SpikeReport flags the anomalous bucket of a histogram, if any.
type SpikeReport struct {
	BucketStart time.Time     `json:"bucket_start"`
	Count       int           `json:"count"`
	Severity    SpikeSeverity `json:"severity"`
}

// ErrorKindCount is one error-type tally within a service breakdown.
type ErrorKindCount struct {
	Kind  string `json:"type"`
	Count int    `json:"count"`
}

// ServiceErrorCount aggregates error volume for one service.
type ServiceErrorCount struct {
	Service string           `json:"service"`
	Count   int              `json:"error_count"`
	Kinds   []ErrorKindCount `json:"error_types,omitempty"`
}

// HistogramBucket is one non-empty time bucket of the error histogram.
// Buckets with zero observed errors are omitted from the series entirely.
type HistogramBucket struct {
	Start     time.Time      `json:"bucket_start"`
	Count     int            `json:"count"`
	ByService map[string]int `json:"by_service,omitempty"`
}

// FrequencySnapshot is the analyzer's view of error volume over a window.
type FrequencySnapshot struct {
	TotalErrors int                 `json:"total_errors"`
	Window      string              `json:"time_range"`
	Interval    string              `json:"interval"`
	Services    []ServiceErrorCount `json:"service_breakdown"`
	Histogram   []HistogramBucket   `json:"histogram"`
	Spike       *SpikeReport        `json:"spike_detected,omitempty"`
}
