package models

import "time"

// Phase identifies one step of the investigation workflow.
type Phase string

const (
	PhaseUnderstand Phase = "understand"
	PhaseSearch     Phase = "search"
	PhaseAnalyze    Phase = "analyze"
	PhaseCorrelate  Phase = "correlate"
	PhaseSynthesize Phase = "synthesize"
	PhaseComplete   Phase = "complete"
)

// StepResult records the outcome of a single investigation phase.
type StepResult struct {
	Phase      Phase          `json:"step"`
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Reasoning  string         `json:"reasoning"`
	NextAction string         `json:"next_action,omitempty"`
	DurationMS float64        `json:"duration_ms"`
}

// TimelineEvent is one entry of the incident-level timeline accumulated
// across phases. Timestamps are kept as ISO-8601 strings so lexicographic
// ordering matches chronological ordering.
type TimelineEvent struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Service   string `json:"service"`
}

// PastIncident is a previously stored investigation surfaced by the
// knowledge base.
type PastIncident struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Input            string    `json:"input"`
	RootCause        string    `json:"root_cause"`
	RootCauseService string    `json:"root_cause_service"`
	AffectedServices []string  `json:"affected_services,omitempty"`
	ErrorKinds       []string  `json:"error_types,omitempty"`
	Resolution       string    `json:"resolution,omitempty"`
	Suggestions      string    `json:"suggestions,omitempty"`
}

// InvestigationRecord is the persisted form of a completed investigation,
// structured so it can be re-discovered later by keyword search.
type InvestigationRecord struct {
	Input            string          `json:"input"`
	WindowStart      time.Time       `json:"window_start"`
	WindowEnd        time.Time       `json:"window_end"`
	RootCause        string          `json:"root_cause"`
	RootCauseService string          `json:"root_cause_service"`
	AffectedServices []string        `json:"affected_services"`
	ErrorKinds       []string        `json:"error_types,omitempty"`
	ErrorCount       int             `json:"error_count,omitempty"`
	Timeline         []TimelineEvent `json:"timeline,omitempty"`
	Suggestions      string          `json:"suggestions,omitempty"`
	Resolution       string          `json:"resolution,omitempty"`
}

// IncidentInfo echoes the investigated incident in the final report.
type IncidentInfo struct {
	Description string `json:"description"`
	TimeRange   string `json:"time_range"`
}

// Findings summarises what the investigation concluded.
type Findings struct {
	RootCause        string       `json:"root_cause"`
	RootCauseService string       `json:"root_cause_service,omitempty"`
	AffectedServices []string     `json:"affected_services"`
	ErrorKinds       []string     `json:"error_types"`
	TotalErrors      int          `json:"total_errors"`
	Spike            *SpikeReport `json:"spike_detected,omitempty"`
}

// PastIncidentSummary is the truncated past-incident reference carried in
// the final report.
type PastIncidentSummary struct {
	ID         string `json:"id"`
	RootCause  string `json:"root_cause"`
	Resolution string `json:"resolution,omitempty"`
}

// Report is the final output of an investigation run.
type Report struct {
	Status          string                `json:"status"`
	DurationSeconds float64               `json:"duration_seconds"`
	Incident        IncidentInfo          `json:"incident"`
	Findings        Findings              `json:"findings"`
	Timeline        []TimelineEvent       `json:"timeline"`
	PastIncidents   []PastIncidentSummary `json:"past_incidents"`
	Suggestions     string                `json:"suggestions"`
	Steps           []StepResult          `json:"investigation_steps"`
}
