package correlator

import (
	"context"
	"log/slog"
	"sort"

	"github.com/sleuthstack/logsleuth/internal/models"
)

const (
	defaultTraceEvents  = 100
	maxMessagePreview   = 100
	defaultTraceWindow  = "1h"
	defaultTracesToList = 5
)

// Store is the slice of the event store the correlator queries.
type Store interface {
	EventsByTraceID(ctx context.Context, traceID string, max int) ([]models.LogEvent, error)
	RecentServiceErrors(ctx context.Context, service, window string, max int) ([]models.LogEvent, error)
}

// Correlator follows trace identifiers across services and attributes each
// trace to the service where its errors began.
type Correlator struct {
	store  Store
	logger *slog.Logger
}

// NewCorrelator constructs a correlator over the given store.
func NewCorrelator(store Store, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{store: store, logger: logger}
}

// Correlate assembles the cross-service timeline for one trace. Events are
// ordered by timestamp with the store's ingestion sequence breaking ties, so
// repeated runs over the same data produce the same timeline. A trace with no
// events yields an empty result, not an error.
func (c *Correlator) Correlate(ctx context.Context, traceID string, max int) (models.CorrelatedTrace, error) {
	if max <= 0 {
		max = defaultTraceEvents
	}

	events, err := c.store.EventsByTraceID(ctx, traceID, max)
	if err != nil {
		return models.CorrelatedTrace{}, err
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Seq < events[j].Seq
	})

	trace := models.CorrelatedTrace{
		TraceID:     traceID,
		TotalEvents: len(events),
		Services:    []string{},
		Timeline:    make([]models.TimelineEntry, 0, len(events)),
	}

	seen := make(map[string]bool)
	for _, event := range events {
		if event.Service != "" && !seen[event.Service] {
			seen[event.Service] = true
			trace.Services = append(trace.Services, event.Service)
		}

		isError := event.IsError()
		if isError && !trace.HasErrors {
			trace.HasErrors = true
			trace.RootCauseService = event.Service
			ts := event.Timestamp
			trace.FirstErrorTime = &ts
		}

		trace.Timeline = append(trace.Timeline, models.TimelineEntry{
			Timestamp:    event.Timestamp,
			Service:      event.Service,
			Level:        event.Level,
			Message:      event.Message,
			SpanID:       event.SpanID,
			Host:         event.Host,
			ErrorKind:    event.ErrorKind,
			ErrorMessage: event.ErrorMessage,
			HTTPMethod:   event.HTTPMethod,
			HTTPPath:     event.HTTPPath,
			HTTPStatus:   event.HTTPStatus,
			DurationMS:   float64(event.Duration.Nanoseconds()) / 1e6,
			IsError:      isError,
		})
	}
	return trace, nil
}

// DiscoverErrorTraces lists the most recent distinct error traces for one
// service. Events without a trace identifier are skipped and do not count
// against the limit; only the newest occurrence of each trace is kept.
func (c *Correlator) DiscoverErrorTraces(ctx context.Context, service, window string, maxTraces int) ([]models.TraceSummary, error) {
	if window == "" {
		window = defaultTraceWindow
	}
	if maxTraces <= 0 {
		maxTraces = defaultTracesToList
	}

	events, err := c.store.RecentServiceErrors(ctx, service, window, maxTraces)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	summaries := make([]models.TraceSummary, 0, maxTraces)
	for _, event := range events {
		if event.TraceID == "" || seen[event.TraceID] {
			continue
		}
		seen[event.TraceID] = true

		message := event.Message
		if len(message) > maxMessagePreview {
			message = message[:maxMessagePreview]
		}
		summaries = append(summaries, models.TraceSummary{
			TraceID:   event.TraceID,
			Timestamp: event.Timestamp,
			ErrorKind: event.ErrorKind,
			Message:   message,
		})
		if len(summaries) == maxTraces {
			break
		}
	}
	return summaries, nil
}

// Vote elects the root-cause service across correlated traces. Each trace
// with an attributed root-cause service casts one vote; ties go to the
// service encountered first. When no trace casts a vote the first affected
// service stands in, and an empty string means no candidate at all.
func Vote(traces []models.CorrelatedTrace, affected []string) string {
	votes := make(map[string]int)
	var order []string
	for _, trace := range traces {
		if trace.RootCauseService == "" {
			continue
		}
		if votes[trace.RootCauseService] == 0 {
			order = append(order, trace.RootCauseService)
		}
		votes[trace.RootCauseService]++
	}

	var winner string
	var best int
	for _, service := range order {
		if votes[service] > best {
			best = votes[service]
			winner = service
		}
	}
	if winner != "" {
		return winner
	}
	if len(affected) > 0 {
		return affected[0]
	}
	return ""
}
