package orchestrator

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sleuthstack/logsleuth/internal/models"
)

type fakeSearcher struct {
	result models.SearchResult
	err    error
}

func (f *fakeSearcher) SearchEvents(_ context.Context, query, window, service, level string, max int) (models.SearchResult, error) {
	return f.result, f.err
}

type fakeAnalyzer struct {
	snapshot models.FrequencySnapshot
	err      error
}

func (f *fakeAnalyzer) Analyze(context.Context, string, string, string, string) (models.FrequencySnapshot, error) {
	return f.snapshot, f.err
}

type fakeCorrelator struct {
	mu            sync.Mutex
	traces        map[string]models.CorrelatedTrace
	failTraces    map[string]bool
	discovered    []models.TraceSummary
	discoverErr   error
	correlated    []string
	discoveredFor string
}

func (f *fakeCorrelator) Correlate(_ context.Context, traceID string, _ int) (models.CorrelatedTrace, error) {
	f.mu.Lock()
	f.correlated = append(f.correlated, traceID)
	f.mu.Unlock()
	if f.failTraces[traceID] {
		return models.CorrelatedTrace{}, errors.New("correlate failed")
	}
	if trace, ok := f.traces[traceID]; ok {
		return trace, nil
	}
	return models.CorrelatedTrace{TraceID: traceID}, nil
}

func (f *fakeCorrelator) DiscoverErrorTraces(_ context.Context, service, _ string, _ int) ([]models.TraceSummary, error) {
	f.discoveredFor = service
	return f.discovered, f.discoverErr
}

type fakeBridge struct {
	incidents []models.PastIncident
	searchErr error
	writeErr  error
	written   []models.InvestigationRecord
}

func (f *fakeBridge) SearchSimilar(context.Context, string, string, string, int) ([]models.PastIncident, error) {
	return f.incidents, f.searchErr
}

func (f *fakeBridge) Write(_ context.Context, record models.InvestigationRecord) (string, error) {
	if f.writeErr != nil {
		return "", f.writeErr
	}
	f.written = append(f.written, record)
	return "INV-20250601-ABCDEF", nil
}

func errorTrace(id, service string, at time.Time) models.CorrelatedTrace {
	return models.CorrelatedTrace{
		TraceID:          id,
		TotalEvents:      2,
		Services:         []string{service},
		HasErrors:        true,
		RootCauseService: service,
		FirstErrorTime:   &at,
	}
}

func newTestOrchestrator(searcher *fakeSearcher, an *fakeAnalyzer, corr *fakeCorrelator, bridge *fakeBridge, progress chan<- Progress) *Orchestrator {
	return New(Config{
		KnownServices: []string{"payment-service", "checkout-service", "api-gateway"},
	}, searcher, an, corr, bridge, nil, progress)
}

func TestRunFullInvestigation(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{result: models.SearchResult{
		Total: 2,
		Events: []models.LogEvent{
			{Timestamp: base, Service: "payment-service", Level: "error", TraceID: "T1", ErrorKind: "ConnectionException"},
			{Timestamp: base.Add(time.Minute), Service: "checkout-service", Level: "error", TraceID: "T2", ErrorKind: "PaymentException"},
		},
	}}
	an := &fakeAnalyzer{snapshot: models.FrequencySnapshot{
		TotalErrors: 42,
		Services:    []models.ServiceErrorCount{{Service: "payment-service", Count: 42}},
		Spike:       &models.SpikeReport{BucketStart: base, Count: 30, Severity: models.SpikeHigh},
	}}
	corr := &fakeCorrelator{traces: map[string]models.CorrelatedTrace{
		"T1": errorTrace("T1", "payment-service", base),
		"T2": errorTrace("T2", "payment-service", base.Add(time.Minute)),
	}}
	bridge := &fakeBridge{incidents: []models.PastIncident{
		{ID: "INV-1", Timestamp: base.Add(-24 * time.Hour), RootCause: "pool exhaustion", Resolution: "raised pool size", Suggestions: "increase pool"},
	}}

	o := newTestOrchestrator(searcher, an, corr, bridge, nil)
	report, err := o.Run(context.Background(), "payment timeouts", "1h", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Status != "completed" {
		t.Fatalf("expected completed status, got %q", report.Status)
	}
	if report.Findings.RootCauseService != "payment-service" {
		t.Fatalf("expected payment-service, got %q", report.Findings.RootCauseService)
	}
	if report.Findings.TotalErrors != 42 {
		t.Fatalf("expected 42 errors, got %d", report.Findings.TotalErrors)
	}
	if report.Findings.Spike == nil || report.Findings.Spike.Severity != models.SpikeHigh {
		t.Fatalf("expected high spike in findings")
	}
	if !strings.Contains(report.Findings.RootCause, "payment-service") {
		t.Fatalf("narrative missing root cause: %q", report.Findings.RootCause)
	}
	if len(report.PastIncidents) != 1 || report.PastIncidents[0].ID != "INV-1" {
		t.Fatalf("unexpected past incidents: %+v", report.PastIncidents)
	}
	if !strings.Contains(report.Suggestions, "circuit breaker") {
		t.Fatalf("expected connection suggestions, got %q", report.Suggestions)
	}

	wantPhases := []models.Phase{
		models.PhaseUnderstand, models.PhaseSearch, models.PhaseAnalyze,
		models.PhaseCorrelate, models.PhaseSynthesize,
	}
	if len(report.Steps) != len(wantPhases) {
		t.Fatalf("expected %d steps, got %d", len(wantPhases), len(report.Steps))
	}
	for i, phase := range wantPhases {
		if report.Steps[i].Phase != phase {
			t.Fatalf("step %d: expected %s, got %s", i, phase, report.Steps[i].Phase)
		}
		if !report.Steps[i].Success {
			t.Fatalf("step %s not marked successful", phase)
		}
	}

	if !sort.SliceIsSorted(report.Timeline, func(i, j int) bool {
		return report.Timeline[i].Timestamp < report.Timeline[j].Timestamp
	}) {
		t.Fatalf("timeline not sorted: %+v", report.Timeline)
	}
}

func TestRunSearchFailureAborts(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("store down")}
	o := newTestOrchestrator(searcher, &fakeAnalyzer{}, &fakeCorrelator{}, &fakeBridge{}, nil)

	if _, err := o.Run(context.Background(), "incident", "1h", false); err == nil {
		t.Fatalf("expected hard failure from search phase")
	}
}

func TestRunAnalyzeFailureAborts(t *testing.T) {
	an := &fakeAnalyzer{err: errors.New("store down")}
	o := newTestOrchestrator(&fakeSearcher{}, an, &fakeCorrelator{}, &fakeBridge{}, nil)

	if _, err := o.Run(context.Background(), "incident", "1h", false); err == nil {
		t.Fatalf("expected hard failure from analyze phase")
	}
}

func TestRunSwallowsPerTraceFailures(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{result: models.SearchResult{Events: []models.LogEvent{
		{Timestamp: base, Service: "payment-service", Level: "error", TraceID: "T1", ErrorKind: "Timeout"},
		{Timestamp: base, Service: "payment-service", Level: "error", TraceID: "T2", ErrorKind: "Timeout"},
	}}}
	corr := &fakeCorrelator{
		traces:     map[string]models.CorrelatedTrace{"T1": errorTrace("T1", "payment-service", base)},
		failTraces: map[string]bool{"T2": true},
	}

	o := newTestOrchestrator(searcher, &fakeAnalyzer{}, corr, &fakeBridge{}, nil)
	report, err := o.Run(context.Background(), "incident", "1h", false)
	if err != nil {
		t.Fatalf("expected investigation to continue, got %v", err)
	}
	if report.Findings.RootCauseService != "payment-service" {
		t.Fatalf("expected vote over surviving traces, got %q", report.Findings.RootCauseService)
	}
}

func TestRunDiscoversTracesWhenNoneKnown(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Error events without trace ids: discovery kicks in from the first
	// affected service.
	searcher := &fakeSearcher{result: models.SearchResult{Events: []models.LogEvent{
		{Timestamp: base, Service: "checkout-service", Level: "error", ErrorKind: "Timeout"},
	}}}
	corr := &fakeCorrelator{
		discovered: []models.TraceSummary{{TraceID: "D1"}, {TraceID: "D2"}},
		traces: map[string]models.CorrelatedTrace{
			"D1": errorTrace("D1", "checkout-service", base),
			"D2": errorTrace("D2", "checkout-service", base),
		},
	}

	o := newTestOrchestrator(searcher, &fakeAnalyzer{}, corr, &fakeBridge{}, nil)
	report, err := o.Run(context.Background(), "checkout errors", "1h", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if corr.discoveredFor != "checkout-service" {
		t.Fatalf("expected discovery from checkout-service, got %q", corr.discoveredFor)
	}
	if len(corr.correlated) != 2 {
		t.Fatalf("expected both discovered traces correlated, got %v", corr.correlated)
	}
	if report.Findings.RootCauseService != "checkout-service" {
		t.Fatalf("unexpected root cause: %q", report.Findings.RootCauseService)
	}
}

func TestRunLimitsTracesToFive(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := make([]models.LogEvent, 0, 8)
	for _, id := range []string{"T1", "T2", "T3", "T4", "T5", "T6", "T7", "T8"} {
		events = append(events, models.LogEvent{
			Timestamp: base, Service: "payment-service", Level: "error", TraceID: id, ErrorKind: "Timeout",
		})
	}
	searcher := &fakeSearcher{result: models.SearchResult{Events: events}}
	corr := &fakeCorrelator{}

	o := newTestOrchestrator(searcher, &fakeAnalyzer{}, corr, &fakeBridge{}, nil)
	if _, err := o.Run(context.Background(), "incident", "1h", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(corr.correlated) != 5 {
		t.Fatalf("expected at most 5 correlations, got %d", len(corr.correlated))
	}
}

func TestRunKnowledgeBaseFailureDegrades(t *testing.T) {
	bridge := &fakeBridge{searchErr: errors.New("kb down")}
	o := newTestOrchestrator(&fakeSearcher{}, &fakeAnalyzer{}, &fakeCorrelator{}, bridge, nil)

	report, err := o.Run(context.Background(), "incident", "1h", false)
	if err != nil {
		t.Fatalf("expected degraded run, got %v", err)
	}
	if len(report.PastIncidents) != 0 {
		t.Fatalf("expected zero past incidents, got %+v", report.PastIncidents)
	}
}

func TestRunPersistsOnlyWithRootCause(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{result: models.SearchResult{Events: []models.LogEvent{
		{Timestamp: base, Service: "payment-service", Level: "error", TraceID: "T1", ErrorKind: "Timeout"},
	}}}
	corr := &fakeCorrelator{traces: map[string]models.CorrelatedTrace{
		"T1": errorTrace("T1", "payment-service", base),
	}}
	bridge := &fakeBridge{}

	o := newTestOrchestrator(searcher, &fakeAnalyzer{}, corr, bridge, nil)
	if _, err := o.Run(context.Background(), "incident", "1h", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bridge.written) != 1 {
		t.Fatalf("expected one persisted record, got %d", len(bridge.written))
	}
	if bridge.written[0].RootCauseService != "payment-service" {
		t.Fatalf("unexpected record: %+v", bridge.written[0])
	}

	// No evidence at all: nothing to persist.
	bridge2 := &fakeBridge{}
	o2 := newTestOrchestrator(&fakeSearcher{}, &fakeAnalyzer{}, &fakeCorrelator{}, bridge2, nil)
	if _, err := o2.Run(context.Background(), "incident", "1h", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bridge2.written) != 0 {
		t.Fatalf("expected no persisted record without a root cause")
	}
}

func TestRunPersistFailureStillReturnsReport(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	searcher := &fakeSearcher{result: models.SearchResult{Events: []models.LogEvent{
		{Timestamp: base, Service: "payment-service", Level: "error", TraceID: "T1", ErrorKind: "Timeout"},
	}}}
	corr := &fakeCorrelator{traces: map[string]models.CorrelatedTrace{
		"T1": errorTrace("T1", "payment-service", base),
	}}
	bridge := &fakeBridge{writeErr: errors.New("kb down")}

	o := newTestOrchestrator(searcher, &fakeAnalyzer{}, corr, bridge, nil)
	report, err := o.Run(context.Background(), "incident", "1h", true)
	if err != nil {
		t.Fatalf("expected report despite write failure, got %v", err)
	}
	if report.Status != "completed" {
		t.Fatalf("unexpected status: %q", report.Status)
	}
}

func TestRunProgressNeverBlocks(t *testing.T) {
	// Unbuffered channel with no reader: every send must be dropped.
	progress := make(chan Progress)
	o := newTestOrchestrator(&fakeSearcher{}, &fakeAnalyzer{}, &fakeCorrelator{}, &fakeBridge{}, progress)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.Run(context.Background(), "incident", "1h", false); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("investigation blocked on progress channel")
	}
}

func TestUnderstandKeywordExtraction(t *testing.T) {
	o := newTestOrchestrator(&fakeSearcher{}, &fakeAnalyzer{}, &fakeCorrelator{}, &fakeBridge{}, nil)

	ic := newContext("Payment Service timeouts and connection refused spikes", "1h", time.Now())
	if _, err := o.understand(context.Background(), ic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"timeout", "connection", "refused", "spike", "payment"} {
		found := false
		for _, kw := range ic.Keywords {
			if kw == want {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected keyword %q in %v", want, ic.Keywords)
		}
	}
	// "payment service" matches payment-service via hyphen normalization.
	if len(ic.MatchedServices) != 1 || ic.MatchedServices[0] != "payment-service" {
		t.Fatalf("unexpected matched services: %v", ic.MatchedServices)
	}
}

func TestUnderstandFallbackKeyword(t *testing.T) {
	o := newTestOrchestrator(&fakeSearcher{}, &fakeAnalyzer{}, &fakeCorrelator{}, &fakeBridge{}, nil)

	ic := newContext("something odd happened", "1h", time.Now())
	if _, err := o.understand(context.Background(), ic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ic.Keywords) != 1 || ic.Keywords[0] != "error" {
		t.Fatalf("expected fallback keyword, got %v", ic.Keywords)
	}
}

func TestSynthesizeWithoutEvidence(t *testing.T) {
	o := newTestOrchestrator(&fakeSearcher{}, &fakeAnalyzer{}, &fakeCorrelator{}, &fakeBridge{}, nil)

	ic := newContext("incident", "1h", time.Now())
	if _, err := o.synthesize(context.Background(), ic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ic.RootCause != "Root cause could not be determined." {
		t.Fatalf("unexpected narrative: %q", ic.RootCause)
	}
}

func TestSynthesizeNarrativeOrder(t *testing.T) {
	o := newTestOrchestrator(&fakeSearcher{}, &fakeAnalyzer{}, &fakeCorrelator{}, &fakeBridge{}, nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	ic := newContext("incident", "1h", base)
	ic.RootCauseService = "payment-service"
	ic.addErrorKind("ConnectionException")
	ic.addErrorKind("TimeoutException")
	ic.Spike = &models.SpikeReport{BucketStart: base, Count: 50, Severity: models.SpikeMedium}
	ic.addService("payment-service")
	ic.addService("checkout-service")

	if _, err := o.synthesize(context.Background(), ic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rootIdx := strings.Index(ic.RootCause, "The root cause originated in payment-service.")
	kindsIdx := strings.Index(ic.RootCause, "Error types observed: ConnectionException, TimeoutException.")
	spikeIdx := strings.Index(ic.RootCause, "An error spike of 50 errors")
	affectedIdx := strings.Index(ic.RootCause, "The incident affected 2 services")
	if rootIdx < 0 || kindsIdx < 0 || spikeIdx < 0 || affectedIdx < 0 {
		t.Fatalf("narrative missing sections: %q", ic.RootCause)
	}
	if !(rootIdx < kindsIdx && kindsIdx < spikeIdx && spikeIdx < affectedIdx) {
		t.Fatalf("narrative sections out of order: %q", ic.RootCause)
	}
}
