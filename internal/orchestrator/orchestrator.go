package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sleuthstack/logsleuth/internal/correlator"
	"github.com/sleuthstack/logsleuth/internal/kb"
	"github.com/sleuthstack/logsleuth/internal/metrics"
	"github.com/sleuthstack/logsleuth/internal/models"
	"github.com/sleuthstack/logsleuth/internal/utils"
)

const (
	maxSearchEvents     = 100
	maxTracesToFollow   = 5
	maxTracesToDiscover = 3
	maxPastIncidents    = 5
	maxReportIncidents  = 3
)

// keywordVocabulary is the fixed set of operational terms matched against the
// lower-cased incident text during UNDERSTAND.
var keywordVocabulary = []string{
	"timeout", "connection", "refused", "failed", "error", "exception",
	"slow", "latency", "spike", "crash", "memory", "cpu", "disk",
	"database", "db", "cache", "redis", "queue", "kafka",
	"payment", "checkout", "user", "auth", "login",
}

// transitions encodes the strictly sequential phase order. Every phase runs;
// a phase that found nothing hands degraded evidence to the next one rather
// than stopping the run.
var transitions = map[models.Phase]models.Phase{
	models.PhaseUnderstand: models.PhaseSearch,
	models.PhaseSearch:     models.PhaseAnalyze,
	models.PhaseAnalyze:    models.PhaseCorrelate,
	models.PhaseCorrelate:  models.PhaseSynthesize,
	models.PhaseSynthesize: models.PhaseComplete,
}

// EventSearcher is the slice of the event store used by SEARCH.
type EventSearcher interface {
	SearchEvents(ctx context.Context, query, window, service, level string, max int) (models.SearchResult, error)
}

// FrequencyAnalyzer is consumed by ANALYZE.
type FrequencyAnalyzer interface {
	Analyze(ctx context.Context, window, service, errorKind, interval string) (models.FrequencySnapshot, error)
}

// TraceCorrelator is consumed by CORRELATE.
type TraceCorrelator interface {
	Correlate(ctx context.Context, traceID string, max int) (models.CorrelatedTrace, error)
	DiscoverErrorTraces(ctx context.Context, service, window string, maxTraces int) ([]models.TraceSummary, error)
}

// Config carries the tunables of an investigation run.
type Config struct {
	// KnownServices is matched against incident text during UNDERSTAND.
	KnownServices []string
	// DefaultWindow is applied when the caller supplies no time window.
	DefaultWindow string
	// BucketInterval is the histogram bucket width used by ANALYZE.
	BucketInterval string
}

func (c *Config) applyDefaults() {
	if c.DefaultWindow == "" {
		c.DefaultWindow = "1h"
	}
	if c.BucketInterval == "" {
		c.BucketInterval = "5m"
	}
}

// Orchestrator drives the five-phase investigation workflow.
type Orchestrator struct {
	cfg        Config
	store      EventSearcher
	analyzer   FrequencyAnalyzer
	correlator TraceCorrelator
	bridge     kb.Bridge
	logger     *slog.Logger
	progress   chan<- Progress
	now        func() time.Time
}

// New constructs an orchestrator over its collaborators. The progress channel
// is optional; pass nil when no subscriber exists.
func New(cfg Config, store EventSearcher, analyzer FrequencyAnalyzer, corr TraceCorrelator, bridge kb.Bridge, logger *slog.Logger, progress chan<- Progress) *Orchestrator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		analyzer:   analyzer,
		correlator: corr,
		bridge:     bridge,
		logger:     logger,
		progress:   progress,
		now:        time.Now,
	}
}

type phaseHandler func(ctx context.Context, ic *InvestigationContext) (models.StepResult, error)

// Run executes every phase in order and assembles the final report. SEARCH
// and ANALYZE failures abort the run; all other trouble degrades the
// evidence instead. When persist is set and a root cause was attributed, the
// record is handed to the knowledge base after SYNTHESIZE; a failed write is
// logged and the report is returned regardless.
func (o *Orchestrator) Run(ctx context.Context, incident, window string, persist bool) (models.Report, error) {
	if window == "" {
		window = o.cfg.DefaultWindow
	}

	started := o.now()
	ic := newContext(incident, window, started)

	handlers := map[models.Phase]phaseHandler{
		models.PhaseUnderstand: o.understand,
		models.PhaseSearch:     o.search,
		models.PhaseAnalyze:    o.analyze,
		models.PhaseCorrelate:  o.correlate,
		models.PhaseSynthesize: o.synthesize,
	}

	for phase := models.PhaseUnderstand; phase != models.PhaseComplete; phase = transitions[phase] {
		o.emit(Progress{Phase: phase, Message: fmt.Sprintf("starting %s", phase)})

		phaseStart := o.now()
		step, err := handlers[phase](ctx, ic)
		step.Phase = phase
		step.DurationMS = float64(o.now().Sub(phaseStart).Nanoseconds()) / 1e6
		ic.Steps = append(ic.Steps, step)

		if err != nil {
			metrics.ObserveInvestigation(o.now().Sub(started), metrics.OutcomeError)
			o.logger.Error("investigation aborted",
				slog.String("phase", string(phase)),
				slog.Any("error", err),
			)
			return models.Report{}, fmt.Errorf("%s phase failed: %w", phase, err)
		}
		o.emit(Progress{Phase: phase, Message: step.Reasoning, Data: step.Data})
	}

	suggestions := Suggest(ic.ErrorKinds, ic.Spike, ic.PastIncidents)
	report := o.buildReport(ic, suggestions)

	if persist && ic.RootCauseService != "" {
		o.persist(ctx, ic, suggestions)
	}

	metrics.ObserveInvestigation(o.now().Sub(started), metrics.OutcomeSuccess)
	o.emit(Progress{Phase: models.PhaseComplete, Message: "investigation complete"})
	return report, nil
}

// understand extracts search keywords and known service names from the
// incident text. Matching is plain substring containment over the
// lower-cased text; no language model or fuzzy matching is involved.
func (o *Orchestrator) understand(_ context.Context, ic *InvestigationContext) (models.StepResult, error) {
	text := strings.ToLower(ic.Input)

	for _, keyword := range keywordVocabulary {
		if strings.Contains(text, keyword) {
			ic.Keywords = append(ic.Keywords, keyword)
		}
	}
	if len(ic.Keywords) == 0 {
		ic.Keywords = []string{"error"}
	}

	for _, service := range o.cfg.KnownServices {
		if strings.Contains(text, service) || strings.Contains(text, strings.ReplaceAll(service, "-", " ")) {
			ic.MatchedServices = append(ic.MatchedServices, service)
			ic.addService(service)
		}
	}

	return models.StepResult{
		Success: true,
		Data: map[string]any{
			"keywords": ic.Keywords,
			"services": ic.MatchedServices,
		},
		Reasoning:  fmt.Sprintf("extracted %d keywords, matched %d known services", len(ic.Keywords), len(ic.MatchedServices)),
		NextAction: string(models.PhaseSearch),
	}, nil
}

// search retrieves error-level events matching the first keyword and folds
// their trace ids, services and error kinds into the context.
func (o *Orchestrator) search(ctx context.Context, ic *InvestigationContext) (models.StepResult, error) {
	query := "*error*"
	if len(ic.Keywords) > 0 {
		query = "*" + ic.Keywords[0] + "*"
	}

	result, err := o.store.SearchEvents(ctx, query, ic.Window, "", "error", maxSearchEvents)
	if err != nil {
		return models.StepResult{Reasoning: "event store search failed"}, err
	}

	ic.ErrorLogs = result.Events
	for _, event := range result.Events {
		ic.addTraceID(event.TraceID)
		ic.addService(event.Service)
		ic.addErrorKind(event.ErrorKind)
	}

	return models.StepResult{
		Success: true,
		Data: map[string]any{
			"total":     result.Total,
			"returned":  len(result.Events),
			"trace_ids": len(ic.TraceIDs),
			"services":  ic.AffectedServices,
		},
		Reasoning:  fmt.Sprintf("found %d error events across %d services", len(result.Events), len(ic.AffectedServices)),
		NextAction: string(models.PhaseAnalyze),
	}, nil
}

// analyze measures error frequency, detects spikes, and pulls similar past
// incidents from the knowledge base. A knowledge-base failure degrades to
// zero past incidents; a store failure aborts.
func (o *Orchestrator) analyze(ctx context.Context, ic *InvestigationContext) (models.StepResult, error) {
	snapshot, err := o.analyzer.Analyze(ctx, ic.Window, "", "", o.cfg.BucketInterval)
	if err != nil {
		return models.StepResult{Reasoning: "frequency analysis failed"}, err
	}

	ic.Frequency = &snapshot
	ic.Spike = snapshot.Spike
	ic.TotalErrors = snapshot.TotalErrors
	for _, svc := range snapshot.Services {
		ic.addService(svc.Service)
		for _, kind := range svc.Kinds {
			ic.addErrorKind(kind.Kind)
		}
	}

	if ic.Spike != nil {
		ic.Timeline = append(ic.Timeline, models.TimelineEvent{
			Timestamp: ic.Spike.BucketStart.UTC().Format(time.RFC3339),
			Event:     fmt.Sprintf("Error spike (%d errors)", ic.Spike.Count),
			Service:   "multiple",
		})
	}

	terms := kbSearchTerms(ic)
	if o.bridge != nil && terms != "" {
		incidents, err := o.bridge.SearchSimilar(ctx, terms, "", "", maxPastIncidents)
		if err != nil {
			o.logger.Warn("knowledge base lookup failed", slog.Any("error", err))
		} else {
			ic.PastIncidents = incidents
		}
	}

	return models.StepResult{
		Success: true,
		Data: map[string]any{
			"total_errors":   snapshot.TotalErrors,
			"spike_detected": ic.Spike != nil,
			"past_incidents": len(ic.PastIncidents),
		},
		Reasoning:  fmt.Sprintf("%d errors in window, %d similar past incidents", snapshot.TotalErrors, len(ic.PastIncidents)),
		NextAction: string(models.PhaseCorrelate),
	}, nil
}

// correlate follows known trace ids across services, falling back to trace
// discovery from the first affected service, then elects the root-cause
// service. Per-trace failures are skipped; the vote runs over whatever
// correlated successfully.
func (o *Orchestrator) correlate(ctx context.Context, ic *InvestigationContext) (models.StepResult, error) {
	ids := ic.TraceIDs
	if len(ids) > maxTracesToFollow {
		ids = ids[:maxTracesToFollow]
	}

	if len(ids) == 0 && len(ic.AffectedServices) > 0 {
		summaries, err := o.correlator.DiscoverErrorTraces(ctx, ic.AffectedServices[0], ic.Window, maxTracesToDiscover)
		if err != nil {
			o.logger.Warn("trace discovery failed",
				slog.String("service", ic.AffectedServices[0]),
				slog.Any("error", err),
			)
		}
		for _, summary := range summaries {
			ids = append(ids, summary.TraceID)
		}
	}

	results := make([]*models.CorrelatedTrace, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxTracesToFollow)
	for i, id := range ids {
		g.Go(func() error {
			trace, err := o.correlator.Correlate(gctx, id, maxSearchEvents)
			if err != nil {
				o.logger.Warn("trace correlation failed",
					slog.String("trace_id", id),
					slog.Any("error", err),
				)
				return nil
			}
			results[i] = &trace
			return nil
		})
	}
	_ = g.Wait()

	for _, trace := range results {
		if trace == nil {
			continue
		}
		ic.CorrelatedTraces = append(ic.CorrelatedTraces, *trace)
		if trace.FirstErrorTime != nil {
			ic.Timeline = append(ic.Timeline, models.TimelineEvent{
				Timestamp: trace.FirstErrorTime.UTC().Format(time.RFC3339),
				Event:     fmt.Sprintf("Error in trace %s...", truncate(trace.TraceID, 8)),
				Service:   trace.RootCauseService,
			})
		}
	}

	ic.RootCauseService = correlator.Vote(ic.CorrelatedTraces, ic.AffectedServices)

	return models.StepResult{
		Success: true,
		Data: map[string]any{
			"traces_correlated":  len(ic.CorrelatedTraces),
			"root_cause_service": ic.RootCauseService,
		},
		Reasoning:  fmt.Sprintf("correlated %d of %d traces", len(ic.CorrelatedTraces), len(ids)),
		NextAction: string(models.PhaseSynthesize),
	}, nil
}

// synthesize assembles the root-cause narrative from the accumulated
// evidence and sorts the incident timeline. Sentence order is fixed so two
// runs over the same evidence read identically.
func (o *Orchestrator) synthesize(_ context.Context, ic *InvestigationContext) (models.StepResult, error) {
	var parts []string

	if ic.RootCauseService != "" {
		parts = append(parts, fmt.Sprintf("The root cause originated in %s.", ic.RootCauseService))
	}
	if len(ic.ErrorKinds) > 0 {
		kinds := ic.ErrorKinds
		if len(kinds) > 3 {
			kinds = kinds[:3]
		}
		parts = append(parts, fmt.Sprintf("Error types observed: %s.", strings.Join(kinds, ", ")))
	}
	if ic.Spike != nil {
		parts = append(parts, fmt.Sprintf("An error spike of %d errors (severity %s) was detected at %s.",
			ic.Spike.Count, ic.Spike.Severity, ic.Spike.BucketStart.UTC().Format(time.RFC3339)))
	}
	if len(ic.AffectedServices) > 0 {
		parts = append(parts, fmt.Sprintf("The incident affected %d services: %s.",
			len(ic.AffectedServices), strings.Join(ic.AffectedServices, ", ")))
	}
	if len(ic.PastIncidents) > 0 {
		latest := ic.PastIncidents[0]
		parts = append(parts, fmt.Sprintf("Similar incident found from %s: %s...",
			latest.Timestamp.UTC().Format(time.RFC3339), truncate(latest.RootCause, 100)))
	}

	if len(parts) == 0 {
		ic.RootCause = "Root cause could not be determined."
	} else {
		ic.RootCause = strings.Join(parts, " ")
	}

	// ISO-8601 strings sort lexicographically in chronological order.
	sort.SliceStable(ic.Timeline, func(i, j int) bool {
		return ic.Timeline[i].Timestamp < ic.Timeline[j].Timestamp
	})

	return models.StepResult{
		Success:    true,
		Data:       map[string]any{"root_cause": ic.RootCause},
		Reasoning:  "synthesized root-cause narrative from accumulated evidence",
		NextAction: string(models.PhaseComplete),
	}, nil
}

func (o *Orchestrator) buildReport(ic *InvestigationContext, suggestions string) models.Report {
	affected := ic.AffectedServices
	if affected == nil {
		affected = []string{}
	}
	kinds := ic.ErrorKinds
	if kinds == nil {
		kinds = []string{}
	}
	timeline := ic.Timeline
	if timeline == nil {
		timeline = []models.TimelineEvent{}
	}

	past := make([]models.PastIncidentSummary, 0, maxReportIncidents)
	for _, incident := range ic.PastIncidents {
		if len(past) == maxReportIncidents {
			break
		}
		past = append(past, models.PastIncidentSummary{
			ID:         incident.ID,
			RootCause:  incident.RootCause,
			Resolution: incident.Resolution,
		})
	}

	return models.Report{
		Status:          "completed",
		DurationSeconds: o.now().Sub(ic.StartedAt).Seconds(),
		Incident: models.IncidentInfo{
			Description: ic.Input,
			TimeRange:   ic.Window,
		},
		Findings: models.Findings{
			RootCause:        ic.RootCause,
			RootCauseService: ic.RootCauseService,
			AffectedServices: affected,
			ErrorKinds:       kinds,
			TotalErrors:      ic.TotalErrors,
			Spike:            ic.Spike,
		},
		Timeline:      timeline,
		PastIncidents: past,
		Suggestions:   suggestions,
		Steps:         ic.Steps,
	}
}

func (o *Orchestrator) persist(ctx context.Context, ic *InvestigationContext, suggestions string) {
	if o.bridge == nil {
		return
	}

	end := o.now().UTC()
	record := models.InvestigationRecord{
		Input:            ic.Input,
		WindowStart:      end.Add(-utils.ParseWindow(ic.Window)),
		WindowEnd:        end,
		RootCause:        ic.RootCause,
		RootCauseService: ic.RootCauseService,
		AffectedServices: ic.AffectedServices,
		ErrorKinds:       ic.ErrorKinds,
		ErrorCount:       ic.TotalErrors,
		Timeline:         ic.Timeline,
		Suggestions:      suggestions,
	}

	id, err := o.bridge.Write(ctx, record)
	if err != nil {
		o.logger.Warn("failed to persist investigation", slog.Any("error", err))
		return
	}
	o.logger.Info("investigation persisted", slog.String("id", id))
}

// emit performs a non-blocking send; progress is dropped when no subscriber
// is draining the channel.
func (o *Orchestrator) emit(p Progress) {
	if o.progress == nil {
		return
	}
	select {
	case o.progress <- p:
	default:
	}
}

// kbSearchTerms derives the knowledge-base query from the first three error
// kinds, falling back to the leading slice of the incident text.
func kbSearchTerms(ic *InvestigationContext) string {
	if len(ic.ErrorKinds) > 0 {
		kinds := ic.ErrorKinds
		if len(kinds) > 3 {
			kinds = kinds[:3]
		}
		return strings.Join(kinds, " ")
	}
	return truncate(ic.Input, 50)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
