package orchestrator

import (
	"time"

	"github.com/sleuthstack/logsleuth/internal/models"
)

// InvestigationContext accumulates evidence across phases. It is owned by
// exactly one Run call and never shared between concurrent investigations.
type InvestigationContext struct {
	Input     string
	Window    string
	StartedAt time.Time

	Keywords         []string
	MatchedServices  []string
	ErrorLogs        []models.LogEvent
	TraceIDs         []string
	AffectedServices []string
	ErrorKinds       []string
	TotalErrors      int

	Frequency        *models.FrequencySnapshot
	Spike            *models.SpikeReport
	CorrelatedTraces []models.CorrelatedTrace
	PastIncidents    []models.PastIncident

	RootCauseService string
	RootCause        string
	Timeline         []models.TimelineEvent
	Steps            []models.StepResult

	seenServices map[string]bool
	seenKinds    map[string]bool
	seenTraces   map[string]bool
}

func newContext(input, window string, now time.Time) *InvestigationContext {
	return &InvestigationContext{
		Input:        input,
		Window:       window,
		StartedAt:    now,
		seenServices: make(map[string]bool),
		seenKinds:    make(map[string]bool),
		seenTraces:   make(map[string]bool),
	}
}

// addService records a service once, preserving first-seen order.
func (ic *InvestigationContext) addService(service string) {
	if service == "" || ic.seenServices[service] {
		return
	}
	ic.seenServices[service] = true
	ic.AffectedServices = append(ic.AffectedServices, service)
}

func (ic *InvestigationContext) addErrorKind(kind string) {
	if kind == "" || ic.seenKinds[kind] {
		return
	}
	ic.seenKinds[kind] = true
	ic.ErrorKinds = append(ic.ErrorKinds, kind)
}

func (ic *InvestigationContext) addTraceID(id string) {
	if id == "" || ic.seenTraces[id] {
		return
	}
	ic.seenTraces[id] = true
	ic.TraceIDs = append(ic.TraceIDs, id)
}

// Progress is a fire-and-forget notification emitted as phases start and
// finish. Delivery is best-effort; a missing or slow subscriber never blocks
// the investigation.
type Progress struct {
	Phase   models.Phase   `json:"phase"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
