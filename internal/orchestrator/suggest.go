package orchestrator

import (
	"strings"

	"github.com/sleuthstack/logsleuth/internal/models"
)

const maxIncidentSuggestion = 200

var genericSuggestions = []string{
	"Check recent deployments for changes correlated with the incident window",
	"Review error logs for the affected services in detail",
	"Verify the health of shared infrastructure (database, cache, message queue)",
}

// Suggest builds the remediation list from the accumulated evidence. Rules
// fire independently and in fixed order; duplicates across rules are kept so
// the output mirrors which rules matched.
func Suggest(errorKinds []string, spike *models.SpikeReport, pastIncidents []models.PastIncident) string {
	var out []string

	if kindsContain(errorKinds, "connection") {
		out = append(out,
			"Check connection pool settings and increase the pool size if it is exhausted",
			"Add a circuit breaker to fail fast on downstream connection errors",
		)
	}
	if kindsContain(errorKinds, "timeout") {
		out = append(out,
			"Review timeout budgets across service calls and tune the slowest hop",
			"Add retries with exponential backoff for transient timeouts",
			"Consider request hedging on latency-sensitive paths",
		)
	}
	if spike != nil && spike.Severity == models.SpikeHigh {
		out = append(out,
			"Scale out the affected service to absorb the error spike",
			"Enable rate limiting to protect downstream dependencies",
		)
	}
	for _, incident := range pastIncidents {
		if incident.Suggestions == "" {
			continue
		}
		suggestion := incident.Suggestions
		if len(suggestion) > maxIncidentSuggestion {
			suggestion = suggestion[:maxIncidentSuggestion]
		}
		out = append(out, "From past incident: "+suggestion)
	}

	if len(out) == 0 {
		out = append(out, genericSuggestions...)
	}
	return strings.Join(out, "\n")
}

func kindsContain(kinds []string, substr string) bool {
	for _, kind := range kinds {
		if strings.Contains(strings.ToLower(kind), substr) {
			return true
		}
	}
	return false
}
