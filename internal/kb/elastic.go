package kb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sleuthstack/logsleuth/internal/models"
	"github.com/sleuthstack/logsleuth/internal/utils"
)

// DefaultIndex is the index holding persisted investigations.
const DefaultIndex = "investigations-logsleuth"

// Bridge is the knowledge-base contract used by the orchestrator and the
// tool surface. The knowledge base is best-effort: an empty result set and
// an unreachable backend look the same to the caller that only wants hints.
type Bridge interface {
	SearchSimilar(ctx context.Context, terms, service, errorKind string, max int) ([]models.PastIncident, error)
	Write(ctx context.Context, record models.InvestigationRecord) (string, error)
}

// Config holds connection parameters for the knowledge-base index.
type Config struct {
	BaseURL  string
	Index    string
	APIKey   string
	Username string
	Password string
	Timeout  time.Duration
}

// ElasticBridge persists and recalls investigations in an
// Elasticsearch-compatible index.
type ElasticBridge struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	ensureOnce sync.Once
	ensureErr  error
}

// NewElasticBridge constructs a knowledge-base bridge.
func NewElasticBridge(cfg Config, logger *slog.Logger) *ElasticBridge {
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &ElasticBridge{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// SearchSimilar finds past investigations whose recorded findings, incident
// text or remediation notes match the given terms, newest first. A missing
// index yields an empty result rather than an error so a fresh deployment
// degrades quietly.
func (b *ElasticBridge) SearchSimilar(ctx context.Context, terms, service, errorKind string, max int) ([]models.PastIncident, error) {
	if max <= 0 {
		max = 5
	}

	bq := map[string]any{
		"should": []map[string]any{
			{"match": map[string]any{"findings.root_cause": terms}},
			{"match": map[string]any{"incident.input": terms}},
			{"match": map[string]any{"remediation.suggestions": terms}},
		},
		"minimum_should_match": 1,
	}
	var filter []map[string]any
	if service != "" {
		filter = append(filter, map[string]any{
			"term": map[string]any{"findings.root_cause_service.keyword": service},
		})
	}
	if errorKind != "" {
		filter = append(filter, map[string]any{
			"term": map[string]any{"findings.error_types.keyword": errorKind},
		})
	}
	if len(filter) > 0 {
		bq["filter"] = filter
	}

	body := map[string]any{
		"query": map[string]any{"bool": bq},
		"sort":  []map[string]any{{"@timestamp": "desc"}},
		"size":  max,
	}

	var resp kbSearchResponse
	status, err := b.request(ctx, http.MethodPost, "/"+b.cfg.Index+"/_search", body, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewAppError("kb_search", "knowledge base query failed", err)
	}

	incidents := make([]models.PastIncident, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		incidents = append(incidents, hit.Source.toIncident())
	}
	return incidents, nil
}

// Write persists a completed investigation and returns its identifier.
func (b *ElasticBridge) Write(ctx context.Context, record models.InvestigationRecord) (string, error) {
	if err := b.ensureIndex(ctx); err != nil {
		return "", utils.NewAppError("kb_write", "knowledge base index unavailable", err)
	}

	id := NewIncidentID(b.now().UTC())
	doc := kbDoc{
		ID:        id,
		Timestamp: b.now().UTC(),
	}
	doc.Incident.Input = record.Input
	doc.Incident.WindowStart = record.WindowStart
	doc.Incident.WindowEnd = record.WindowEnd
	doc.Findings.RootCause = record.RootCause
	doc.Findings.RootCauseService = record.RootCauseService
	doc.Findings.AffectedServices = record.AffectedServices
	doc.Findings.ErrorKinds = record.ErrorKinds
	doc.Findings.ErrorCount = record.ErrorCount
	doc.Timeline = record.Timeline
	doc.Remediation.Suggestions = record.Suggestions
	doc.Remediation.Resolution = record.Resolution

	status, err := b.request(ctx, http.MethodPut, "/"+b.cfg.Index+"/_doc/"+id, doc, nil)
	if err != nil {
		return "", utils.NewAppError("kb_write", "knowledge base write failed", err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return "", utils.NewAppError("kb_write", fmt.Sprintf("knowledge base returned status %d", status), nil)
	}
	return id, nil
}

// NewIncidentID mints an investigation identifier of the form
// INV-20060102-A1B2C3.
func NewIncidentID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("INV-%s-%s", now.Format("20060102"), suffix)
}

func (b *ElasticBridge) ensureIndex(ctx context.Context) error {
	b.ensureOnce.Do(func() {
		status, err := b.request(ctx, http.MethodPut, "/"+b.cfg.Index, map[string]any{
			"mappings": map[string]any{
				"properties": map[string]any{
					"@timestamp": map[string]any{"type": "date"},
					"findings": map[string]any{
						"properties": map[string]any{
							"root_cause": map[string]any{"type": "text"},
							"root_cause_service": map[string]any{
								"type":   "text",
								"fields": map[string]any{"keyword": map[string]any{"type": "keyword"}},
							},
							"error_types": map[string]any{
								"type":   "text",
								"fields": map[string]any{"keyword": map[string]any{"type": "keyword"}},
							},
						},
					},
				},
			},
		}, nil)
		if err != nil {
			b.ensureErr = err
			return
		}
		// 400 means the index already exists.
		if status != http.StatusOK && status != http.StatusBadRequest {
			b.ensureErr = fmt.Errorf("index create returned status %d", status)
		}
	})
	return b.ensureErr
}

func (b *ElasticBridge) request(ctx context.Context, method, path string, body, out any) (int, error) {
	if b.cfg.BaseURL == "" {
		return 0, fmt.Errorf("knowledge base URL not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case b.cfg.APIKey != "":
		req.Header.Set("Authorization", "ApiKey "+b.cfg.APIKey)
	case b.cfg.Username != "":
		req.SetBasicAuth(b.cfg.Username, b.cfg.Password)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, fmt.Errorf("knowledge base returned %s", resp.Status)
	}
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// kbDoc is the stored investigation document.
type kbDoc struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"@timestamp"`
	Incident  struct {
		Input       string    `json:"input"`
		WindowStart time.Time `json:"window_start"`
		WindowEnd   time.Time `json:"window_end"`
	} `json:"incident"`
	Findings struct {
		RootCause        string   `json:"root_cause"`
		RootCauseService string   `json:"root_cause_service"`
		AffectedServices []string `json:"affected_services"`
		ErrorKinds       []string `json:"error_types,omitempty"`
		ErrorCount       int      `json:"error_count,omitempty"`
	} `json:"findings"`
	Timeline    []models.TimelineEvent `json:"timeline,omitempty"`
	Remediation struct {
		Suggestions string `json:"suggestions,omitempty"`
		Resolution  string `json:"resolution,omitempty"`
	} `json:"remediation"`
}

func (d kbDoc) toIncident() models.PastIncident {
	return models.PastIncident{
		ID:               d.ID,
		Timestamp:        d.Timestamp,
		Input:            d.Incident.Input,
		RootCause:        d.Findings.RootCause,
		RootCauseService: d.Findings.RootCauseService,
		AffectedServices: d.Findings.AffectedServices,
		ErrorKinds:       d.Findings.ErrorKinds,
		Resolution:       d.Remediation.Resolution,
		Suggestions:      d.Remediation.Suggestions,
	}
}

type kbSearchResponse struct {
	Hits struct {
		Hits []struct {
			Source kbDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}
