package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sleuthstack/logsleuth/internal/cache"
	"github.com/sleuthstack/logsleuth/internal/metrics"
	"github.com/sleuthstack/logsleuth/internal/models"
	"github.com/sleuthstack/logsleuth/internal/utils"
)

// DefaultLogIndex is the index pattern holding service log events.
const DefaultLogIndex = "logs-logsleuth"

const maxSearchResults = 200

// Config holds connection parameters for the Elasticsearch-compatible store.
type Config struct {
	BaseURL  string
	Index    string
	APIKey   string
	Username string
	Password string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// ElasticStore executes the engine's queries against the log event store.
// Every query is read-through cached under a stable hash of the query type
// and its parameters.
type ElasticStore struct {
	cfg        Config
	httpClient *http.Client
	cache      cache.Provider
	logger     *slog.Logger
	now        func() time.Time
}

// NewElasticStore constructs a store client. A nil cache provider disables
// caching via the noop provider.
func NewElasticStore(cfg Config, cacheProvider cache.Provider, logger *slog.Logger) *ElasticStore {
	if cfg.Index == "" {
		cfg.Index = DefaultLogIndex
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &ElasticStore{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cacheProvider,
		logger:     logger,
		now:        time.Now,
	}
}

// SearchEvents finds events whose message or error message matches the given
// text, newest first. Wildcard patterns with * are supported.
func (s *ElasticStore) SearchEvents(ctx context.Context, query, window, service, level string, max int) (models.SearchResult, error) {
	if max <= 0 || max > maxSearchResults {
		max = maxSearchResults
	}

	key := cache.Key("search_logs", map[string]string{
		"query":   query,
		"window":  window,
		"service": service,
		"level":   level,
		"max":     fmt.Sprint(max),
	})
	var result models.SearchResult
	if s.cacheGet(ctx, "search_logs", key, &result) {
		return result, nil
	}

	pattern := query
	if !strings.Contains(pattern, "*") {
		pattern = "*" + pattern + "*"
	}

	must := []map[string]any{
		{"range": map[string]any{"@timestamp": map[string]any{"gte": s.windowStart(window)}}},
		{"bool": map[string]any{
			"should": []map[string]any{
				{"wildcard": map[string]any{"message": pattern}},
				{"wildcard": map[string]any{"error.message": pattern}},
				{"match": map[string]any{"message": query}},
				{"match": map[string]any{"error.message": query}},
			},
			"minimum_should_match": 1,
		}},
	}
	if service != "" {
		must = append(must, term("service.name.keyword", service))
	}
	if level != "" {
		must = append(must, term("log.level.keyword", level))
	}

	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": must}},
		"sort":  []map[string]any{{"@timestamp": "desc"}},
		"size":  max,
	}

	var resp searchResponse
	if err := s.search(ctx, body, &resp); err != nil {
		metrics.ObserveStoreQuery("search_logs", metrics.QueryResultError)
		return models.SearchResult{}, utils.NewAppError("search_logs", "event store query failed", err)
	}

	result = models.SearchResult{Total: resp.Hits.Total.Value, Events: resp.events()}
	s.cacheSet(ctx, key, result)
	return result, nil
}

// AggregateErrors returns the total error count and the per-service,
// per-error-kind breakdown for the window.
func (s *ElasticStore) AggregateErrors(ctx context.Context, window, service, errorKind string) (int, []models.ServiceErrorCount, error) {
	key := cache.Key("aggregate_errors", map[string]string{
		"window":     window,
		"service":    service,
		"error_kind": errorKind,
	})
	var cached aggregateResult
	if s.cacheGet(ctx, "aggregate_errors", key, &cached) {
		return cached.Total, cached.Services, nil
	}

	filter := []map[string]any{
		{"range": map[string]any{"@timestamp": map[string]any{"gte": s.windowStart(window)}}},
		term("log.level.keyword", "error"),
	}
	if service != "" {
		filter = append(filter, term("service.name.keyword", service))
	}
	if errorKind != "" {
		filter = append(filter, term("error.type.keyword", errorKind))
	}

	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filter}},
		"size":  0,
		"aggs": map[string]any{
			"by_service": map[string]any{
				"terms": map[string]any{"field": "service.name.keyword", "size": 20},
				"aggs": map[string]any{
					"by_error_type": map[string]any{
						"terms": map[string]any{"field": "error.type.keyword", "size": 10},
					},
				},
			},
			"total_errors": map[string]any{"value_count": map[string]any{"field": "@timestamp"}},
		},
	}

	var resp searchResponse
	if err := s.search(ctx, body, &resp); err != nil {
		metrics.ObserveStoreQuery("aggregate_errors", metrics.QueryResultError)
		return 0, nil, utils.NewAppError("aggregate_errors", "event store aggregation failed", err)
	}

	services := make([]models.ServiceErrorCount, 0, len(resp.Aggregations.ByService.Buckets))
	for _, bucket := range resp.Aggregations.ByService.Buckets {
		svc := models.ServiceErrorCount{Service: bucket.Key, Count: bucket.DocCount}
		for _, kind := range bucket.ByErrorType.Buckets {
			svc.Kinds = append(svc.Kinds, models.ErrorKindCount{Kind: kind.Key, Count: kind.DocCount})
		}
		services = append(services, svc)
	}
	total := int(resp.Aggregations.TotalErrors.Value)

	s.cacheSet(ctx, key, aggregateResult{Total: total, Services: services})
	return total, services, nil
}

// ErrorHistogram returns the time-bucketed error series with per-service
// sub-counts. Buckets without observed errors are omitted.
func (s *ElasticStore) ErrorHistogram(ctx context.Context, window, service, interval string) ([]models.HistogramBucket, error) {
	key := cache.Key("error_histogram", map[string]string{
		"window":   window,
		"service":  service,
		"interval": interval,
	})
	var buckets []models.HistogramBucket
	if s.cacheGet(ctx, "error_histogram", key, &buckets) {
		return buckets, nil
	}

	filter := []map[string]any{
		{"range": map[string]any{"@timestamp": map[string]any{"gte": s.windowStart(window)}}},
		term("log.level.keyword", "error"),
	}
	if service != "" {
		filter = append(filter, term("service.name.keyword", service))
	}

	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filter}},
		"size":  0,
		"aggs": map[string]any{
			"errors_over_time": map[string]any{
				"date_histogram": map[string]any{
					"field":          "@timestamp",
					"fixed_interval": interval,
				},
				"aggs": map[string]any{
					"by_service": map[string]any{
						"terms": map[string]any{"field": "service.name.keyword", "size": 10},
					},
				},
			},
		},
	}

	var resp searchResponse
	if err := s.search(ctx, body, &resp); err != nil {
		metrics.ObserveStoreQuery("error_histogram", metrics.QueryResultError)
		return nil, utils.NewAppError("error_histogram", "event store histogram failed", err)
	}

	buckets = make([]models.HistogramBucket, 0, len(resp.Aggregations.ErrorsOverTime.Buckets))
	for _, bucket := range resp.Aggregations.ErrorsOverTime.Buckets {
		if bucket.DocCount == 0 {
			continue
		}
		out := models.HistogramBucket{
			Start:     time.UnixMilli(bucket.Key).UTC(),
			Count:     bucket.DocCount,
			ByService: make(map[string]int, len(bucket.ByService.Buckets)),
		}
		for _, svc := range bucket.ByService.Buckets {
			out.ByService[svc.Key] = svc.DocCount
		}
		buckets = append(buckets, out)
	}

	s.cacheSet(ctx, key, buckets)
	return buckets, nil
}

// EventsByTraceID fetches all events sharing the trace identifier, sorted
// ascending by timestamp with the store's document order as tie-break.
func (s *ElasticStore) EventsByTraceID(ctx context.Context, traceID string, max int) ([]models.LogEvent, error) {
	if max <= 0 || max > maxSearchResults {
		max = 100
	}

	key := cache.Key("correlated_logs", map[string]string{
		"trace_id": traceID,
		"max":      fmt.Sprint(max),
	})
	var events []models.LogEvent
	if s.cacheGet(ctx, "correlated_logs", key, &events) {
		return renumber(events), nil
	}

	body := map[string]any{
		"query": map[string]any{"term": map[string]any{"trace.id": traceID}},
		"sort":  []map[string]any{{"@timestamp": "asc"}},
		"size":  max,
	}

	var resp searchResponse
	if err := s.search(ctx, body, &resp); err != nil {
		metrics.ObserveStoreQuery("correlated_logs", metrics.QueryResultError)
		return nil, utils.NewAppError("correlated_logs", "trace fetch failed", err)
	}

	events = resp.events()
	s.cacheSet(ctx, key, events)
	return events, nil
}

// RecentServiceErrors fetches the newest error events for one service that
// carry a trace identifier.
func (s *ElasticStore) RecentServiceErrors(ctx context.Context, service, window string, max int) ([]models.LogEvent, error) {
	if max <= 0 {
		max = 20
	}

	key := cache.Key("recent_errors", map[string]string{
		"service": service,
		"window":  window,
		"max":     fmt.Sprint(max),
	})
	var events []models.LogEvent
	if s.cacheGet(ctx, "recent_errors", key, &events) {
		return renumber(events), nil
	}

	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": []map[string]any{
			{"range": map[string]any{"@timestamp": map[string]any{"gte": s.windowStart(window)}}},
			term("log.level.keyword", "error"),
			term("service.name.keyword", service),
			{"exists": map[string]any{"field": "trace.id"}},
		}}},
		"sort": []map[string]any{{"@timestamp": "desc"}},
		// Over-fetch so de-duplication by trace id still fills the page.
		"size": max * 2,
	}

	var resp searchResponse
	if err := s.search(ctx, body, &resp); err != nil {
		metrics.ObserveStoreQuery("recent_errors", metrics.QueryResultError)
		return nil, utils.NewAppError("recent_errors", "recent error fetch failed", err)
	}

	events = resp.events()
	s.cacheSet(ctx, key, events)
	return events, nil
}

func (s *ElasticStore) windowStart(window string) string {
	return utils.WindowStart(window, s.now().UTC()).Format(time.RFC3339)
}

func (s *ElasticStore) cacheGet(ctx context.Context, queryType, key string, out any) bool {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.ObserveStoreQuery(queryType, metrics.QueryResultMiss)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		metrics.ObserveStoreQuery(queryType, metrics.QueryResultMiss)
		return false
	}
	metrics.ObserveStoreQuery(queryType, metrics.QueryResultHit)
	return true
}

func (s *ElasticStore) cacheSet(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cfg.CacheTTL); err != nil {
		s.logger.Debug("cache set failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *ElasticStore) search(ctx context.Context, body map[string]any, out *searchResponse) error {
	if s.cfg.BaseURL == "" {
		return fmt.Errorf("event store URL not configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	endpoint := s.cfg.BaseURL + "/" + s.cfg.Index + "/_search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event store returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (s *ElasticStore) authorize(req *http.Request) {
	switch {
	case s.cfg.APIKey != "":
		req.Header.Set("Authorization", "ApiKey "+s.cfg.APIKey)
	case s.cfg.Username != "":
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
}

// renumber restores the positional sequence numbers stripped from the
// cached JSON form.
func renumber(events []models.LogEvent) []models.LogEvent {
	for i := range events {
		events[i].Seq = int64(i)
	}
	return events
}

func term(field, value string) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source esDoc `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations struct {
		ByService struct {
			Buckets []struct {
				Key         string `json:"key"`
				DocCount    int    `json:"doc_count"`
				ByErrorType struct {
					Buckets []struct {
						Key      string `json:"key"`
						DocCount int    `json:"doc_count"`
					} `json:"buckets"`
				} `json:"by_error_type"`
			} `json:"buckets"`
		} `json:"by_service"`
		TotalErrors struct {
			Value float64 `json:"value"`
		} `json:"total_errors"`
		ErrorsOverTime struct {
			Buckets []struct {
				Key       int64 `json:"key"`
				DocCount  int   `json:"doc_count"`
				ByService struct {
					Buckets []struct {
						Key      string `json:"key"`
						DocCount int    `json:"doc_count"`
					} `json:"buckets"`
				} `json:"by_service"`
			} `json:"buckets"`
		} `json:"errors_over_time"`
	} `json:"aggregations"`
}

func (r *searchResponse) events() []models.LogEvent {
	events := make([]models.LogEvent, 0, len(r.Hits.Hits))
	for i, hit := range r.Hits.Hits {
		events = append(events, hit.Source.toEvent(int64(i)))
	}
	return events
}

// esDoc mirrors the ECS-style document layout of the log index.
type esDoc struct {
	Timestamp time.Time `json:"@timestamp"`
	Message   string    `json:"message"`
	Log       struct {
		Level string `json:"level"`
	} `json:"log"`
	Service struct {
		Name string `json:"name"`
	} `json:"service"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Trace struct {
		ID string `json:"id"`
	} `json:"trace"`
	Span struct {
		ID string `json:"id"`
	} `json:"span"`
	Host struct {
		Name string `json:"name"`
	} `json:"host"`
	HTTP struct {
		Request struct {
			Method string `json:"method"`
			Path   string `json:"path"`
		} `json:"request"`
		Response struct {
			StatusCode int `json:"status_code"`
		} `json:"response"`
	} `json:"http"`
	Event struct {
		Duration int64 `json:"duration"`
	} `json:"event"`
}

func (d esDoc) toEvent(seq int64) models.LogEvent {
	return models.LogEvent{
		Timestamp:    d.Timestamp,
		Service:      d.Service.Name,
		Level:        d.Log.Level,
		Message:      d.Message,
		TraceID:      d.Trace.ID,
		SpanID:       d.Span.ID,
		Host:         d.Host.Name,
		ErrorKind:    d.Error.Type,
		ErrorMessage: d.Error.Message,
		HTTPMethod:   d.HTTP.Request.Method,
		HTTPPath:     d.HTTP.Request.Path,
		HTTPStatus:   d.HTTP.Response.StatusCode,
		Duration:     time.Duration(d.Event.Duration),
		Seq:          seq,
	}
}

type aggregateResult struct {
	Total    int                        `json:"total"`
	Services []models.ServiceErrorCount `json:"services"`
}
