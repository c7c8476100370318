package analyzer

import (
	"context"
	"log/slog"

	"github.com/sleuthstack/logsleuth/internal/models"
)

// Store is the slice of the event store the analyzer queries.
type Store interface {
	AggregateErrors(ctx context.Context, window, service, errorKind string) (int, []models.ServiceErrorCount, error)
	ErrorHistogram(ctx context.Context, window, service, interval string) ([]models.HistogramBucket, error)
}

// Analyzer computes error-frequency snapshots and flags volume spikes.
type Analyzer struct {
	store  Store
	logger *slog.Logger
}

// NewAnalyzer constructs an analyzer over the given store.
func NewAnalyzer(store Store, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: store, logger: logger}
}

// Analyze aggregates error volume over the window and attaches the histogram
// and any detected spike. Filtering by errorKind narrows the totals but not
// the histogram, which always shows the full error series for the scope.
func (a *Analyzer) Analyze(ctx context.Context, window, service, errorKind, interval string) (models.FrequencySnapshot, error) {
	if window == "" {
		window = "1h"
	}
	if interval == "" {
		interval = "5m"
	}

	total, services, err := a.store.AggregateErrors(ctx, window, service, errorKind)
	if err != nil {
		return models.FrequencySnapshot{}, err
	}

	histogram, err := a.store.ErrorHistogram(ctx, window, service, interval)
	if err != nil {
		return models.FrequencySnapshot{}, err
	}

	snapshot := models.FrequencySnapshot{
		TotalErrors: total,
		Window:      window,
		Interval:    interval,
		Services:    services,
		Histogram:   histogram,
		Spike:       DetectSpike(histogram),
	}
	if snapshot.Spike != nil {
		a.logger.Info("error spike detected",
			slog.Time("bucket_start", snapshot.Spike.BucketStart),
			slog.Int("count", snapshot.Spike.Count),
			slog.String("severity", string(snapshot.Spike.Severity)),
		)
	}
	return snapshot, nil
}

// DetectSpike flags the busiest histogram bucket when it exceeds twice the
// mean bucket count. Severity is high above five times the mean, medium
// otherwise. The mean is taken over the buckets present in the series, which
// by construction excludes empty intervals. Ties go to the earliest bucket.
func DetectSpike(buckets []models.HistogramBucket) *models.SpikeReport {
	if len(buckets) < 2 {
		return nil
	}

	var sum int
	peak := buckets[0]
	for _, bucket := range buckets {
		sum += bucket.Count
		if bucket.Count > peak.Count {
			peak = bucket
		}
	}

	mean := float64(sum) / float64(len(buckets))
	if float64(peak.Count) <= 2*mean {
		return nil
	}

	severity := models.SpikeMedium
	if float64(peak.Count) > 5*mean {
		severity = models.SpikeHigh
	}
	return &models.SpikeReport{
		BucketStart: peak.Start,
		Count:       peak.Count,
		Severity:    severity,
	}
}
