package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/faxops/blast-engine/internal/domain"
	"github.com/faxops/blast-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRollupInterval = 30 * time.Second
	defaultRollupLimit    = 500
)

// RollupWorker folds finished submissions into hourly metric buckets. It
// keeps an in-memory watermark of the last updated_at it has seen, so a
// restart re-folds at most one scan window.
type RollupWorker struct {
	submissions repository.SubmissionRepository
	metrics     repository.MetricRepository
	logger      *zap.Logger
	interval    time.Duration
	limit       int

	mu        sync.Mutex
	watermark time.Time

	now func() time.Time
}

func NewRollupWorker(
	submissions repository.SubmissionRepository,
	metrics repository.MetricRepository,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RollupWorker, error) {
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metric repository is required")
	}
	if interval <= 0 {
		interval = defaultRollupInterval
	}
	if limit <= 0 {
		limit = defaultRollupLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RollupWorker{
		submissions: submissions,
		metrics:     metrics,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		now:         time.Now,
	}, nil
}

func (w *RollupWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.mu.Lock()
	if w.watermark.IsZero() {
		// First start folds the last 24 hours so a restart does not lose
		// the in-flight day's buckets.
		w.watermark = w.now().UTC().Add(-24 * time.Hour)
	}
	w.mu.Unlock()

	if err := w.scan(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("rollup initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("rollup scan failed", zap.Error(err))
			}
		}
	}
}

func (w *RollupWorker) scan(ctx context.Context) error {
	w.mu.Lock()
	since := w.watermark
	w.mu.Unlock()

	submissions, err := w.submissions.GetTerminalSince(ctx, since, w.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch terminal submissions: %w", err)
	}
	if len(submissions) == 0 {
		return nil
	}

	// Fold per (date, hour) so one Upsert covers every submission that
	// landed in the same bucket this scan.
	buckets := make(map[string]*domain.MetricBucket)
	newWatermark := since
	for i := range submissions {
		s := submissions[i]
		date, hour := domain.BucketKeyFor(s.UpdatedAt)
		key := fmt.Sprintf("%s/%02d", date, hour)

		bucket, ok := buckets[key]
		if !ok {
			bucket = &domain.MetricBucket{Date: date, Hour: hour}
			buckets[key] = bucket
		}
		bucket.ObserveSubmission(s)

		if s.UpdatedAt.After(newWatermark) {
			newWatermark = s.UpdatedAt
		}
	}

	for _, bucket := range buckets {
		if err := w.metrics.Upsert(ctx, *bucket); err != nil {
			return fmt.Errorf("failed to upsert bucket %s/%d: %w", bucket.Date, bucket.Hour, err)
		}
	}

	w.mu.Lock()
	w.watermark = newWatermark
	w.mu.Unlock()

	w.logger.Debug("rolled up terminal submissions",
		zap.Int("count", len(submissions)),
		zap.Int("buckets", len(buckets)),
		zap.Time("watermark", newWatermark),
	)
	return nil
}
