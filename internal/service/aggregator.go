package service

import (
	"context"
	"fmt"

	"github.com/faxops/blast-engine/internal/domain"
	"github.com/faxops/blast-engine/internal/repository"
	"go.uber.org/zap"
)

// BatchSnapshot is the live progress view of a dispatch. ProcessedCount and
// FailedCount track creation outcomes only; monitor outcomes land on the
// persisted batch when it finalizes.
type BatchSnapshot struct {
	BatchID        string  `json:"batchId"`
	Name           string  `json:"name"`
	TotalCount     int     `json:"totalCount"`
	ProcessedCount int     `json:"processedCount"`
	FailedCount    int     `json:"failedCount"`
	InProgress     bool    `json:"inProgress"`
	Percent        float64 `json:"percent"`
}

// BatchDetail is a persisted batch together with its submissions and a
// status breakdown.
type BatchDetail struct {
	Batch        domain.Batch        `json:"batch"`
	Submissions  []domain.Submission `json:"submissions"`
	StatusCounts map[string]int      `json:"statusCounts"`
}

// Aggregator answers read-side questions about dispatches: live progress
// from the running dispatcher, historical state from the repositories.
type Aggregator struct {
	dispatcher  *Dispatcher
	batches     repository.BatchRepository
	submissions repository.SubmissionRepository
	metrics     repository.MetricRepository
	logger      *zap.Logger
}

func NewAggregator(
	dispatcher *Dispatcher,
	batches repository.BatchRepository,
	submissions repository.SubmissionRepository,
	metrics repository.MetricRepository,
	logger *zap.Logger,
) (*Aggregator, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if batches == nil || submissions == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		dispatcher:  dispatcher,
		batches:     batches,
		submissions: submissions,
		metrics:     metrics,
		logger:      logger,
	}, nil
}

// LiveSnapshot returns the running dispatch view, or nil when the engine has
// not dispatched anything yet.
func (a *Aggregator) LiveSnapshot() *BatchSnapshot {
	return a.dispatcher.Snapshot()
}

// GetBatch loads a batch with its submissions and folds a per-status count.
func (a *Aggregator) GetBatch(ctx context.Context, batchID string) (*BatchDetail, error) {
	batch, err := a.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	submissions, err := a.submissions.GetByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load submissions for batch %s: %w", batchID, err)
	}

	counts := make(map[string]int, len(submissions))
	for _, s := range submissions {
		counts[s.Status.String()]++
	}

	return &BatchDetail{
		Batch:        *batch,
		Submissions:  submissions,
		StatusCounts: counts,
	}, nil
}

// GetBatchSubmissions returns the submissions of a batch, existence checked.
func (a *Aggregator) GetBatchSubmissions(ctx context.Context, batchID string) ([]domain.Submission, error) {
	if _, err := a.batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	return a.submissions.GetByBatch(ctx, batchID)
}

// GetRecentBatches lists batches newest first.
func (a *Aggregator) GetRecentBatches(ctx context.Context, limit int) ([]domain.Batch, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return a.batches.GetRecent(ctx, limit)
}

// GetMetrics returns hourly rollup buckets for the inclusive date range.
// Dates use the bucket key format, 2006-01-02 in UTC.
func (a *Aggregator) GetMetrics(ctx context.Context, fromDate, toDate string) ([]domain.MetricBucket, error) {
	if a.metrics == nil {
		return nil, fmt.Errorf("metric storage is not configured")
	}
	if fromDate == "" || toDate == "" {
		return nil, fmt.Errorf("%w: fromDate and toDate are required", domain.ErrValidation)
	}
	return a.metrics.GetRange(ctx, fromDate, toDate)
}
