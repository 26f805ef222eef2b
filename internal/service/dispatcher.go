package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/faxops/blast-engine/internal/backend"
	"github.com/faxops/blast-engine/internal/domain"
	"github.com/faxops/blast-engine/internal/events"
	"github.com/faxops/blast-engine/internal/gate"
	"github.com/faxops/blast-engine/internal/observability"
	"github.com/faxops/blast-engine/internal/ratelimit"
	"github.com/faxops/blast-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultChunkSize       = 100
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollAttempts = 120
)

// DispatchSpec describes one batch dispatch request.
type DispatchSpec struct {
	Name         string
	Owner        string
	FilePath     string
	Destination  string
	Recipient    string
	Count        int
	Priority     domain.Priority
	BillingCode1 string
	BillingCode2 string
	ChunkSize    int
}

func (s *DispatchSpec) normalize() error {
	s.Name = strings.TrimSpace(s.Name)
	s.FilePath = strings.TrimSpace(s.FilePath)
	s.Destination = strings.TrimSpace(s.Destination)
	s.Recipient = strings.TrimSpace(s.Recipient)

	if s.Name == "" {
		s.Name = fmt.Sprintf("batch %s", time.Now().UTC().Format("2006-01-02 15:04:05"))
	}
	if s.Count < domain.MinBatchCount || s.Count > domain.MaxBatchCount {
		return fmt.Errorf("%w: count must be between %d and %d (got %d)",
			domain.ErrValidation, domain.MinBatchCount, domain.MaxBatchCount, s.Count)
	}
	if s.FilePath == "" {
		return fmt.Errorf("%w: file path is required", domain.ErrValidation)
	}
	if info, err := os.Stat(s.FilePath); err != nil || info.IsDir() {
		return fmt.Errorf("%w: file %q is not readable", domain.ErrValidation, s.FilePath)
	}
	if s.Destination == "" {
		return fmt.Errorf("%w: destination is required", domain.ErrValidation)
	}
	if s.Priority == "" {
		s.Priority = domain.PriorityNormal
	}
	if !s.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", domain.ErrValidation, s.Priority)
	}
	if s.ChunkSize <= 0 {
		s.ChunkSize = DefaultChunkSize
	}
	return nil
}

// batchTracker owns the live counters of the batch being dispatched. All
// writers go through atomic increments; no counter is mutated from more than
// one code path per event kind.
type batchTracker struct {
	batchID    string
	name       string
	total      int
	startedAt  time.Time
	inProgress atomic.Bool

	processed      atomic.Int64 // creation successes
	creationFailed atomic.Int64 // creation failures
	succeeded      atomic.Int64 // monitors: terminal SENT
	terminalFailed atomic.Int64 // monitors: terminal FAILED/CANCELLED/TIMEOUT

	monitors sync.WaitGroup
}

// snapshot is safe to call from any goroutine while dispatch runs.
func (t *batchTracker) snapshot() BatchSnapshot {
	processed := int(t.processed.Load())
	failed := int(t.creationFailed.Load())

	percent := 0.0
	if t.total > 0 {
		percent = float64(processed+failed) / float64(t.total) * 100
	}

	return BatchSnapshot{
		BatchID:        t.batchID,
		Name:           t.name,
		TotalCount:     t.total,
		ProcessedCount: processed,
		FailedCount:    failed,
		InProgress:     t.inProgress.Load(),
		Percent:        percent,
	}
}

// Dispatcher runs batch dispatches: it uploads the shared attachment once,
// partitions the requested count into chunks, creates jobs through the
// concurrency gate, and spawns a monitor for every created job. One dispatch
// runs at a time per engine instance.
type Dispatcher struct {
	backend     backend.Client
	batches     repository.BatchRepository
	submissions repository.SubmissionRepository
	activities  repository.ActivityRepository
	limiter     ratelimit.RateLimiter
	sink        events.Sink
	gate        *gate.Gate
	logger      *zap.Logger
	metrics     *observability.Metrics

	pollInterval    time.Duration
	maxPollAttempts int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	current *batchTracker

	stopped  atomic.Bool
	dispatch sync.WaitGroup // outstanding runDispatch goroutines
}

type DispatcherOptions struct {
	MaxConcurrent   int
	PollInterval    time.Duration
	MaxPollAttempts int
}

func NewDispatcher(
	backendClient backend.Client,
	batches repository.BatchRepository,
	submissions repository.SubmissionRepository,
	activities repository.ActivityRepository,
	limiter ratelimit.RateLimiter,
	sink events.Sink,
	opts DispatcherOptions,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if backendClient == nil {
		return nil, fmt.Errorf("backend client is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
	}
	if activities == nil {
		return nil, fmt.Errorf("activity repository is required")
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = gate.DefaultCapacity
	}
	g, err := gate.New(maxConcurrent)
	if err != nil {
		return nil, err
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	maxPollAttempts := opts.MaxPollAttempts
	if maxPollAttempts <= 0 {
		maxPollAttempts = DefaultMaxPollAttempts
	}

	return &Dispatcher{
		backend:         backendClient,
		batches:         batches,
		submissions:     submissions,
		activities:      activities,
		limiter:         limiter,
		sink:            sink,
		gate:            g,
		logger:          logger,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		now:             time.Now,
		sleep:           sleepWithContext,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// StartBatch validates the request, creates the batch row, and launches the
// dispatch pipeline in the background. It returns as soon as the batch exists
// and is marked processing; progress is observable through Snapshot and the
// event sink.
func (d *Dispatcher) StartBatch(ctx context.Context, spec DispatchSpec) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.stopped.Load() {
		return "", fmt.Errorf("dispatcher is stopped")
	}
	if err := spec.normalize(); err != nil {
		return "", err
	}

	d.mu.Lock()
	if d.current != nil && d.current.inProgress.Load() {
		d.mu.Unlock()
		return "", fmt.Errorf("%w: a batch dispatch is already in progress", domain.ErrValidation)
	}
	previous := d.current
	tracker := &batchTracker{
		name:  spec.Name,
		total: spec.Count,
	}
	tracker.inProgress.Store(true)
	d.current = tracker
	d.mu.Unlock()

	// A failure before the pipeline launches must not leave a half-registered
	// tracker as the visible snapshot.
	abort := func() {
		tracker.inProgress.Store(false)
		d.mu.Lock()
		if d.current == tracker {
			d.current = previous
		}
		d.mu.Unlock()
	}

	if err := d.backend.EnsureSession(ctx); err != nil {
		abort()
		return "", fmt.Errorf("backend session check failed: %w", err)
	}

	batch := &domain.Batch{
		ID:          uuid.NewString(),
		Name:        spec.Name,
		Owner:       spec.Owner,
		TotalCount:  spec.Count,
		Status:      domain.BatchStatusPending,
		SourceFile:  spec.FilePath,
		Destination: spec.Destination,
	}
	if err := batch.Validate(); err != nil {
		abort()
		return "", err
	}
	if err := d.batches.Create(ctx, batch); err != nil {
		abort()
		return "", fmt.Errorf("failed to create batch: %w", err)
	}

	startedAt := d.now().UTC()
	if err := d.batches.MarkStarted(ctx, batch.ID, startedAt); err != nil {
		abort()
		return "", fmt.Errorf("failed to mark batch started: %w", err)
	}

	tracker.batchID = batch.ID
	tracker.startedAt = startedAt
	d.sink.Emit(ctx, events.BatchStarted(batch.ID, spec.Count))

	// Monitors and the pipeline outlive the request context.
	pipelineCtx := observability.WithBatchID(context.WithoutCancel(ctx), batch.ID)

	d.dispatch.Add(1)
	go d.runDispatch(pipelineCtx, spec, tracker)

	return batch.ID, nil
}

func (d *Dispatcher) runDispatch(ctx context.Context, spec DispatchSpec, tracker *batchTracker) {
	defer d.dispatch.Done()
	defer tracker.inProgress.Store(false)

	logger := observability.WithContextLogger(d.logger, ctx)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("dispatch pipeline panic: %v", r)
			logger.Error("dispatch pipeline failed", zap.Error(err))
			d.failBatch(ctx, tracker, err)
		}
	}()

	d.sink.Emit(ctx, events.UploadingFile(tracker.batchID))
	attachmentRef, err := d.uploadAttachment(ctx, spec.FilePath)
	if err != nil {
		logger.Error("attachment upload failed", zap.Error(err))
		d.failBatch(ctx, tracker, err)
		return
	}
	d.sink.Emit(ctx, events.FileUploaded(tracker.batchID))

	totalChunks := (spec.Count + spec.ChunkSize - 1) / spec.ChunkSize

	unit := 0
	for chunkIndex := 0; chunkIndex < totalChunks && !d.stopped.Load(); chunkIndex++ {
		chunkSize := spec.ChunkSize
		if remaining := spec.Count - chunkIndex*spec.ChunkSize; remaining < chunkSize {
			chunkSize = remaining
		}

		d.sink.Emit(ctx, events.ChunkStarted(tracker.batchID, chunkIndex, totalChunks, chunkSize))
		logger.Info("chunk started",
			zap.Int("chunkIndex", chunkIndex),
			zap.Int("totalChunks", totalChunks),
			zap.Int("chunkSize", chunkSize),
		)

		var chunkWG sync.WaitGroup
		for i := 0; i < chunkSize; i++ {
			if d.stopped.Load() {
				break
			}

			unit++
			submissionNumber := unit

			if err := d.gate.Acquire(ctx); err != nil {
				logger.Warn("gate acquire interrupted", zap.Error(err))
				break
			}

			chunkWG.Add(1)
			go func() {
				defer chunkWG.Done()
				defer d.gate.Release()
				d.createUnit(ctx, spec, tracker, attachmentRef, submissionNumber)
			}()
		}
		chunkWG.Wait()

		d.sink.Emit(ctx, events.ChunkCompleted(tracker.batchID, chunkIndex, totalChunks, chunkSize))
	}

	// Dispatch phase done; drain until every monitor reports its terminal
	// outcome before finalizing the batch.
	tracker.monitors.Wait()

	if d.stopped.Load() && unit < spec.Count {
		d.failBatch(ctx, tracker, fmt.Errorf("dispatch stopped after %d of %d units", unit, spec.Count))
		return
	}

	succeeded := int(tracker.succeeded.Load())
	failed := int(tracker.creationFailed.Load() + tracker.terminalFailed.Load())
	completedAt := d.now().UTC()

	if err := d.batches.Finalize(ctx, tracker.batchID, domain.BatchStatusCompleted, succeeded, failed, completedAt); err != nil {
		logger.Error("failed to finalize batch", zap.Error(err))
	}
	if d.metrics != nil {
		d.metrics.ObserveBatchDuration(completedAt.Sub(tracker.startedAt))
	}

	d.sink.Emit(ctx, events.BatchCompleted(tracker.batchID, succeeded, failed))
	logger.Info("batch completed",
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Int("total", tracker.total),
	)
}

func (d *Dispatcher) uploadAttachment(ctx context.Context, filePath string) (string, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, ratelimit.OpUpload); err != nil {
			return "", fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}
	ref, err := d.backend.UploadAttachment(ctx, filePath)
	if err != nil {
		return "", fmt.Errorf("attachment upload failed: %w", err)
	}
	return ref, nil
}

// createUnit performs the job-creation call for one unit. A failure here is
// isolated: it produces a failed submission row with a synthetic handle and
// never aborts the batch.
func (d *Dispatcher) createUnit(
	ctx context.Context,
	spec DispatchSpec,
	tracker *batchTracker,
	attachmentRef string,
	submissionNumber int,
) {
	logger := observability.WithContextLogger(d.logger, ctx)

	recipient := spec.Recipient
	if recipient == "" {
		recipient = fmt.Sprintf("Recipient %d", submissionNumber)
	}

	if d.metrics != nil {
		d.metrics.IncCreationInFlight()
		defer d.metrics.DecCreationInFlight()
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, ratelimit.OpCreateJob); err != nil {
			d.recordCreationFailure(ctx, spec, tracker, submissionNumber, recipient, err)
			return
		}
	}

	queuedAt := d.now().UTC()
	handle, err := d.backend.CreateJob(ctx, backend.JobSpec{
		Destination:   spec.Destination,
		RecipientName: recipient,
		AttachmentRef: attachmentRef,
		Priority:      spec.Priority.String(),
		BillingCode1:  spec.BillingCode1,
		BillingCode2:  spec.BillingCode2,
	})
	if err != nil {
		d.recordCreationFailure(ctx, spec, tracker, submissionNumber, recipient, err)
		return
	}

	submission := &domain.Submission{
		ID:                  uuid.NewString(),
		BatchID:             tracker.batchID,
		Handle:              handle,
		Destination:         spec.Destination,
		Recipient:           recipient,
		Priority:            spec.Priority,
		Status:              domain.StatusConverting,
		Condition:           domain.ConditionProcessing,
		QueuedAt:            queuedAt,
		ConversionStartedAt: &queuedAt,
		BillingCode1:        spec.BillingCode1,
		BillingCode2:        spec.BillingCode2,
	}
	if err := d.submissions.Create(ctx, submission); err != nil {
		logger.Error("failed to persist submission after job creation",
			zap.String("handle", handle),
			zap.Error(err),
		)
		tracker.creationFailed.Add(1)
		d.sink.Emit(ctx, events.FaxFailed(tracker.batchID, submissionNumber, err))
		if d.metrics != nil {
			d.metrics.IncFaxFailed("persist_error")
		}
		return
	}

	processed := int(tracker.processed.Add(1))
	d.sink.Emit(ctx, events.FaxSubmitted(tracker.batchID, submissionNumber, handle, processed))
	if d.metrics != nil {
		d.metrics.IncFaxSubmitted()
	}

	tracker.monitors.Add(1)
	go func() {
		defer tracker.monitors.Done()
		d.monitorSubmission(ctx, tracker, handle, submission.ID, queuedAt)
	}()
}

func (d *Dispatcher) recordCreationFailure(
	ctx context.Context,
	spec DispatchSpec,
	tracker *batchTracker,
	submissionNumber int,
	recipient string,
	cause error,
) {
	logger := observability.WithContextLogger(d.logger, ctx)
	logger.Warn("job creation failed",
		zap.Int("submissionNumber", submissionNumber),
		zap.Error(cause),
	)

	now := d.now().UTC()
	errMsg := cause.Error()
	submission := &domain.Submission{
		ID:      uuid.NewString(),
		BatchID: tracker.batchID,
		// Synthetic handle keeps the one-row-per-unit invariant when the
		// backend never assigned one.
		Handle:       fmt.Sprintf("failed-%d-%d", now.UnixNano(), submissionNumber),
		Destination:  spec.Destination,
		Recipient:    recipient,
		Priority:     spec.Priority,
		Status:       domain.StatusFailed,
		QueuedAt:     now,
		ErrorMessage: &errMsg,
		BillingCode1: spec.BillingCode1,
		BillingCode2: spec.BillingCode2,
	}
	if err := d.submissions.Create(ctx, submission); err != nil {
		logger.Error("failed to persist failed submission", zap.Error(err))
	}

	tracker.creationFailed.Add(1)
	d.sink.Emit(ctx, events.FaxFailed(tracker.batchID, submissionNumber, cause))
	if d.metrics != nil {
		d.metrics.IncFaxFailed("creation_error")
	}
}

func (d *Dispatcher) failBatch(ctx context.Context, tracker *batchTracker, cause error) {
	succeeded := int(tracker.succeeded.Load())
	failed := int(tracker.creationFailed.Load() + tracker.terminalFailed.Load())

	if err := d.batches.Finalize(ctx, tracker.batchID, domain.BatchStatusFailed, succeeded, failed, d.now().UTC()); err != nil {
		observability.WithContextLogger(d.logger, ctx).
			Error("failed to mark batch failed", zap.Error(err))
	}
	d.sink.Emit(ctx, events.BatchFailed(tracker.batchID, cause))
}

// Stop flips the processing flag and waits for in-flight creation calls to
// finish. Running monitors are left to reach their own terminal state; the
// dispatch goroutine keeps draining them in the background.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	d.stopped.Store(true)
	return d.gate.Drain(ctx)
}

// Wait blocks until every dispatch pipeline, monitors included, has finished.
// Intended for shutdown paths and tests.
func (d *Dispatcher) Wait() {
	d.dispatch.Wait()
}

// Snapshot returns the live view of the current (or most recent) dispatch.
func (d *Dispatcher) Snapshot() *BatchSnapshot {
	d.mu.RLock()
	tracker := d.current
	d.mu.RUnlock()

	if tracker == nil {
		return nil
	}
	snapshot := tracker.snapshot()
	return &snapshot
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
