package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faxops/blast-engine/internal/backend"
	"github.com/faxops/blast-engine/internal/domain"
	"github.com/faxops/blast-engine/internal/events"
	"github.com/faxops/blast-engine/internal/repository"
)

func writeSourceFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blast.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0o600); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}
	return path
}

func newTestDispatcher(t *testing.T, client backend.Client, subs *fakeSubmissionRepo, batches *fakeBatchRepo, sink events.Sink, opts DispatcherOptions) *Dispatcher {
	t.Helper()

	d, err := NewDispatcher(client, batches, subs, &fakeActivityRepo{}, &fakeLimiter{}, sink, opts, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	// Tests never wait out real poll intervals.
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func TestDispatcherChunksAndCompletes(t *testing.T) {
	t.Parallel()

	client := newFakeBackend()
	subs := newFakeSubmissionRepo()
	batches := &fakeBatchRepo{}
	sink := newRecordingSink()

	d := newTestDispatcher(t, client, subs, batches, sink, DispatcherOptions{
		MaxConcurrent:   8,
		MaxPollAttempts: 3,
	})

	batchID, err := d.StartBatch(context.Background(), DispatchSpec{
		Name:        "regional blast",
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       250,
		ChunkSize:   100,
	})
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	d.Wait()

	if got := client.uploads.Load(); got != 1 {
		t.Fatalf("uploads = %d, want exactly 1", got)
	}
	if got := subs.count(); got != 250 {
		t.Fatalf("submissions created = %d, want 250", got)
	}

	chunkStarts := sink.byType(events.TypeChunkStarted)
	wantSizes := []int{100, 100, 50}
	if len(chunkStarts) != len(wantSizes) {
		t.Fatalf("chunkStarted events = %d, want %d", len(chunkStarts), len(wantSizes))
	}
	for i, e := range chunkStarts {
		if e.ChunkSize != wantSizes[i] {
			t.Fatalf("chunk %d size = %d, want %d", i, e.ChunkSize, wantSizes[i])
		}
		if e.TotalChunks != 3 {
			t.Fatalf("chunk %d totalChunks = %d, want 3", i, e.TotalChunks)
		}
	}

	completed := sink.byType(events.TypeBatchCompleted)
	if len(completed) != 1 {
		t.Fatalf("batchCompleted events = %d, want 1", len(completed))
	}
	if completed[0].BatchID != batchID {
		t.Fatalf("batchCompleted batch = %s, want %s", completed[0].BatchID, batchID)
	}
	if completed[0].SuccessCount != 250 || completed[0].FailedCount != 0 {
		t.Fatalf("final counts = %d/%d, want 250/0",
			completed[0].SuccessCount, completed[0].FailedCount)
	}

	status, succeeded, failed, ok := batches.finalized()
	if !ok {
		t.Fatal("expected batch to be finalized")
	}
	if status != domain.BatchStatusCompleted || succeeded != 250 || failed != 0 {
		t.Fatalf("finalize = %s %d/%d, want COMPLETED 250/0", status, succeeded, failed)
	}
}

func TestDispatcherCreationFailureIsIsolated(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	client := newFakeBackend()
	client.createJobFn = func(ctx context.Context, spec backend.JobSpec) (string, error) {
		n := calls.Add(1)
		if n == 3 {
			return "", errors.New("backend rejected the job")
		}
		return fmt.Sprintf("job-%d", n), nil
	}

	subs := newFakeSubmissionRepo()
	sink := newRecordingSink()
	d := newTestDispatcher(t, client, subs, &fakeBatchRepo{}, sink, DispatcherOptions{
		MaxConcurrent:   1,
		MaxPollAttempts: 2,
	})

	if _, err := d.StartBatch(context.Background(), DispatchSpec{
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       5,
	}); err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	d.Wait()

	if got := subs.count(); got != 5 {
		t.Fatalf("submissions created = %d, want one row per unit", got)
	}

	var failedRows []*domain.Submission
	for _, s := range subs.all() {
		if s.Status == domain.StatusFailed && s.ErrorMessage != nil {
			failedRows = append(failedRows, s)
		}
	}
	if len(failedRows) != 1 {
		t.Fatalf("failed submissions = %d, want 1", len(failedRows))
	}
	if !strings.HasPrefix(failedRows[0].Handle, "failed-") {
		t.Fatalf("failed row handle = %q, want a synthetic handle", failedRows[0].Handle)
	}
	if !strings.Contains(*failedRows[0].ErrorMessage, "backend rejected the job") {
		t.Fatalf("error message = %q, want the creation error", *failedRows[0].ErrorMessage)
	}

	if got := len(sink.byType(events.TypeFaxFailed)); got != 1 {
		t.Fatalf("faxFailed events = %d, want 1", got)
	}
	if got := len(sink.byType(events.TypeBatchCompleted)); got != 1 {
		t.Fatal("batch should complete despite the unit failure")
	}
}

func TestDispatcherCompletesWhenMonitorsTimeOut(t *testing.T) {
	t.Parallel()

	client := newFakeBackend()
	client.documentsFn = func(ctx context.Context, jobID string) ([]backend.Document, error) {
		return []backend.Document{
			{DocumentID: "doc-" + jobID, Condition: domain.ConditionProcessing, PageCount: 1},
		}, nil
	}

	subs := newFakeSubmissionRepo()
	batches := &fakeBatchRepo{}
	sink := newRecordingSink()
	d := newTestDispatcher(t, client, subs, batches, sink, DispatcherOptions{
		MaxConcurrent:   2,
		MaxPollAttempts: 3,
	})

	if _, err := d.StartBatch(context.Background(), DispatchSpec{
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       5,
	}); err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	d.Wait()

	if got := subs.count(); got != 5 {
		t.Fatalf("submissions created = %d, want 5", got)
	}
	for _, s := range subs.all() {
		if s.Status != domain.StatusTimeout {
			t.Fatalf("submission %s status = %s, want TIMEOUT", s.Handle, s.Status)
		}
	}

	completed := sink.byType(events.TypeFaxCompleted)
	if len(completed) != 5 {
		t.Fatalf("faxCompleted events = %d, want one per timed-out unit", len(completed))
	}
	for _, e := range completed {
		if e.Status != domain.StatusTimeout.String() {
			t.Fatalf("faxCompleted status = %s, want TIMEOUT", e.Status)
		}
	}

	status, succeeded, failed, ok := batches.finalized()
	if !ok {
		t.Fatal("batch was never finalized")
	}
	if status != domain.BatchStatusCompleted || succeeded != 0 || failed != 5 {
		t.Fatalf("finalize = %s %d/%d, want COMPLETED 0/5", status, succeeded, failed)
	}
}

func TestDispatcherHonorsConcurrencyBound(t *testing.T) {
	t.Parallel()

	const bound = 3

	var inFlight, peak atomic.Int64
	client := newFakeBackend()
	client.createJobFn = func(ctx context.Context, spec backend.JobSpec) (string, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return fmt.Sprintf("job-%d", current), nil
	}

	d := newTestDispatcher(t, client, newFakeSubmissionRepo(), &fakeBatchRepo{}, events.NopSink{}, DispatcherOptions{
		MaxConcurrent:   bound,
		MaxPollAttempts: 1,
	})

	if _, err := d.StartBatch(context.Background(), DispatchSpec{
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       40,
		ChunkSize:   10,
	}); err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	d.Wait()

	if got := peak.Load(); got > bound {
		t.Fatalf("peak concurrent creations = %d, want at most %d", got, bound)
	}
}

func TestDispatcherRejectsInvalidSpecs(t *testing.T) {
	t.Parallel()

	sourceFile := writeSourceFile(t)

	tests := []struct {
		name string
		spec DispatchSpec
	}{
		{
			name: "zero count",
			spec: DispatchSpec{FilePath: sourceFile, Destination: "+12025550100", Count: 0},
		},
		{
			name: "count above ceiling",
			spec: DispatchSpec{FilePath: sourceFile, Destination: "+12025550100", Count: domain.MaxBatchCount + 1},
		},
		{
			name: "missing file",
			spec: DispatchSpec{FilePath: "/nonexistent/blast.pdf", Destination: "+12025550100", Count: 1},
		},
		{
			name: "missing destination",
			spec: DispatchSpec{FilePath: sourceFile, Count: 1},
		},
		{
			name: "bad priority",
			spec: DispatchSpec{FilePath: sourceFile, Destination: "+12025550100", Count: 1, Priority: "WHENEVER"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := newTestDispatcher(t, newFakeBackend(), newFakeSubmissionRepo(), &fakeBatchRepo{}, events.NopSink{}, DispatcherOptions{})
			_, err := d.StartBatch(context.Background(), tt.spec)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("StartBatch() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestDispatcherRefusesSecondBatchWhileRunning(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	client := newFakeBackend()
	client.uploadFn = func(ctx context.Context, filePath string) (string, error) {
		<-release
		return "attachment-1", nil
	}

	d := newTestDispatcher(t, client, newFakeSubmissionRepo(), &fakeBatchRepo{}, events.NopSink{}, DispatcherOptions{
		MaxPollAttempts: 1,
	})

	spec := DispatchSpec{
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       2,
	}
	if _, err := d.StartBatch(context.Background(), spec); err != nil {
		t.Fatalf("first StartBatch() error = %v", err)
	}

	_, err := d.StartBatch(context.Background(), spec)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("second StartBatch() error = %v, want ErrValidation", err)
	}

	close(release)
	d.Wait()
}

func TestDispatcherStopFailsUnfinishedBatch(t *testing.T) {
	t.Parallel()

	client := newFakeBackend()
	firstJobCreated := make(chan struct{})
	var once sync.Once
	client.createJobFn = func(ctx context.Context, spec backend.JobSpec) (string, error) {
		once.Do(func() { close(firstJobCreated) })
		time.Sleep(time.Millisecond)
		return "job-x", nil
	}

	subs := newFakeSubmissionRepo()
	sink := newRecordingSink()
	d := newTestDispatcher(t, client, subs, &fakeBatchRepo{}, sink, DispatcherOptions{
		MaxConcurrent:   1,
		MaxPollAttempts: 1,
	})

	if _, err := d.StartBatch(context.Background(), DispatchSpec{
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       domain.MaxBatchCount,
	}); err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}

	<-firstJobCreated
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	d.Wait()

	if got := subs.count(); got >= domain.MaxBatchCount {
		t.Fatalf("submissions created = %d, want far fewer than requested", got)
	}
	if got := len(sink.byType(events.TypeBatchFailed)); got != 1 {
		t.Fatalf("batchFailed events = %d, want 1", got)
	}
	if got := len(sink.byType(events.TypeBatchCompleted)); got != 0 {
		t.Fatalf("batchCompleted events = %d, want 0 after stop", got)
	}

	if _, err := d.StartBatch(context.Background(), DispatchSpec{
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       1,
	}); err == nil {
		t.Fatal("expected StartBatch to fail on a stopped dispatcher")
	}
}

func TestDispatcherSnapshotTracksProgress(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, newFakeBackend(), newFakeSubmissionRepo(), &fakeBatchRepo{}, events.NopSink{}, DispatcherOptions{
		MaxPollAttempts: 1,
	})

	if snap := d.Snapshot(); snap != nil {
		t.Fatalf("Snapshot() before any dispatch = %+v, want nil", snap)
	}

	batchID, err := d.StartBatch(context.Background(), DispatchSpec{
		Name:        "progress check",
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       10,
	})
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	d.Wait()

	snap := d.Snapshot()
	if snap == nil {
		t.Fatal("Snapshot() after dispatch = nil")
	}
	if snap.BatchID != batchID {
		t.Fatalf("snapshot batch = %s, want %s", snap.BatchID, batchID)
	}
	if snap.ProcessedCount != 10 || snap.FailedCount != 0 {
		t.Fatalf("snapshot counts = %d/%d, want 10/0", snap.ProcessedCount, snap.FailedCount)
	}
	if snap.InProgress {
		t.Fatal("snapshot should not be in progress after Wait")
	}
	if snap.Percent != 100 {
		t.Fatalf("snapshot percent = %v, want 100", snap.Percent)
	}
}

func TestDispatcherFailedStartLeavesSnapshotUntouched(t *testing.T) {
	t.Parallel()

	client := newFakeBackend()
	batches := &fakeBatchRepo{}
	d := newTestDispatcher(t, client, newFakeSubmissionRepo(), batches, events.NopSink{}, DispatcherOptions{
		MaxPollAttempts: 1,
	})

	spec := DispatchSpec{
		FilePath:    writeSourceFile(t),
		Destination: "+12025550100",
		Count:       2,
	}

	client.ensureSessionFn = func(ctx context.Context) error {
		return errors.New("session expired")
	}
	if _, err := d.StartBatch(context.Background(), spec); err == nil {
		t.Fatal("expected StartBatch to fail on a session error")
	}
	if snap := d.Snapshot(); snap != nil {
		t.Fatalf("Snapshot() after failed start = %+v, want nil", snap)
	}

	client.ensureSessionFn = nil
	batchID, err := d.StartBatch(context.Background(), spec)
	if err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	d.Wait()

	batches.markStartedFn = func(ctx context.Context, id string, at time.Time) error {
		return errors.New("database unavailable")
	}
	if _, err := d.StartBatch(context.Background(), spec); err == nil {
		t.Fatal("expected StartBatch to fail when marking the batch started fails")
	}

	snap := d.Snapshot()
	if snap == nil || snap.BatchID != batchID {
		t.Fatalf("Snapshot() = %+v, want the completed batch %s", snap, batchID)
	}
	if snap.InProgress {
		t.Fatal("snapshot should not report an in-progress dispatch")
	}
}

// --- fakes shared by the service tests ---

type fakeBackend struct {
	uploads atomic.Int64

	ensureSessionFn func(ctx context.Context) error
	uploadFn        func(ctx context.Context, filePath string) (string, error)
	createJobFn     func(ctx context.Context, spec backend.JobSpec) (string, error)
	jobStatusFn     func(ctx context.Context, jobID string) (*backend.JobStatus, error)
	documentsFn     func(ctx context.Context, jobID string) ([]backend.Document, error)
	activitiesFn    func(ctx context.Context, documentID string) ([]backend.Activity, error)
}

// newFakeBackend succeeds everything: jobs are created and every document
// reports Succeeded on the first poll.
func newFakeBackend() *fakeBackend {
	f := &fakeBackend{}
	var jobSeq atomic.Int64
	f.createJobFn = func(ctx context.Context, spec backend.JobSpec) (string, error) {
		return fmt.Sprintf("job-%d", jobSeq.Add(1)), nil
	}
	f.documentsFn = func(ctx context.Context, jobID string) ([]backend.Document, error) {
		return []backend.Document{
			{DocumentID: "doc-" + jobID, Condition: domain.ConditionSucceeded, PageCount: 2},
		}, nil
	}
	return f
}

func (f *fakeBackend) EnsureSession(ctx context.Context) error {
	if f.ensureSessionFn != nil {
		return f.ensureSessionFn(ctx)
	}
	return nil
}

func (f *fakeBackend) Logout(context.Context) error { return nil }

func (f *fakeBackend) UploadAttachment(ctx context.Context, filePath string) (string, error) {
	f.uploads.Add(1)
	if f.uploadFn != nil {
		return f.uploadFn(ctx, filePath)
	}
	return "attachment-1", nil
}

func (f *fakeBackend) CreateJob(ctx context.Context, spec backend.JobSpec) (string, error) {
	if f.createJobFn != nil {
		return f.createJobFn(ctx, spec)
	}
	return "job-1", nil
}

func (f *fakeBackend) GetJobStatus(ctx context.Context, jobID string) (*backend.JobStatus, error) {
	if f.jobStatusFn != nil {
		return f.jobStatusFn(ctx, jobID)
	}
	return &backend.JobStatus{Status: "OK", Condition: domain.ConditionProcessing}, nil
}

func (f *fakeBackend) GetDocumentsForJob(ctx context.Context, jobID string) ([]backend.Document, error) {
	if f.documentsFn != nil {
		return f.documentsFn(ctx, jobID)
	}
	return nil, nil
}

func (f *fakeBackend) GetActivities(ctx context.Context, documentID string) ([]backend.Activity, error) {
	if f.activitiesFn != nil {
		return f.activitiesFn(ctx, documentID)
	}
	return nil, nil
}

var _ backend.Client = (*fakeBackend)(nil)

type fakeSubmissionRepo struct {
	mu      sync.Mutex
	rows    map[string]*domain.Submission
	updates []repository.SubmissionUpdate
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{rows: make(map[string]*domain.Submission)}
}

func (f *fakeSubmissionRepo) Create(ctx context.Context, s *domain.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[s.Handle]; exists {
		return fmt.Errorf("duplicate handle %s", s.Handle)
	}
	copied := *s
	f.rows[s.Handle] = &copied
	return nil
}

func (f *fakeSubmissionRepo) GetByHandle(ctx context.Context, handle string) (*domain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[handle]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (f *fakeSubmissionRepo) GetByBatch(ctx context.Context, batchID string) ([]domain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Submission
	for _, row := range f.rows {
		if row.BatchID == batchID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) UpdateByHandle(ctx context.Context, handle string, update repository.SubmissionUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	row, ok := f.rows[handle]
	if !ok {
		return domain.ErrNotFound
	}
	if row.Status.IsTerminal() {
		return domain.ErrTerminalState
	}
	f.updates = append(f.updates, update)

	if update.Status != nil {
		row.Status = *update.Status
	}
	if update.Condition != nil {
		row.Condition = *update.Condition
	}
	if update.PageCount != nil {
		row.PageCount = *update.PageCount
	}
	if update.ConversionEndedAt != nil {
		row.ConversionEndedAt = update.ConversionEndedAt
	}
	if update.TransmissionStartedAt != nil {
		row.TransmissionStartedAt = update.TransmissionStartedAt
	}
	if update.TransmissionEndedAt != nil {
		row.TransmissionEndedAt = update.TransmissionEndedAt
	}
	if update.ConversionMs != nil {
		row.ConversionMs = *update.ConversionMs
	}
	if update.TransmissionMs != nil {
		row.TransmissionMs = *update.TransmissionMs
	}
	if update.TotalMs != nil {
		row.TotalMs = *update.TotalMs
	}
	if update.ErrorMessage != nil {
		row.ErrorMessage = update.ErrorMessage
	}
	row.UpdatedAt = time.Now().UTC()
	return nil
}

func (f *fakeSubmissionRepo) GetTerminalSince(ctx context.Context, since time.Time, limit int) ([]domain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Submission
	for _, row := range f.rows {
		if row.Status.IsTerminal() && row.UpdatedAt.After(since) {
			out = append(out, *row)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeSubmissionRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeSubmissionRepo) all() []*domain.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Submission, 0, len(f.rows))
	for _, row := range f.rows {
		copied := *row
		out = append(out, &copied)
	}
	return out
}

var _ repository.SubmissionRepository = (*fakeSubmissionRepo)(nil)

type fakeBatchRepo struct {
	mu            sync.Mutex
	created       []*domain.Batch
	finalStatus   domain.BatchStatus
	finalDone     bool
	finalSucceed  int
	finalFailed   int
	getByIDFn     func(ctx context.Context, id string) (*domain.Batch, error)
	getRecentFn   func(ctx context.Context, limit int) ([]domain.Batch, error)
	markStartedFn func(ctx context.Context, id string, at time.Time) error
}

func (f *fakeBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *b
	f.created = append(f.created, &copied)
	return nil
}

func (f *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.created {
		if b.ID == id {
			copied := *b
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeBatchRepo) GetRecent(ctx context.Context, limit int) ([]domain.Batch, error) {
	if f.getRecentFn != nil {
		return f.getRecentFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeBatchRepo) MarkStarted(ctx context.Context, id string, at time.Time) error {
	if f.markStartedFn != nil {
		return f.markStartedFn(ctx, id, at)
	}
	return nil
}

func (f *fakeBatchRepo) Finalize(ctx context.Context, id string, status domain.BatchStatus, completed, failed int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalDone = true
	f.finalStatus = status
	f.finalSucceed = completed
	f.finalFailed = failed
	return nil
}

func (f *fakeBatchRepo) finalized() (domain.BatchStatus, int, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalStatus, f.finalSucceed, f.finalFailed, f.finalDone
}

var _ repository.BatchRepository = (*fakeBatchRepo)(nil)

type fakeActivityRepo struct {
	mu   sync.Mutex
	rows []*domain.Activity
}

func (f *fakeActivityRepo) CreateBatch(ctx context.Context, activities []*domain.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, activities...)
	return nil
}

func (f *fakeActivityRepo) GetBySubmissionID(ctx context.Context, submissionID string) ([]domain.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Activity
	for _, a := range f.rows {
		if a.SubmissionID == submissionID {
			out = append(out, *a)
		}
	}
	return out, nil
}

var _ repository.ActivityRepository = (*fakeActivityRepo)(nil)

type fakeLimiter struct {
	waitFn func(ctx context.Context, operation string) error
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, operation string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, operation)
	}
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func newRecordingSink() *recordingSink { return &recordingSink{} }

func (s *recordingSink) Emit(_ context.Context, e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) byType(eventType events.Type) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
