package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/faxops/blast-engine/internal/domain"
	"github.com/faxops/blast-engine/internal/service"
	"github.com/faxops/blast-engine/internal/transport"
)

func newBatchTestApp(t *testing.T, dispatcher BatchDispatcher, reader BatchReader) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterBatchRoutes(app, dispatcher, reader); err != nil {
		t.Fatalf("RegisterBatchRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestBatchHandler_StartBatch(t *testing.T) {
	t.Parallel()

	dispatcher := &stubDispatcher{
		startFn: func(ctx context.Context, spec service.DispatchSpec) (string, error) {
			if spec.Count != 250 {
				t.Fatalf("count = %d, want 250", spec.Count)
			}
			if spec.Priority != domain.PriorityHigh {
				t.Fatalf("priority = %s, want HIGH", spec.Priority)
			}
			return "batch-42", nil
		},
	}
	app := newBatchTestApp(t, dispatcher, &stubReader{})

	body := `{"name":"notice","filePath":"/tmp/notice.pdf","destination":"+12025550100","count":250,"priority":"high"}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/batches", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(respBody))
	}

	var accepted map[string]any
	if err := json.Unmarshal(respBody, &accepted); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if accepted["batchId"] != "batch-42" {
		t.Fatalf("batchId = %v, want batch-42", accepted["batchId"])
	}
}

func TestBatchHandler_StartBatchValidationError(t *testing.T) {
	t.Parallel()

	dispatcher := &stubDispatcher{
		startFn: func(ctx context.Context, spec service.DispatchSpec) (string, error) {
			return "", fmt.Errorf("%w: count must be between 1 and 100000", domain.ErrValidation)
		},
	}
	app := newBatchTestApp(t, dispatcher, &stubReader{})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/batches", `{"count":0}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches", `not json`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestBatchHandler_DispatchStatus(t *testing.T) {
	t.Parallel()

	dispatcher := &stubDispatcher{}
	app := newBatchTestApp(t, dispatcher, &stubReader{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/dispatch/status", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var idle map[string]any
	if err := json.Unmarshal(body, &idle); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if idle["inProgress"] != false {
		t.Fatalf("inProgress = %v, want false when nothing dispatched", idle["inProgress"])
	}

	dispatcher.snapshot = &service.BatchSnapshot{
		BatchID:        "batch-1",
		TotalCount:     100,
		ProcessedCount: 40,
		InProgress:     true,
		Percent:        40,
	}
	resp, body = performRequest(t, app, http.MethodGet, "/v1/dispatch/status", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var live service.BatchSnapshot
	if err := json.Unmarshal(body, &live); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if live.BatchID != "batch-1" || live.ProcessedCount != 40 || !live.InProgress {
		t.Fatalf("snapshot = %+v, want the live dispatch view", live)
	}
}

func TestBatchHandler_StopDispatch(t *testing.T) {
	t.Parallel()

	stopped := false
	dispatcher := &stubDispatcher{
		stopFn: func(ctx context.Context) error {
			stopped = true
			return nil
		},
	}
	app := newBatchTestApp(t, dispatcher, &stubReader{})

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/dispatch/stop", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !stopped {
		t.Fatal("expected Stop to be called")
	}
}

func TestBatchHandler_GetBatch(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	reader := &stubReader{
		getBatchFn: func(ctx context.Context, batchID string) (*service.BatchDetail, error) {
			if batchID != "batch-1" {
				return nil, domain.ErrNotFound
			}
			return &service.BatchDetail{
				Batch: domain.Batch{
					ID:         "batch-1",
					Name:       "notice",
					TotalCount: 2,
					Status:     domain.BatchStatusCompleted,
					CreatedAt:  now,
				},
				Submissions: []domain.Submission{
					{ID: "s1", Handle: "job-1", Status: domain.StatusSent, QueuedAt: now},
					{ID: "s2", Handle: "job-2", Status: domain.StatusFailed, QueuedAt: now},
				},
				StatusCounts: map[string]int{"SENT": 1, "FAILED": 1},
			}, nil
		},
	}
	app := newBatchTestApp(t, &stubDispatcher{}, reader)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/batch-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}

	var detail batchDetailResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if detail.Batch.ID != "batch-1" || len(detail.Submissions) != 2 {
		t.Fatalf("detail = %+v, want batch-1 with 2 submissions", detail)
	}
	if detail.StatusCounts["SENT"] != 1 {
		t.Fatalf("SENT count = %d, want 1", detail.StatusCounts["SENT"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/unknown", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown batch", resp.StatusCode)
	}
}

func TestBatchHandler_ListBatches(t *testing.T) {
	t.Parallel()

	reader := &stubReader{
		recentFn: func(ctx context.Context, limit int) ([]domain.Batch, error) {
			if limit != 5 {
				t.Fatalf("limit = %d, want 5", limit)
			}
			return []domain.Batch{{ID: "batch-2"}, {ID: "batch-1"}}, nil
		},
	}
	app := newBatchTestApp(t, &stubDispatcher{}, reader)

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches?limit=5", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var list struct {
		Data []batchResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "batch-2" {
		t.Fatalf("data = %+v, want two batches newest first", list.Data)
	}
}

func TestBatchHandler_HourlyMetricsValidation(t *testing.T) {
	t.Parallel()

	reader := &stubReader{
		metricsFn: func(ctx context.Context, fromDate, toDate string) ([]domain.MetricBucket, error) {
			if fromDate == "" {
				return nil, fmt.Errorf("%w: fromDate and toDate are required", domain.ErrValidation)
			}
			return []domain.MetricBucket{{Date: fromDate, Hour: 9}}, nil
		},
	}
	app := newBatchTestApp(t, &stubDispatcher{}, reader)

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/metrics/hourly", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 without a range", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/metrics/hourly?from=2026-03-01&to=2026-03-10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

type stubDispatcher struct {
	startFn  func(ctx context.Context, spec service.DispatchSpec) (string, error)
	stopFn   func(ctx context.Context) error
	snapshot *service.BatchSnapshot
}

func (s *stubDispatcher) StartBatch(ctx context.Context, spec service.DispatchSpec) (string, error) {
	if s.startFn != nil {
		return s.startFn(ctx, spec)
	}
	return "", errors.New("not configured")
}

func (s *stubDispatcher) Stop(ctx context.Context) error {
	if s.stopFn != nil {
		return s.stopFn(ctx)
	}
	return nil
}

func (s *stubDispatcher) Snapshot() *service.BatchSnapshot { return s.snapshot }

type stubReader struct {
	getBatchFn func(ctx context.Context, batchID string) (*service.BatchDetail, error)
	subsFn     func(ctx context.Context, batchID string) ([]domain.Submission, error)
	recentFn   func(ctx context.Context, limit int) ([]domain.Batch, error)
	metricsFn  func(ctx context.Context, fromDate, toDate string) ([]domain.MetricBucket, error)
}

func (s *stubReader) GetBatch(ctx context.Context, batchID string) (*service.BatchDetail, error) {
	if s.getBatchFn != nil {
		return s.getBatchFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubReader) GetBatchSubmissions(ctx context.Context, batchID string) ([]domain.Submission, error) {
	if s.subsFn != nil {
		return s.subsFn(ctx, batchID)
	}
	return nil, domain.ErrNotFound
}

func (s *stubReader) GetRecentBatches(ctx context.Context, limit int) ([]domain.Batch, error) {
	if s.recentFn != nil {
		return s.recentFn(ctx, limit)
	}
	return nil, nil
}

func (s *stubReader) GetMetrics(ctx context.Context, fromDate, toDate string) ([]domain.MetricBucket, error) {
	if s.metricsFn != nil {
		return s.metricsFn(ctx, fromDate, toDate)
	}
	return nil, nil
}
