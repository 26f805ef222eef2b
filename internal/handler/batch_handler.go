package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/faxops/blast-engine/internal/domain"
	"github.com/faxops/blast-engine/internal/service"
)

type BatchDispatcher interface {
	StartBatch(ctx context.Context, spec service.DispatchSpec) (string, error)
	Stop(ctx context.Context) error
	Snapshot() *service.BatchSnapshot
}

type BatchReader interface {
	GetBatch(ctx context.Context, batchID string) (*service.BatchDetail, error)
	GetBatchSubmissions(ctx context.Context, batchID string) ([]domain.Submission, error)
	GetRecentBatches(ctx context.Context, limit int) ([]domain.Batch, error)
	GetMetrics(ctx context.Context, fromDate, toDate string) ([]domain.MetricBucket, error)
}

type BatchHandler struct {
	dispatcher BatchDispatcher
	reader     BatchReader
}

func NewBatchHandler(dispatcher BatchDispatcher, reader BatchReader) (*BatchHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if reader == nil {
		return nil, fmt.Errorf("reader is required")
	}
	return &BatchHandler{dispatcher: dispatcher, reader: reader}, nil
}

func RegisterBatchRoutes(router fiber.Router, dispatcher BatchDispatcher, reader BatchReader) error {
	h, err := NewBatchHandler(dispatcher, reader)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.StartBatch)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:batchId", h.GetBatch)
	v1.Get("/batches/:batchId/submissions", h.ListBatchSubmissions)
	v1.Post("/dispatch/stop", h.StopDispatch)
	v1.Get("/dispatch/status", h.DispatchStatus)
	v1.Get("/metrics/hourly", h.GetHourlyMetrics)

	return nil
}

type startBatchRequest struct {
	Name         string `json:"name"`
	Owner        string `json:"owner"`
	FilePath     string `json:"filePath"`
	Destination  string `json:"destination"`
	Recipient    string `json:"recipient"`
	Count        int    `json:"count"`
	Priority     string `json:"priority"`
	BillingCode1 string `json:"billingCode1"`
	BillingCode2 string `json:"billingCode2"`
	ChunkSize    int    `json:"chunkSize"`
}

type batchResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Owner          string     `json:"owner,omitempty"`
	TotalCount     int        `json:"totalCount"`
	CompletedCount int        `json:"completedCount"`
	FailedCount    int        `json:"failedCount"`
	Status         string     `json:"status"`
	Destination    string     `json:"destination"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type submissionResponse struct {
	ID             string     `json:"id"`
	Handle         string     `json:"handle"`
	Recipient      string     `json:"recipient"`
	Status         string     `json:"status"`
	Condition      string     `json:"condition,omitempty"`
	PageCount      int        `json:"pageCount,omitempty"`
	QueuedAt       time.Time  `json:"queuedAt"`
	ConversionMs   int64      `json:"conversionMs,omitempty"`
	TransmissionMs int64      `json:"transmissionMs,omitempty"`
	TotalMs        int64      `json:"totalMs,omitempty"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

type batchDetailResponse struct {
	Batch        batchResponse        `json:"batch"`
	StatusCounts map[string]int       `json:"statusCounts"`
	Submissions  []submissionResponse `json:"submissions"`
}

func (h *BatchHandler) StartBatch(c *fiber.Ctx) error {
	var req startBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	var priority domain.Priority
	if strings.TrimSpace(req.Priority) != "" {
		parsed, err := domain.ParsePriorityFromString(req.Priority)
		if err != nil {
			return toHTTPError(err)
		}
		priority = parsed
	}

	batchID, err := h.dispatcher.StartBatch(c.Context(), service.DispatchSpec{
		Name:         req.Name,
		Owner:        req.Owner,
		FilePath:     req.FilePath,
		Destination:  req.Destination,
		Recipient:    req.Recipient,
		Count:        req.Count,
		Priority:     priority,
		BillingCode1: req.BillingCode1,
		BillingCode2: req.BillingCode2,
		ChunkSize:    req.ChunkSize,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"batchId": batchID,
		"status":  domain.BatchStatusProcessing.String(),
	})
}

func (h *BatchHandler) StopDispatch(c *fiber.Ctx) error {
	if err := h.dispatcher.Stop(c.Context()); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "stopping",
	})
}

func (h *BatchHandler) DispatchStatus(c *fiber.Ctx) error {
	snapshot := h.dispatcher.Snapshot()
	if snapshot == nil {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"inProgress": false,
		})
	}
	return c.Status(fiber.StatusOK).JSON(snapshot)
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	detail, err := h.reader.GetBatch(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	submissions := make([]submissionResponse, 0, len(detail.Submissions))
	for i := range detail.Submissions {
		submissions = append(submissions, toSubmissionResponse(&detail.Submissions[i]))
	}

	return c.Status(fiber.StatusOK).JSON(batchDetailResponse{
		Batch:        toBatchResponse(&detail.Batch),
		StatusCounts: detail.StatusCounts,
		Submissions:  submissions,
	})
}

func (h *BatchHandler) ListBatchSubmissions(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	submissions, err := h.reader.GetBatchSubmissions(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]submissionResponse, 0, len(submissions))
	for i := range submissions {
		out = append(out, toSubmissionResponse(&submissions[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"batchId":     batchID,
		"submissions": out,
	})
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	batches, err := h.reader.GetRecentBatches(c.Context(), limit)
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]batchResponse, 0, len(batches))
	for i := range batches {
		out = append(out, toBatchResponse(&batches[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": out,
	})
}

func (h *BatchHandler) GetHourlyMetrics(c *fiber.Ctx) error {
	fromDate := strings.TrimSpace(c.Query("from"))
	toDate := strings.TrimSpace(c.Query("to"))

	buckets, err := h.reader.GetMetrics(c.Context(), fromDate, toDate)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"data": buckets,
	})
}

func toBatchResponse(b *domain.Batch) batchResponse {
	return batchResponse{
		ID:             b.ID,
		Name:           b.Name,
		Owner:          b.Owner,
		TotalCount:     b.TotalCount,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		Status:         b.Status.String(),
		Destination:    b.Destination,
		StartedAt:      b.StartedAt,
		CompletedAt:    b.CompletedAt,
		CreatedAt:      b.CreatedAt,
	}
}

func toSubmissionResponse(s *domain.Submission) submissionResponse {
	resp := submissionResponse{
		ID:             s.ID,
		Handle:         s.Handle,
		Recipient:      s.Recipient,
		Status:         s.Status.String(),
		Condition:      s.Condition,
		PageCount:      s.PageCount,
		QueuedAt:       s.QueuedAt,
		ConversionMs:   s.ConversionMs,
		TransmissionMs: s.TransmissionMs,
		TotalMs:        s.TotalMs,
		ErrorMessage:   s.ErrorMessage,
	}
	if !s.UpdatedAt.IsZero() {
		updatedAt := s.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrTerminalState):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
