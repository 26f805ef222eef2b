package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/faxops/blast-engine/internal/backend"
	"github.com/faxops/blast-engine/internal/domain"
	"github.com/faxops/blast-engine/internal/events"
	"github.com/faxops/blast-engine/internal/observability"
	"github.com/faxops/blast-engine/internal/repository"
	"go.uber.org/zap"
)

// monitorSubmission polls the backend for one created job until a terminal
// document condition or the attempt ceiling. The backend exposes no precise
// conversion-complete signal, so phase durations are approximated from poll
// timing: conversion is charged the interval up to the first poll that
// observes a still-processing document, and transmission runs from there.
// Changing this heuristic changes reported metrics semantics.
func (d *Dispatcher) monitorSubmission(
	ctx context.Context,
	tracker *batchTracker,
	handle string,
	submissionID string,
	queuedAt time.Time,
) {
	logger := observability.WithContextLogger(d.logger, ctx).With(zap.String("handle", handle))

	if d.metrics != nil {
		d.metrics.IncMonitorsActive()
		defer d.metrics.DecMonitorsActive()
	}

	var transmissionStartedAt time.Time
	var pageCount int

	for attempt := 1; attempt <= d.maxPollAttempts; attempt++ {
		if err := d.sleep(ctx, d.pollInterval); err != nil {
			logger.Warn("monitor sleep interrupted", zap.Error(err))
			break
		}

		pollStart := d.now()
		jobStatus, docs, err := d.pollJob(ctx, handle)
		if d.metrics != nil {
			d.metrics.ObservePollDuration(d.now().Sub(pollStart))
		}
		if err != nil {
			// Transient per-attempt failure: counts toward the ceiling,
			// never aborts the monitor.
			logger.Warn("poll attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		if len(docs) == 0 {
			d.persistProgress(ctx, handle, jobStatus.Condition, nil, nil, nil)
			continue
		}

		doc := docs[0]
		pageCount = doc.PageCount

		terminalStatus, terminal := domain.StatusForCondition(doc.Condition)
		if !terminal {
			if transmissionStartedAt.IsZero() {
				// First in-progress observation with a document present:
				// conversion is presumed done, transmission starts here.
				transmissionStartedAt = d.now().UTC()
				sending := domain.StatusSending
				d.persistProgress(ctx, handle, doc.Condition, &sending, &pageCount, &transmissionStartedAt)
			} else {
				d.persistProgress(ctx, handle, doc.Condition, nil, &pageCount, nil)
			}
			continue
		}

		d.finishSubmission(ctx, tracker, handle, submissionID, terminalStatus, doc, queuedAt, transmissionStartedAt, pageCount)
		return
	}

	d.timeoutSubmission(ctx, tracker, handle)
}

func (d *Dispatcher) pollJob(ctx context.Context, handle string) (*backend.JobStatus, []backend.Document, error) {
	jobStatus, err := d.backend.GetJobStatus(ctx, handle)
	if err != nil {
		return nil, nil, fmt.Errorf("job status poll failed: %w", err)
	}
	docs, err := d.backend.GetDocumentsForJob(ctx, handle)
	if err != nil {
		return nil, nil, fmt.Errorf("document poll failed: %w", err)
	}
	return jobStatus, docs, nil
}

// persistProgress writes the best-known non-terminal state. A terminal-state
// rejection here means another writer already finished the submission, which
// the monitor treats as its cue that there is nothing left to record.
func (d *Dispatcher) persistProgress(
	ctx context.Context,
	handle string,
	condition string,
	status *domain.Status,
	pageCount *int,
	transmissionStartedAt *time.Time,
) {
	update := repository.SubmissionUpdate{
		Condition: &condition,
		Status:    status,
		PageCount: pageCount,
	}
	if transmissionStartedAt != nil {
		ts := transmissionStartedAt.UTC()
		update.TransmissionStartedAt = &ts
		update.ConversionEndedAt = &ts
	}

	if err := d.submissions.UpdateByHandle(ctx, handle, update); err != nil {
		observability.WithContextLogger(d.logger, ctx).Warn("failed to persist poll progress",
			zap.String("handle", handle),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) finishSubmission(
	ctx context.Context,
	tracker *batchTracker,
	handle string,
	submissionID string,
	status domain.Status,
	doc backend.Document,
	queuedAt time.Time,
	transmissionStartedAt time.Time,
	pageCount int,
) {
	logger := observability.WithContextLogger(d.logger, ctx).With(zap.String("handle", handle))
	now := d.now().UTC()

	if transmissionStartedAt.IsZero() {
		// Terminal on the very first document observation: no in-progress
		// poll ever split the phases, so conversion absorbs the elapsed time.
		transmissionStartedAt = now
	}

	// Conversion duration is rounded to whole seconds; the poll-timing
	// heuristic carries no sub-second precision worth reporting.
	conversionMs := transmissionStartedAt.Sub(queuedAt).Round(time.Second).Milliseconds()
	transmissionMs := now.Sub(transmissionStartedAt).Milliseconds()
	totalMs := now.Sub(queuedAt).Milliseconds()

	update := repository.SubmissionUpdate{
		Status:              &status,
		Condition:           &doc.Condition,
		PageCount:           &pageCount,
		ConversionEndedAt:   &transmissionStartedAt,
		TransmissionEndedAt: &now,
		ConversionMs:        &conversionMs,
		TransmissionMs:      &transmissionMs,
		TotalMs:             &totalMs,
	}
	if status == domain.StatusSent {
		update.TransmissionStartedAt = &transmissionStartedAt
	} else {
		errMsg := fmt.Sprintf("backend reported condition %s", doc.Condition)
		update.ErrorMessage = &errMsg
	}

	if err := d.submissions.UpdateByHandle(ctx, handle, update); err != nil {
		logger.Error("failed to persist terminal submission state", zap.Error(err))
	}

	d.storeActivities(ctx, submissionID, doc.DocumentID)

	if status == domain.StatusSent {
		tracker.succeeded.Add(1)
		if d.metrics != nil {
			d.metrics.ObservePhaseDurations(conversionMs, transmissionMs, totalMs)
		}
	} else {
		tracker.terminalFailed.Add(1)
		if d.metrics != nil {
			d.metrics.IncFaxFailed("backend_" + doc.Condition)
		}
	}
	if d.metrics != nil {
		d.metrics.IncFaxCompleted(status.String())
	}

	d.sink.Emit(ctx, events.FaxCompleted(tracker.batchID, handle, status.String(), totalMs))
	logger.Info("submission finished",
		zap.String("status", status.String()),
		zap.Int64("totalMs", totalMs),
		zap.Int("pageCount", pageCount),
	)
}

func (d *Dispatcher) timeoutSubmission(ctx context.Context, tracker *batchTracker, handle string) {
	logger := observability.WithContextLogger(d.logger, ctx).With(zap.String("handle", handle))

	status := domain.StatusTimeout
	errMsg := fmt.Sprintf("no terminal condition after %d polls at %s intervals",
		d.maxPollAttempts, d.pollInterval)
	update := repository.SubmissionUpdate{
		Status:       &status,
		ErrorMessage: &errMsg,
	}
	if err := d.submissions.UpdateByHandle(ctx, handle, update); err != nil {
		logger.Error("failed to persist timeout state", zap.Error(err))
	}

	tracker.terminalFailed.Add(1)
	if d.metrics != nil {
		d.metrics.IncFaxFailed("timeout")
		d.metrics.IncFaxCompleted(status.String())
	}

	d.sink.Emit(ctx, events.FaxCompleted(tracker.batchID, handle, status.String(), 0))
	logger.Warn("submission timed out", zap.String("error", errMsg))
}

// storeActivities fetches and persists the backend's activity history for a
// terminal document. Failures are logged only; the terminal outcome is
// already recorded.
func (d *Dispatcher) storeActivities(ctx context.Context, submissionID, documentID string) {
	if documentID == "" {
		return
	}

	logger := observability.WithContextLogger(d.logger, ctx)

	backendActivities, err := d.backend.GetActivities(ctx, documentID)
	if err != nil {
		logger.Warn("failed to fetch activities",
			zap.String("documentId", documentID),
			zap.Error(err),
		)
		return
	}
	if len(backendActivities) == 0 {
		return
	}

	activities := make([]*domain.Activity, 0, len(backendActivities))
	for _, a := range backendActivities {
		activities = append(activities, &domain.Activity{
			ID:              uuid.NewString(),
			SubmissionID:    submissionID,
			DocumentID:      documentID,
			Message:         a.Message,
			Timestamp:       a.Timestamp,
			UserID:          a.UserID,
			UserDisplayName: a.UserDisplayName,
			Condition:       a.Condition,
			Status:          a.Status,
			IsDiagnostic:    a.IsDiagnostic,
		})
	}

	if err := d.activities.CreateBatch(ctx, activities); err != nil {
		logger.Warn("failed to persist activities",
			zap.String("documentId", documentID),
			zap.Error(err),
		)
	}
}
