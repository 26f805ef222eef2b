// Package events defines the dispatch lifecycle event contract. The engine
// emits through the Sink interface; transports (AMQP, UI pollers) subscribe
// without the engine knowing about them.
package events

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type identifies a lifecycle event.
type Type string

const (
	TypeBatchStarted   Type = "batchStarted"
	TypeUploadingFile  Type = "uploadingFile"
	TypeFileUploaded   Type = "fileUploaded"
	TypeChunkStarted   Type = "chunkStarted"
	TypeChunkCompleted Type = "chunkCompleted"
	TypeFaxSubmitted   Type = "faxSubmitted"
	TypeFaxFailed      Type = "faxFailed"
	TypeFaxCompleted   Type = "faxCompleted"
	TypeBatchCompleted Type = "batchCompleted"
	TypeBatchFailed    Type = "batchFailed"
)

func (t Type) String() string { return string(t) }

func (t Type) IsValid() bool {
	switch t {
	case TypeBatchStarted, TypeUploadingFile, TypeFileUploaded,
		TypeChunkStarted, TypeChunkCompleted,
		TypeFaxSubmitted, TypeFaxFailed, TypeFaxCompleted,
		TypeBatchCompleted, TypeBatchFailed:
		return true
	}
	return false
}

// Event is one lifecycle notification. Only the fields relevant to the event
// type are populated.
type Event struct {
	Type             Type      `json:"type"`
	BatchID          string    `json:"batchId,omitempty"`
	TotalCount       int       `json:"totalCount,omitempty"`
	ChunkIndex       int       `json:"chunkIndex,omitempty"`
	TotalChunks      int       `json:"totalChunks,omitempty"`
	ChunkSize        int       `json:"chunkSize,omitempty"`
	SubmissionNumber int       `json:"submissionNumber,omitempty"`
	Handle           string    `json:"handle,omitempty"`
	ProcessedCount   int       `json:"processedCount,omitempty"`
	Status           string    `json:"status,omitempty"`
	DurationMs       int64     `json:"durationMs,omitempty"`
	SuccessCount     int       `json:"successCount,omitempty"`
	FailedCount      int       `json:"failedCount,omitempty"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

func (e Event) Validate() error {
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if strings.TrimSpace(e.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	return nil
}

// Sink receives lifecycle events. Implementations must not block the
// dispatcher for long and must never panic across this boundary.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

var _ Sink = NopSink{}

func BatchStarted(batchID string, totalCount int) Event {
	return Event{Type: TypeBatchStarted, BatchID: batchID, TotalCount: totalCount, Timestamp: time.Now().UTC()}
}

func UploadingFile(batchID string) Event {
	return Event{Type: TypeUploadingFile, BatchID: batchID, Timestamp: time.Now().UTC()}
}

func FileUploaded(batchID string) Event {
	return Event{Type: TypeFileUploaded, BatchID: batchID, Timestamp: time.Now().UTC()}
}

func ChunkStarted(batchID string, chunkIndex, totalChunks, chunkSize int) Event {
	return Event{
		Type:        TypeChunkStarted,
		BatchID:     batchID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		ChunkSize:   chunkSize,
		Timestamp:   time.Now().UTC(),
	}
}

func ChunkCompleted(batchID string, chunkIndex, totalChunks, chunkSize int) Event {
	return Event{
		Type:        TypeChunkCompleted,
		BatchID:     batchID,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		ChunkSize:   chunkSize,
		Timestamp:   time.Now().UTC(),
	}
}

func FaxSubmitted(batchID string, submissionNumber int, handle string, processedCount int) Event {
	return Event{
		Type:             TypeFaxSubmitted,
		BatchID:          batchID,
		SubmissionNumber: submissionNumber,
		Handle:           handle,
		ProcessedCount:   processedCount,
		Timestamp:        time.Now().UTC(),
	}
}

func FaxFailed(batchID string, submissionNumber int, err error) Event {
	event := Event{
		Type:             TypeFaxFailed,
		BatchID:          batchID,
		SubmissionNumber: submissionNumber,
		Timestamp:        time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

func FaxCompleted(batchID, handle, status string, durationMs int64) Event {
	return Event{
		Type:       TypeFaxCompleted,
		BatchID:    batchID,
		Handle:     handle,
		Status:     status,
		DurationMs: durationMs,
		Timestamp:  time.Now().UTC(),
	}
}

func BatchCompleted(batchID string, successCount, failedCount int) Event {
	return Event{
		Type:         TypeBatchCompleted,
		BatchID:      batchID,
		SuccessCount: successCount,
		FailedCount:  failedCount,
		Timestamp:    time.Now().UTC(),
	}
}

func BatchFailed(batchID string, err error) Event {
	event := Event{Type: TypeBatchFailed, BatchID: batchID, Timestamp: time.Now().UTC()}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}
