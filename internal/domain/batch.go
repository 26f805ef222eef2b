package domain

import (
	"fmt"
	"strings"
	"time"
)

// Requested-count bounds for a single batch.
const (
	MinBatchCount = 1
	MaxBatchCount = 100_000
)

// BatchStatus represents the dispatch state of a batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "PENDING"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusPending, BatchStatusProcessing, BatchStatusCompleted, BatchStatusFailed:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// CanTransition enforces the monotone pending -> processing -> {completed,failed}
// lifecycle; no reverse transitions.
func (s BatchStatus) CanTransition(next BatchStatus) bool {
	switch s {
	case BatchStatusPending:
		return next == BatchStatusProcessing || next == BatchStatusFailed
	case BatchStatusProcessing:
		return next == BatchStatusCompleted || next == BatchStatusFailed
	}
	return false
}

// Batch identifies one user dispatch request: n identical fax transmissions of
// a shared source document to a shared destination.
type Batch struct {
	ID             string
	Name           string
	Owner          string
	TotalCount     int
	CompletedCount int
	FailedCount    int
	Status         BatchStatus
	SourceFile     string
	Destination    string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (b *Batch) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("%w: batch name is required", ErrValidation)
	}
	if b.TotalCount < MinBatchCount || b.TotalCount > MaxBatchCount {
		return fmt.Errorf("%w: total count must be between %d and %d (got %d)",
			ErrValidation, MinBatchCount, MaxBatchCount, b.TotalCount)
	}
	if strings.TrimSpace(b.SourceFile) == "" {
		return fmt.Errorf("%w: source file is required", ErrValidation)
	}
	if strings.TrimSpace(b.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if b.CompletedCount+b.FailedCount > b.TotalCount {
		return fmt.Errorf("%w: completed %d + failed %d exceeds total %d",
			ErrValidation, b.CompletedCount, b.FailedCount, b.TotalCount)
	}
	return nil
}
