package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a fax submission.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusConverting Status = "CONVERTING"
	StatusSending    Status = "SENDING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimeout    Status = "TIMEOUT"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusConverting, StatusSending, StatusSent, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal state-machine
// step. Terminal states accept nothing; re-asserting the current non-terminal
// status is allowed so monitors can persist best-known state between polls.
func (s Status) CanTransition(next Status) bool {
	if !next.IsValid() {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	if s == next {
		return true
	}

	switch s {
	case StatusQueued:
		return next == StatusConverting || next == StatusFailed
	case StatusConverting:
		return next == StatusSending || next.IsTerminal()
	case StatusSending:
		return next.IsTerminal()
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Priority represents the submission priority level.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// Backend-reported document conditions.
const (
	ConditionProcessing = "Processing"
	ConditionSucceeded  = "Succeeded"
	ConditionFailed     = "Failed"
	ConditionCanceled   = "Canceled"
)

// StatusForCondition maps a terminal backend condition to the submission
// status it produces. The second return is false for non-terminal conditions.
func StatusForCondition(condition string) (Status, bool) {
	switch condition {
	case ConditionSucceeded:
		return StatusSent, true
	case ConditionFailed:
		return StatusFailed, true
	case ConditionCanceled:
		return StatusCancelled, true
	}
	return "", false
}

// Submission is one fax transmission unit within a batch. The Handle is the
// backend-assigned job identifier and the correlation key for every monitoring
// call; creation failures get a synthetic handle so every requested unit ends
// with exactly one row.
type Submission struct {
	ID                    string
	BatchID               string
	Handle                string
	Destination           string
	Recipient             string
	Priority              Priority
	Status                Status
	Condition             string
	PageCount             int
	QueuedAt              time.Time
	ConversionStartedAt   *time.Time
	ConversionEndedAt     *time.Time
	TransmissionStartedAt *time.Time
	TransmissionEndedAt   *time.Time
	ConversionMs          int64
	TransmissionMs        int64
	TotalMs               int64
	ErrorMessage          *string
	RetryCount            int
	BillingCode1          string
	BillingCode2          string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (s *Submission) Validate() error {
	if strings.TrimSpace(s.BatchID) == "" {
		return fmt.Errorf("%w: batch id is required", ErrValidation)
	}
	if strings.TrimSpace(s.Handle) == "" {
		return fmt.Errorf("%w: handle is required", ErrValidation)
	}
	if strings.TrimSpace(s.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrValidation)
	}
	if !s.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, s.Priority)
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, s.Status)
	}
	return nil
}
