package domain

import "time"

// Activity is one backend-reported history entry for a submission's document.
// Rows are written in a batch when the submission reaches a terminal condition
// and are immutable afterwards.
type Activity struct {
	ID              string
	SubmissionID    string
	DocumentID      string
	Message         string
	Timestamp       time.Time
	UserID          string
	UserDisplayName string
	Condition       string
	Status          string
	IsDiagnostic    bool
	CreatedAt       time.Time
}
