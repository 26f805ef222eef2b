package backend

import (
	"context"
	"time"
)

// Client is the outbound fax submission port. A handle returned by CreateJob
// is the correlation key for every subsequent status, document, and activity
// lookup.
type Client interface {
	// EnsureSession makes sure an authenticated session is active, logging in
	// when the current one is missing or expired.
	EnsureSession(ctx context.Context) error
	Logout(ctx context.Context) error
	UploadAttachment(ctx context.Context, filePath string) (string, error)
	CreateJob(ctx context.Context, spec JobSpec) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*JobStatus, error)
	GetDocumentsForJob(ctx context.Context, jobID string) ([]Document, error)
	GetActivities(ctx context.Context, documentID string) ([]Activity, error)
}

// JobSpec describes one fax job creation request.
type JobSpec struct {
	Destination   string `json:"destination"`
	RecipientName string `json:"recipientName"`
	AttachmentRef string `json:"attachmentRef"`
	Priority      string `json:"priority"`
	BillingCode1  string `json:"billingCode1,omitempty"`
	BillingCode2  string `json:"billingCode2,omitempty"`
}

// JobStatus is the backend's view of a job.
type JobStatus struct {
	Status    string `json:"status"`
	Condition string `json:"condition"`
}

// Document is the backend's converted, transmittable artifact for a job. Its
// condition carries the authoritative success or failure outcome.
type Document struct {
	DocumentID string `json:"documentId"`
	Condition  string `json:"condition"`
	PageCount  int    `json:"pageCount"`
}

// Activity is one history entry recorded by the backend for a document.
type Activity struct {
	ID              string    `json:"id"`
	Message         string    `json:"message"`
	Timestamp       time.Time `json:"timestamp"`
	UserID          string    `json:"userId"`
	UserDisplayName string    `json:"userDisplayName"`
	Condition       string    `json:"condition"`
	Status          string    `json:"status"`
	IsDiagnostic    bool      `json:"isDiagnostic"`
}
