package repository

import (
	"time"

	"github.com/faxops/blast-engine/internal/domain"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	Name           string             `gorm:"type:varchar(255);not null"`
	Owner          string             `gorm:"type:varchar(255)"`
	TotalCount     int                `gorm:"not null"`
	CompletedCount int                `gorm:"not null;default:0"`
	FailedCount    int                `gorm:"not null;default:0"`
	Status         domain.BatchStatus `gorm:"type:varchar(20);not null"`
	SourceFile     string             `gorm:"type:text;not null"`
	Destination    string             `gorm:"type:varchar(32);not null"`
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// SubmissionModel is the persistence model for the submissions table.
type SubmissionModel struct {
	ID                    string          `gorm:"type:uuid;primaryKey"`
	BatchID               string          `gorm:"type:uuid;not null"`
	Handle                string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	Destination           string          `gorm:"type:varchar(32);not null"`
	Recipient             string          `gorm:"type:varchar(255);not null"`
	Priority              domain.Priority `gorm:"type:varchar(10);not null"`
	Status                domain.Status   `gorm:"type:varchar(20);not null"`
	Condition             string          `gorm:"type:varchar(40)"`
	PageCount             int             `gorm:"not null;default:0"`
	QueuedAt              time.Time
	ConversionStartedAt   *time.Time
	ConversionEndedAt     *time.Time
	TransmissionStartedAt *time.Time
	TransmissionEndedAt   *time.Time
	ConversionMs          int64 `gorm:"not null;default:0"`
	TransmissionMs        int64 `gorm:"not null;default:0"`
	TotalMs               int64 `gorm:"not null;default:0"`
	ErrorMessage          *string
	RetryCount            int    `gorm:"not null;default:0"`
	BillingCode1          string `gorm:"type:varchar(64)"`
	BillingCode2          string `gorm:"type:varchar(64)"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (SubmissionModel) TableName() string {
	return "submissions"
}

// ActivityModel is the persistence model for the activities table.
type ActivityModel struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	SubmissionID    string `gorm:"type:uuid;not null"`
	DocumentID      string `gorm:"type:varchar(64)"`
	Message         string `gorm:"type:text"`
	Timestamp       time.Time
	UserID          string `gorm:"type:varchar(64)"`
	UserDisplayName string `gorm:"type:varchar(255)"`
	Condition       string `gorm:"type:varchar(40)"`
	Status          string `gorm:"type:varchar(40)"`
	IsDiagnostic    bool   `gorm:"not null;default:false"`
	CreatedAt       time.Time
}

func (ActivityModel) TableName() string {
	return "activities"
}

// MetricBucketModel is the persistence model for the metric_buckets table.
type MetricBucketModel struct {
	Date              string  `gorm:"type:date;primaryKey"`
	Hour              int     `gorm:"primaryKey"`
	SubmittedCount    int64   `gorm:"not null;default:0"`
	SucceededCount    int64   `gorm:"not null;default:0"`
	FailedCount       int64   `gorm:"not null;default:0"`
	CancelledCount    int64   `gorm:"not null;default:0"`
	DurationSamples   int64   `gorm:"not null;default:0"`
	AvgConversionMs   float64 `gorm:"not null;default:0"`
	AvgTransmissionMs float64 `gorm:"not null;default:0"`
	AvgTotalMs        float64 `gorm:"not null;default:0"`
	MaxConversionMs   int64   `gorm:"not null;default:0"`
	MaxTransmissionMs int64   `gorm:"not null;default:0"`
	MaxTotalMs        int64   `gorm:"not null;default:0"`
	UpdatedAt         time.Time
}

func (MetricBucketModel) TableName() string {
	return "metric_buckets"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:             b.ID,
		Name:           b.Name,
		Owner:          b.Owner,
		TotalCount:     b.TotalCount,
		CompletedCount: b.CompletedCount,
		FailedCount:    b.FailedCount,
		Status:         b.Status,
		SourceFile:     b.SourceFile,
		Destination:    b.Destination,
		StartedAt:      b.StartedAt,
		CompletedAt:    b.CompletedAt,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:             m.ID,
		Name:           m.Name,
		Owner:          m.Owner,
		TotalCount:     m.TotalCount,
		CompletedCount: m.CompletedCount,
		FailedCount:    m.FailedCount,
		Status:         m.Status,
		SourceFile:     m.SourceFile,
		Destination:    m.Destination,
		StartedAt:      m.StartedAt,
		CompletedAt:    m.CompletedAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func submissionModelFromDomain(s *domain.Submission) *SubmissionModel {
	if s == nil {
		return nil
	}

	return &SubmissionModel{
		ID:                    s.ID,
		BatchID:               s.BatchID,
		Handle:                s.Handle,
		Destination:           s.Destination,
		Recipient:             s.Recipient,
		Priority:              s.Priority,
		Status:                s.Status,
		Condition:             s.Condition,
		PageCount:             s.PageCount,
		QueuedAt:              s.QueuedAt,
		ConversionStartedAt:   s.ConversionStartedAt,
		ConversionEndedAt:     s.ConversionEndedAt,
		TransmissionStartedAt: s.TransmissionStartedAt,
		TransmissionEndedAt:   s.TransmissionEndedAt,
		ConversionMs:          s.ConversionMs,
		TransmissionMs:        s.TransmissionMs,
		TotalMs:               s.TotalMs,
		ErrorMessage:          s.ErrorMessage,
		RetryCount:            s.RetryCount,
		BillingCode1:          s.BillingCode1,
		BillingCode2:          s.BillingCode2,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

func submissionModelToDomain(m *SubmissionModel) *domain.Submission {
	if m == nil {
		return nil
	}

	return &domain.Submission{
		ID:                    m.ID,
		BatchID:               m.BatchID,
		Handle:                m.Handle,
		Destination:           m.Destination,
		Recipient:             m.Recipient,
		Priority:              m.Priority,
		Status:                m.Status,
		Condition:             m.Condition,
		PageCount:             m.PageCount,
		QueuedAt:              m.QueuedAt,
		ConversionStartedAt:   m.ConversionStartedAt,
		ConversionEndedAt:     m.ConversionEndedAt,
		TransmissionStartedAt: m.TransmissionStartedAt,
		TransmissionEndedAt:   m.TransmissionEndedAt,
		ConversionMs:          m.ConversionMs,
		TransmissionMs:        m.TransmissionMs,
		TotalMs:               m.TotalMs,
		ErrorMessage:          m.ErrorMessage,
		RetryCount:            m.RetryCount,
		BillingCode1:          m.BillingCode1,
		BillingCode2:          m.BillingCode2,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func activityModelFromDomain(a *domain.Activity) *ActivityModel {
	if a == nil {
		return nil
	}

	return &ActivityModel{
		ID:              a.ID,
		SubmissionID:    a.SubmissionID,
		DocumentID:      a.DocumentID,
		Message:         a.Message,
		Timestamp:       a.Timestamp,
		UserID:          a.UserID,
		UserDisplayName: a.UserDisplayName,
		Condition:       a.Condition,
		Status:          a.Status,
		IsDiagnostic:    a.IsDiagnostic,
		CreatedAt:       a.CreatedAt,
	}
}

func activityModelToDomain(m *ActivityModel) *domain.Activity {
	if m == nil {
		return nil
	}

	return &domain.Activity{
		ID:              m.ID,
		SubmissionID:    m.SubmissionID,
		DocumentID:      m.DocumentID,
		Message:         m.Message,
		Timestamp:       m.Timestamp,
		UserID:          m.UserID,
		UserDisplayName: m.UserDisplayName,
		Condition:       m.Condition,
		Status:          m.Status,
		IsDiagnostic:    m.IsDiagnostic,
		CreatedAt:       m.CreatedAt,
	}
}

func metricBucketModelFromDomain(b *domain.MetricBucket) *MetricBucketModel {
	if b == nil {
		return nil
	}

	return &MetricBucketModel{
		Date:              b.Date,
		Hour:              b.Hour,
		SubmittedCount:    b.SubmittedCount,
		SucceededCount:    b.SucceededCount,
		FailedCount:       b.FailedCount,
		CancelledCount:    b.CancelledCount,
		DurationSamples:   b.DurationSamples,
		AvgConversionMs:   b.AvgConversionMs,
		AvgTransmissionMs: b.AvgTransmissionMs,
		AvgTotalMs:        b.AvgTotalMs,
		MaxConversionMs:   b.MaxConversionMs,
		MaxTransmissionMs: b.MaxTransmissionMs,
		MaxTotalMs:        b.MaxTotalMs,
		UpdatedAt:         b.UpdatedAt,
	}
}

func metricBucketModelToDomain(m *MetricBucketModel) *domain.MetricBucket {
	if m == nil {
		return nil
	}

	return &domain.MetricBucket{
		Date:              m.Date,
		Hour:              m.Hour,
		SubmittedCount:    m.SubmittedCount,
		SucceededCount:    m.SucceededCount,
		FailedCount:       m.FailedCount,
		CancelledCount:    m.CancelledCount,
		DurationSamples:   m.DurationSamples,
		AvgConversionMs:   m.AvgConversionMs,
		AvgTransmissionMs: m.AvgTransmissionMs,
		AvgTotalMs:        m.AvgTotalMs,
		MaxConversionMs:   m.MaxConversionMs,
		MaxTransmissionMs: m.MaxTransmissionMs,
		MaxTotalMs:        m.MaxTotalMs,
		UpdatedAt:         m.UpdatedAt,
	}
}
