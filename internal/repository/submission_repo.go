package repository

import (
	"context"
	"errors"
	"time"

	"github.com/faxops/blast-engine/internal/domain"
	"gorm.io/gorm"
)

// SubmissionUpdate carries the fields a monitor may change on a submission.
// Nil pointers are left untouched.
type SubmissionUpdate struct {
	Status                *domain.Status
	Condition             *string
	PageCount             *int
	ConversionEndedAt     *time.Time
	TransmissionStartedAt *time.Time
	TransmissionEndedAt   *time.Time
	ConversionMs          *int64
	TransmissionMs        *int64
	TotalMs               *int64
	ErrorMessage          *string
	RetryCount            *int
}

type SubmissionRepository interface {
	Create(ctx context.Context, s *domain.Submission) error
	GetByHandle(ctx context.Context, handle string) (*domain.Submission, error)
	GetByBatch(ctx context.Context, batchID string) ([]domain.Submission, error)
	// UpdateByHandle applies update to a non-terminal submission. Updates
	// against a terminal row return ErrTerminalState; the row is never
	// overwritten.
	UpdateByHandle(ctx context.Context, handle string, update SubmissionUpdate) error
	// GetTerminalSince returns submissions that reached a terminal status and
	// were last touched after the watermark, for metric rollup.
	GetTerminalSince(ctx context.Context, since time.Time, limit int) ([]domain.Submission, error)
}

var terminalStatuses = []domain.Status{
	domain.StatusSent,
	domain.StatusFailed,
	domain.StatusCancelled,
	domain.StatusTimeout,
}

type GormSubmissionRepo struct {
	db *gorm.DB
}

func NewGormSubmissionRepo(db *gorm.DB) *GormSubmissionRepo {
	return &GormSubmissionRepo{db: db}
}

func (r *GormSubmissionRepo) Create(ctx context.Context, s *domain.Submission) error {
	model := submissionModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		*s = *submissionModelToDomain(model)
	}
	return nil
}

func (r *GormSubmissionRepo) GetByHandle(ctx context.Context, handle string) (*domain.Submission, error) {
	var model SubmissionModel
	err := r.db.WithContext(ctx).First(&model, "handle = ?", handle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return submissionModelToDomain(&model), nil
}

func (r *GormSubmissionRepo) GetByBatch(ctx context.Context, batchID string) ([]domain.Submission, error) {
	var models []SubmissionModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("queued_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}
	return submissions, nil
}

func (r *GormSubmissionRepo) UpdateByHandle(ctx context.Context, handle string, update SubmissionUpdate) error {
	fields := map[string]any{}
	if update.Status != nil {
		fields["status"] = *update.Status
	}
	if update.Condition != nil {
		fields["condition"] = *update.Condition
	}
	if update.PageCount != nil {
		fields["page_count"] = *update.PageCount
	}
	if update.ConversionEndedAt != nil {
		fields["conversion_ended_at"] = *update.ConversionEndedAt
	}
	if update.TransmissionStartedAt != nil {
		fields["transmission_started_at"] = *update.TransmissionStartedAt
	}
	if update.TransmissionEndedAt != nil {
		fields["transmission_ended_at"] = *update.TransmissionEndedAt
	}
	if update.ConversionMs != nil {
		fields["conversion_ms"] = *update.ConversionMs
	}
	if update.TransmissionMs != nil {
		fields["transmission_ms"] = *update.TransmissionMs
	}
	if update.TotalMs != nil {
		fields["total_ms"] = *update.TotalMs
	}
	if update.ErrorMessage != nil {
		fields["error_message"] = *update.ErrorMessage
	}
	if update.RetryCount != nil {
		fields["retry_count"] = *update.RetryCount
	}
	if len(fields) == 0 {
		return nil
	}

	result := r.db.WithContext(ctx).
		Model(&SubmissionModel{}).
		Where("handle = ? AND status NOT IN ?", handle, terminalStatuses).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&SubmissionModel{}).Where("handle = ?", handle).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrNotFound
		}
		return domain.ErrTerminalState
	}
	return nil
}

func (r *GormSubmissionRepo) GetTerminalSince(ctx context.Context, since time.Time, limit int) ([]domain.Submission, error) {
	if limit <= 0 {
		limit = 500
	}

	var models []SubmissionModel
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at > ?", terminalStatuses, since).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	submissions := make([]domain.Submission, 0, len(models))
	for i := range models {
		submissions = append(submissions, *submissionModelToDomain(&models[i]))
	}
	return submissions, nil
}
