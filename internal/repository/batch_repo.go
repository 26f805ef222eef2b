package repository

import (
	"context"
	"errors"
	"time"

	"github.com/faxops/blast-engine/internal/domain"
	"gorm.io/gorm"
)

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	GetRecent(ctx context.Context, limit int) ([]domain.Batch, error)
	// MarkStarted transitions a pending batch to processing with a start
	// timestamp. Returns ErrTerminalState when the batch already moved on.
	MarkStarted(ctx context.Context, id string, at time.Time) error
	// Finalize transitions a processing batch to a terminal status with its
	// final counts and completion timestamp.
	Finalize(ctx context.Context, id string, status domain.BatchStatus, completed, failed int, at time.Time) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

func (r *GormBatchRepo) GetRecent(ctx context.Context, limit int) ([]domain.Batch, error) {
	if limit <= 0 {
		limit = 20
	}

	var models []BatchModel
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}
	return batches, nil
}

func (r *GormBatchRepo) MarkStarted(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusPending).
		Updates(map[string]any{
			"status":     domain.BatchStatusProcessing,
			"started_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.guardFailure(ctx, id)
	}
	return nil
}

func (r *GormBatchRepo) Finalize(
	ctx context.Context,
	id string,
	status domain.BatchStatus,
	completed, failed int,
	at time.Time,
) error {
	if !status.IsTerminal() {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status IN ?", id, []domain.BatchStatus{domain.BatchStatusPending, domain.BatchStatusProcessing}).
		Updates(map[string]any{
			"status":          status,
			"completed_count": completed,
			"failed_count":    failed,
			"completed_at":    at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.guardFailure(ctx, id)
	}
	return nil
}

// guardFailure distinguishes a missing row from an illegal transition after a
// guarded update matched nothing.
func (r *GormBatchRepo) guardFailure(ctx context.Context, id string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&BatchModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrTerminalState
}
