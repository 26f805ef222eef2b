package repository

import (
	"context"

	"github.com/faxops/blast-engine/internal/domain"
	"gorm.io/gorm"
)

type ActivityRepository interface {
	CreateBatch(ctx context.Context, activities []*domain.Activity) error
	GetBySubmissionID(ctx context.Context, submissionID string) ([]domain.Activity, error)
}

type GormActivityRepo struct {
	db *gorm.DB
}

func NewGormActivityRepo(db *gorm.DB) *GormActivityRepo {
	return &GormActivityRepo{db: db}
}

func (r *GormActivityRepo) CreateBatch(ctx context.Context, activities []*domain.Activity) error {
	models := make([]ActivityModel, 0, len(activities))
	modelIndexes := make([]int, 0, len(activities))
	for i, a := range activities {
		model := activityModelFromDomain(a)
		if model != nil {
			models = append(models, *model)
			modelIndexes = append(modelIndexes, i)
		}
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		idx := modelIndexes[i]
		if idx < len(activities) && activities[idx] != nil {
			*activities[idx] = *activityModelToDomain(&models[i])
		}
	}

	return nil
}

func (r *GormActivityRepo) GetBySubmissionID(ctx context.Context, submissionID string) ([]domain.Activity, error) {
	var models []ActivityModel
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	activities := make([]domain.Activity, 0, len(models))
	for i := range models {
		activities = append(activities, *activityModelToDomain(&models[i]))
	}
	return activities, nil
}
