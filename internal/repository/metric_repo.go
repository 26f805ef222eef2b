package repository

import (
	"context"
	"errors"

	"github.com/faxops/blast-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MetricRepository interface {
	// Upsert merges delta into the (date, hour) bucket, creating it when
	// missing. Counts merge by addition, averages by running average, maxima
	// by max.
	Upsert(ctx context.Context, delta domain.MetricBucket) error
	GetRange(ctx context.Context, fromDate, toDate string) ([]domain.MetricBucket, error)
}

type GormMetricRepo struct {
	db *gorm.DB
}

func NewGormMetricRepo(db *gorm.DB) *GormMetricRepo {
	return &GormMetricRepo{db: db}
}

func (r *GormMetricRepo) Upsert(ctx context.Context, delta domain.MetricBucket) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model MetricBucketModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "date = ? AND hour = ?", delta.Date, delta.Hour).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(metricBucketModelFromDomain(&delta)).Error
		}
		if err != nil {
			return err
		}

		merged := metricBucketModelToDomain(&model)
		merged.Merge(delta)
		return tx.Save(metricBucketModelFromDomain(merged)).Error
	})
}

func (r *GormMetricRepo) GetRange(ctx context.Context, fromDate, toDate string) ([]domain.MetricBucket, error) {
	var models []MetricBucketModel
	err := r.db.WithContext(ctx).
		Where("date BETWEEN ? AND ?", fromDate, toDate).
		Order("date ASC, hour ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	buckets := make([]domain.MetricBucket, 0, len(models))
	for i := range models {
		buckets = append(buckets, *metricBucketModelToDomain(&models[i]))
	}
	return buckets, nil
}
