package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/faxops/blast-engine/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_batches",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.BatchModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batches_status_created ON batches (status, created_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.BatchModel{})
			},
		},
		{
			ID: "000002_create_submissions",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.SubmissionModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_submissions_batch_id ON submissions (batch_id)`,
					`CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions (status)`,
					`CREATE INDEX IF NOT EXISTS idx_submissions_terminal_updated ON submissions (updated_at) WHERE status IN ('SENT', 'FAILED', 'CANCELLED', 'TIMEOUT')`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SubmissionModel{})
			},
		},
		{
			ID: "000003_create_activities",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ActivityModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_activities_submission_id ON activities (submission_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ActivityModel{})
			},
		},
		{
			ID: "000004_create_metric_buckets",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.MetricBucketModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.MetricBucketModel{})
			},
		},
	})

	return m.Migrate()
}
