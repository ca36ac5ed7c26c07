package migrations

import (
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createEmailsTable(),
		addEmailsDeliveryIndexes(),
		addEmailsRetrySchedule(),
	})

	return m.Migrate()
}

func createEmailsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_emails",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EmailModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_emails_idempotency_key ON emails (idempotency_key) WHERE idempotency_key IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_emails_correlation_id ON emails (correlation_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.EmailModel{})
		},
	}
}

func addEmailsDeliveryIndexes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_emails_delivery_indexes",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_emails_status_kind_created ON emails (status, kind, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_emails_recipient_created ON emails (recipient, created_at DESC)`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_emails_recipient_created`,
				`DROP INDEX IF EXISTS idx_emails_status_kind_created`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func addEmailsRetrySchedule() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_add_emails_retry_schedule",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`ALTER TABLE emails ADD COLUMN IF NOT EXISTS next_retry_at timestamptz`,
				`CREATE INDEX IF NOT EXISTS idx_emails_due_retry ON emails (next_retry_at) WHERE status = 'QUEUED' AND next_retry_at IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_emails_sending_updated ON emails (updated_at) WHERE status = 'SENDING'`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			statements := []string{
				`DROP INDEX IF EXISTS idx_emails_sending_updated`,
				`DROP INDEX IF EXISTS idx_emails_due_retry`,
				`ALTER TABLE emails DROP COLUMN IF EXISTS next_retry_at`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
	}
}
