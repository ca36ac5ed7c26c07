package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EmailRepository interface {
	Create(ctx context.Context, e *domain.Email) error
	GetByID(ctx context.Context, id string) (*domain.Email, error)
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Email, error)
	TransitionStatus(ctx context.Context, id string, from domain.EmailStatus, to domain.EmailStatus) (bool, error)
	LockForSending(ctx context.Context, id string) (*domain.Email, error)
	MarkSent(ctx context.Context, id string, providerMsgID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	MarkRetrying(ctx context.Context, id string, reason string, nextRetryAt time.Time) error
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Email, error)
	ClearNextRetryAt(ctx context.Context, id string) error
	ReleaseStaleSending(ctx context.Context, staleBefore time.Time, nextRetryAt time.Time) (int64, error)
}

type GormEmailRepo struct {
	db *gorm.DB
}

func NewGormEmailRepo(db *gorm.DB) *GormEmailRepo {
	return &GormEmailRepo{db: db}
}

func (r *GormEmailRepo) Create(ctx context.Context, e *domain.Email) error {
	model := emailModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	if e != nil {
		*e = *emailModelToDomain(model)
	}
	return nil
}

func (r *GormEmailRepo) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	var model EmailModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return emailModelToDomain(&model), nil
}

func (r *GormEmailRepo) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Email, error) {
	var model EmailModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return emailModelToDomain(&model), nil
}

// TransitionStatus moves the email from one status to another. It reports
// false without error when the row is no longer in the from status.
func (r *GormEmailRepo) TransitionStatus(ctx context.Context, id string, from domain.EmailStatus, to domain.EmailStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// LockForSending moves a queued email to SENDING. It returns nil, nil when
// the row is already terminal or another worker holds it.
func (r *GormEmailRepo) LockForSending(ctx context.Context, id string) (*domain.Email, error) {
	var locked *domain.Email

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model EmailModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		switch model.Status {
		case domain.EmailStatusSent, domain.EmailStatusFailed, domain.EmailStatusSending:
			return nil
		}

		if err := tx.Model(&model).Updates(map[string]any{
			"status":        domain.EmailStatusSending,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error; err != nil {
			return err
		}

		model.Status = domain.EmailStatusSending
		model.AttemptCount++
		locked = emailModelToDomain(&model)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return locked, nil
}

func (r *GormEmailRepo) MarkSent(ctx context.Context, id string, providerMsgID string, sentAt time.Time) error {
	updates := map[string]any{
		"status":        domain.EmailStatusSent,
		"sent_at":       sentAt,
		"last_error":    nil,
		"next_retry_at": nil,
	}
	if providerMsgID != "" {
		updates["provider_message_id"] = providerMsgID
	}

	return r.updateByID(ctx, id, updates)
}

func (r *GormEmailRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	return r.updateByID(ctx, id, map[string]any{
		"status":        domain.EmailStatusFailed,
		"last_error":    reason,
		"next_retry_at": nil,
	})
}

// MarkRetrying returns a SENDING email to QUEUED. The retry scanner
// republishes it once nextRetryAt has passed.
func (r *GormEmailRepo) MarkRetrying(ctx context.Context, id string, reason string, nextRetryAt time.Time) error {
	return r.updateByID(ctx, id, map[string]any{
		"status":        domain.EmailStatusQueued,
		"last_error":    reason,
		"next_retry_at": nextRetryAt,
	})
}

func (r *GormEmailRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Email, error) {
	var models []EmailModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", domain.EmailStatusQueued, time.Now().UTC()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	emails := make([]domain.Email, len(models))
	for i := range models {
		emails[i] = *emailModelToDomain(&models[i])
	}
	return emails, nil
}

func (r *GormEmailRepo) ClearNextRetryAt(ctx context.Context, id string) error {
	return r.updateByID(ctx, id, map[string]any{
		"next_retry_at": nil,
	})
}

// ReleaseStaleSending hands emails stuck in SENDING since before staleBefore
// back to the retry scanner. Such rows are left behind when a worker dies
// between locking and recording the provider outcome.
func (r *GormEmailRepo) ReleaseStaleSending(ctx context.Context, staleBefore time.Time, nextRetryAt time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("status = ? AND updated_at < ?", domain.EmailStatusSending, staleBefore).
		Updates(map[string]any{
			"status":        domain.EmailStatusQueued,
			"last_error":    "released after stale send lock",
			"next_retry_at": nextRetryAt,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormEmailRepo) updateByID(ctx context.Context, id string, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&EmailModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
