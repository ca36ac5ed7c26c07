package repository

import (
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
)

// EmailModel is the persistence model for the emails table.
type EmailModel struct {
	ID                string             `gorm:"type:uuid;primaryKey"`
	CorrelationID     string             `gorm:"type:varchar(36);not null"`
	IdempotencyKey    *string            `gorm:"type:varchar(255)"`
	Kind              domain.EmailKind   `gorm:"type:varchar(40);not null"`
	Recipient         string             `gorm:"type:varchar(320);not null"`
	Subject           string             `gorm:"type:varchar(200);not null"`
	HTMLBody          string             `gorm:"column:html_body;type:text"`
	TextBody          string             `gorm:"column:text_body;type:text"`
	Status            domain.EmailStatus `gorm:"type:varchar(20);not null"`
	ProviderMessageID *string            `gorm:"type:varchar(255)"`
	LastError         *string            `gorm:"type:text"`
	AttemptCount      int                `gorm:"not null;default:0"`
	NextRetryAt       *time.Time         `gorm:"type:timestamptz"`
	SentAt            *time.Time         `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (EmailModel) TableName() string {
	return "emails"
}

func emailModelFromDomain(e *domain.Email) *EmailModel {
	if e == nil {
		return nil
	}

	return &EmailModel{
		ID:                e.ID,
		CorrelationID:     e.CorrelationID,
		IdempotencyKey:    e.IdempotencyKey,
		Kind:              e.Kind,
		Recipient:         e.Recipient,
		Subject:           e.Subject,
		HTMLBody:          e.HTMLBody,
		TextBody:          e.TextBody,
		Status:            e.Status,
		ProviderMessageID: e.ProviderMessageID,
		LastError:         e.LastError,
		AttemptCount:      e.AttemptCount,
		NextRetryAt:       e.NextRetryAt,
		SentAt:            e.SentAt,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func emailModelToDomain(m *EmailModel) *domain.Email {
	if m == nil {
		return nil
	}

	return &domain.Email{
		ID:                m.ID,
		CorrelationID:     m.CorrelationID,
		IdempotencyKey:    m.IdempotencyKey,
		Kind:              m.Kind,
		Recipient:         m.Recipient,
		Subject:           m.Subject,
		HTMLBody:          m.HTMLBody,
		TextBody:          m.TextBody,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		LastError:         m.LastError,
		AttemptCount:      m.AttemptCount,
		NextRetryAt:       m.NextRetryAt,
		SentAt:            m.SentAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
