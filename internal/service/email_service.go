package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/queue"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EmailService accepts transactional emails on the API side and hands them
// to the broker for the worker.
type EmailService struct {
	emails    repository.EmailRepository
	publisher queue.Publisher
	logger    *zap.Logger
}

func NewEmailService(
	emails repository.EmailRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*EmailService, error) {
	if emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &EmailService{
		emails:    emails,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Submit stores the email and publishes a delivery job. A repeated
// idempotency key returns the email stored by the first request.
func (s *EmailService) Submit(ctx context.Context, email *domain.Email) (*domain.Email, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := prepareEmailForSubmit(email); err != nil {
		return nil, err
	}

	if err := s.emails.Create(ctx, email); err != nil {
		existing, resolved, resolveErr := s.resolveIdempotencyConflict(ctx, err, email.IdempotencyKey)
		if resolveErr != nil {
			return nil, resolveErr
		}
		if resolved {
			return existing, nil
		}
		return nil, err
	}

	msg := queue.EmailMessage{
		EmailID:       email.ID,
		CorrelationID: email.CorrelationID,
		Kind:          email.Kind,
	}
	if err := s.publisher.Publish(ctx, queue.EmailQueueName, msg); err != nil {
		s.logger.Error("failed to publish email",
			observability.EmailID(email.ID),
			observability.EmailKind(email.Kind.String()),
			zap.Error(err),
		)
		if markErr := s.emails.MarkFailed(ctx, email.ID, "publish failed: "+err.Error()); markErr != nil {
			s.logger.Error("failed to mark email as failed after publish error",
				observability.EmailID(email.ID),
				zap.Error(markErr),
			)
			return nil, fmt.Errorf("failed to publish email: %w (failed to mark as failed: %v)", err, markErr)
		}
		email.Status = domain.EmailStatusFailed
		return nil, fmt.Errorf("failed to publish email: %w", err)
	}

	// A worker may lock the row before this update runs; only ACCEPTED moves.
	queued, err := s.emails.TransitionStatus(ctx, email.ID, domain.EmailStatusAccepted, domain.EmailStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("failed to update email status to queued: %w", err)
	}
	if queued {
		email.Status = domain.EmailStatusQueued
		return email, nil
	}

	current, err := s.emails.GetByID(ctx, email.ID)
	if err != nil {
		s.logger.Warn("failed to reload email picked up by a worker",
			observability.EmailID(email.ID),
			zap.Error(err),
		)
		return email, nil
	}
	return current, nil
}

func (s *EmailService) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: email id is required", domain.ErrValidation)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: email id must be a UUID", domain.ErrValidation)
	}
	return s.emails.GetByID(ctx, id)
}

func prepareEmailForSubmit(e *domain.Email) error {
	if e == nil {
		return fmt.Errorf("%w: email is required", domain.ErrValidation)
	}

	e.Recipient = strings.TrimSpace(e.Recipient)
	e.Subject = strings.TrimSpace(e.Subject)
	e.CorrelationID = strings.TrimSpace(e.CorrelationID)
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.NewString()
	}
	e.ID = uuid.NewString()
	e.IdempotencyKey = normalizeOptionalString(e.IdempotencyKey)

	e.Status = domain.EmailStatusAccepted
	e.AttemptCount = 0
	e.ProviderMessageID = nil
	e.LastError = nil
	e.NextRetryAt = nil
	e.SentAt = nil

	return e.Validate()
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func (s *EmailService) resolveIdempotencyConflict(
	ctx context.Context,
	createErr error,
	idempotencyKey *string,
) (*domain.Email, bool, error) {
	if idempotencyKey == nil || !errors.Is(createErr, domain.ErrConflict) {
		return nil, false, nil
	}

	existing, err := s.emails.GetByIdempotencyKey(ctx, *idempotencyKey)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing email after idempotency conflict: %w", err)
	}
	s.logger.Info("idempotency conflict resolved",
		zap.String("existingId", existing.ID),
		zap.String("idempotencyKey", *idempotencyKey),
	)
	return existing, true, nil
}
