package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/queue"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically republishes queued emails whose retry time has
// come.
type RetryScanner struct {
	emails    repository.EmailRepository
	publisher queue.Publisher
	logger    *zap.Logger
	interval  time.Duration
	limit     int
}

func NewRetryScanner(
	emails repository.EmailRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		emails:    emails,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	return runPeriodically(ctx, s.interval, s.logger, "retry scanner", s.scanDue)
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	due, err := s.emails.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for i := range due {
		email := due[i]
		msg := queue.EmailMessage{
			EmailID:       email.ID,
			CorrelationID: email.CorrelationID,
			Kind:          email.Kind,
		}

		if err := s.publisher.Publish(ctx, queue.EmailQueueName, msg); err != nil {
			s.logger.Error("failed to enqueue email retry",
				observability.EmailID(email.ID),
				zap.Error(err),
			)
			continue
		}

		if err := s.emails.ClearNextRetryAt(ctx, email.ID); err != nil {
			s.logger.Error("failed to clear next retry timestamp after enqueue",
				observability.EmailID(email.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// runPeriodically runs scan once immediately and then on every tick until
// ctx is cancelled. Scan errors are logged, not returned.
func runPeriodically(
	ctx context.Context,
	interval time.Duration,
	logger *zap.Logger,
	name string,
	scan func(ctx context.Context) error,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := scan(ctx); err != nil && ctx.Err() == nil {
		logger.Error(name+" initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Error(name+" scan failed", zap.Error(err))
			}
		}
	}
}
