package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultStaleSweepInterval = time.Minute
	defaultStaleSendingAfter  = 5 * time.Minute
)

// StaleSendingSweeper releases emails left in SENDING by a worker that died
// mid-send, so the retry scanner picks them up again.
type StaleSendingSweeper struct {
	emails     repository.EmailRepository
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewStaleSendingSweeper(
	emails repository.EmailRepository,
	interval time.Duration,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*StaleSendingSweeper, error) {
	if emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if interval <= 0 {
		interval = defaultStaleSweepInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleSendingAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StaleSendingSweeper{
		emails:     emails,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
	}, nil
}

func (s *StaleSendingSweeper) Start(ctx context.Context) error {
	return runPeriodically(ctx, s.interval, s.logger, "stale sending sweeper", s.sweep)
}

func (s *StaleSendingSweeper) sweep(ctx context.Context) error {
	now := s.now().UTC()
	released, err := s.emails.ReleaseStaleSending(ctx, now.Add(-s.staleAfter), now)
	if err != nil {
		return fmt.Errorf("failed to release stale sending emails: %w", err)
	}
	if released > 0 {
		s.logger.Warn("released stale sending emails",
			zap.Int64("count", released),
			zap.Duration("staleAfter", s.staleAfter),
		)
	}
	return nil
}
