package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewStaleSendingSweeperAppliesDefaults(t *testing.T) {
	t.Parallel()

	if _, err := NewStaleSendingSweeper(nil, 0, 0, nil); err == nil {
		t.Fatal("expected error when email repository is nil")
	}

	sweeper, err := NewStaleSendingSweeper(&fakeEmailRepo{}, 0, 0, nil)
	if err != nil {
		t.Fatalf("NewStaleSendingSweeper() error = %v", err)
	}
	if sweeper.interval != defaultStaleSweepInterval {
		t.Fatalf("interval = %s, want %s", sweeper.interval, defaultStaleSweepInterval)
	}
	if sweeper.staleAfter != defaultStaleSendingAfter {
		t.Fatalf("staleAfter = %s, want %s", sweeper.staleAfter, defaultStaleSendingAfter)
	}
}

func TestStaleSendingSweeperSweep(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var gotStaleBefore, gotRetryAt time.Time
	repo := &fakeEmailRepo{
		releaseStaleSendingFn: func(ctx context.Context, staleBefore time.Time, nextRetryAt time.Time) (int64, error) {
			gotStaleBefore = staleBefore
			gotRetryAt = nextRetryAt
			return 2, nil
		},
	}

	sweeper, err := NewStaleSendingSweeper(repo, time.Minute, 10*time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStaleSendingSweeper() error = %v", err)
	}
	sweeper.now = func() time.Time { return now }

	if err := sweeper.sweep(context.Background()); err != nil {
		t.Fatalf("sweep() error = %v", err)
	}
	if !gotStaleBefore.Equal(now.Add(-10 * time.Minute)) {
		t.Fatalf("staleBefore = %v, want %v", gotStaleBefore, now.Add(-10*time.Minute))
	}
	if !gotRetryAt.Equal(now) {
		t.Fatalf("nextRetryAt = %v, want %v", gotRetryAt, now)
	}
}

func TestStaleSendingSweeperSweepRepositoryError(t *testing.T) {
	t.Parallel()

	repo := &fakeEmailRepo{
		releaseStaleSendingFn: func(ctx context.Context, staleBefore time.Time, nextRetryAt time.Time) (int64, error) {
			return 0, errors.New("db unavailable")
		},
	}

	sweeper, err := NewStaleSendingSweeper(repo, time.Minute, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStaleSendingSweeper() error = %v", err)
	}
	if err := sweeper.sweep(context.Background()); err == nil {
		t.Fatal("expected sweep() error")
	}
}

func TestStaleSendingSweeperStartReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sweeper, err := NewStaleSendingSweeper(&fakeEmailRepo{}, time.Second, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStaleSendingSweeper() error = %v", err)
	}
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}
