package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/emailqueue"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/provider"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/queue"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency = 1
	DefaultMaxAttempts   = 5
	maxRetryDelay        = 5 * time.Minute
	baseRetryDelay       = 2 * time.Second
	maxRetryJitterMillis = 250
)

// Dispatcher consumes email jobs and sends them through the throttled email
// queue, so the provider sees at most one send start per MinInterval no
// matter how many consumers are running.
type Dispatcher struct {
	emails      repository.EmailRepository
	consumer    queue.Consumer
	provider    provider.EmailProvider
	sendQueue   *emailqueue.Queue
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	maxAttempts int
	now         func() time.Time
	randIntn    func(n int) int
}

func NewDispatcher(
	emails repository.EmailRepository,
	consumer queue.Consumer,
	emailProvider provider.EmailProvider,
	sendQueue *emailqueue.Queue,
	concurrency int,
	maxAttempts int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if emails == nil {
		return nil, fmt.Errorf("email repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if emailProvider == nil {
		return nil, fmt.Errorf("email provider is required")
	}
	if sendQueue == nil {
		return nil, fmt.Errorf("email queue is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		emails:      emails,
		consumer:    consumer,
		provider:    emailProvider,
		sendQueue:   sendQueue,
		logger:      logger,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		now:         time.Now,
		randIntn:    rand.Intn,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Start runs the consumers until ctx is cancelled or one of them fails.
func (d *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < d.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			d.logger.Info("dispatcher consumer started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.EmailQueueName),
			)

			err := d.consumer.Consume(groupCtx, queue.EmailQueueName, d.processMessage)
			if err != nil {
				d.logger.Error("dispatcher consumer stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			d.logger.Info("dispatcher consumer stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (d *Dispatcher) processMessage(ctx context.Context, msg queue.EmailMessage) error {
	ctx = observability.WithLogFields(ctx,
		observability.EmailID(msg.EmailID),
		observability.EmailKind(msg.Kind.String()),
	)
	logger := observability.ContextLogger(ctx, d.logger)

	email, err := d.emails.LockForSending(ctx, msg.EmailID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("email not found during lock, skipping")
			return nil
		}
		return fmt.Errorf("failed to lock email for sending: %w", err)
	}

	// Nil means terminal or already sending; ack and skip.
	if email == nil {
		return nil
	}

	kind := email.Kind.String()
	// Bound to ctx so a send still waiting in the queue is dropped on shutdown
	// instead of running after the row has been released.
	future := emailqueue.AddContext(ctx, d.sendQueue, func(taskCtx context.Context) (*provider.ProviderResponse, error) {
		return d.provider.Send(taskCtx, *email)
	})

	providerResp, sendErr := future.Wait(ctx)
	if sendErr != nil && ctx.Err() != nil && errors.Is(sendErr, ctx.Err()) {
		// The worker is stopping. Hand the email back so another worker
		// retries it; the provider deduplicates on the email id.
		releaseCtx := context.WithoutCancel(ctx)
		if err := d.emails.MarkRetrying(releaseCtx, email.ID, "worker stopped before send completed", d.now().UTC()); err != nil {
			logger.Error("failed to release email on shutdown", zap.Error(err))
		}
		return ctx.Err()
	}

	if sendErr == nil {
		messageID := ""
		if providerResp != nil {
			messageID = providerResp.MessageID
		}
		if err := d.emails.MarkSent(ctx, email.ID, messageID, d.now().UTC()); err != nil {
			return fmt.Errorf("failed to mark email as sent: %w", err)
		}
		d.metrics.IncEmailSent(kind)
		logger.Info("email sent",
			zap.String("providerMessageId", messageID),
			observability.Attempt(email.AttemptCount),
		)
		return nil
	}

	transient := provider.IsTransient(sendErr)
	if provider.IsThrottled(sendErr) {
		logger.Warn("email provider throttled the send; consider raising EMAIL_MIN_INTERVAL",
			zap.Duration("minInterval", d.sendQueue.MinInterval()),
		)
	}

	if transient && email.AttemptCount < d.maxAttempts {
		delay := max(d.computeRetryDelay(email.AttemptCount), provider.RetryAfter(sendErr))
		nextRetryAt := d.now().Add(delay).UTC()
		if err := d.emails.MarkRetrying(ctx, email.ID, sendErr.Error(), nextRetryAt); err != nil {
			return fmt.Errorf("failed to schedule email retry: %w", err)
		}
		d.metrics.IncEmailRedelivery(kind)
		logger.Warn("email send failed, retry scheduled",
			observability.Attempt(email.AttemptCount),
			zap.Time("nextRetryAt", nextRetryAt),
			zap.Error(sendErr),
		)
		return nil
	}

	if err := d.emails.MarkFailed(ctx, email.ID, sendErr.Error()); err != nil {
		return fmt.Errorf("failed to mark email as failed: %w", err)
	}
	reason := "permanent_error"
	if transient {
		reason = "retry_exhausted"
	}
	d.metrics.IncEmailFailed(kind, reason)
	logger.Error("email send failed",
		zap.String("reason", reason),
		observability.Attempt(email.AttemptCount),
		zap.Error(sendErr),
	)

	return nil
}

func (d *Dispatcher) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if d.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = d.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}
