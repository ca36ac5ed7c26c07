package queue

import (
	"context"
	"errors"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/domain"
)

// Publisher publishes email messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg EmailMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message. Returning an error wrapping
// ErrReject dead-letters the message; any other error requeues it.
type MessageHandler func(ctx context.Context, msg EmailMessage) error

// Consumer consumes email messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var ErrReject = errors.New("message rejected")

const (
	// EmailQueueName is the work queue for transactional email jobs.
	EmailQueueName = "email.transactional"
	// EmailDLQName collects rejected email jobs.
	EmailDLQName = "dlq.email.transactional"

	// queueMaxPriority is the RabbitMQ x-max-priority value for the work queue.
	queueMaxPriority int32 = 3
)

// PriorityValue maps an email kind to RabbitMQ message priority. Account
// security mail jumps ahead of marketing-adjacent mail.
func PriorityValue(kind domain.EmailKind) uint8 {
	switch kind {
	case domain.EmailKindIdentityVerification, domain.EmailKindPasswordReset:
		return 3
	case domain.EmailKindOrderConfirmation, domain.EmailKindMembershipConfirmation, domain.EmailKindGiftCard:
		return 2
	case domain.EmailKindWelcome, domain.EmailKindWaitlist:
		return 1
	default:
		return 0
	}
}
