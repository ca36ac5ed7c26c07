package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ergomarketing/Semzo-Prive--sub004/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	acked    int
	nacked   int
	requeued bool
	rejected int
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked++
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.nacked++
	a.requeued = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.rejected++
	return nil
}

func TestHandleDelivery(t *testing.T) {
	t.Parallel()

	validBody := []byte(`{"emailId":"e1","correlationId":"c1","kind":"welcome"}`)

	testCases := []struct {
		name         string
		body         []byte
		handlerErr   error
		wantAck      int
		wantNack     int
		wantReject   int
		wantHandlerN int
	}{
		{name: "success acks", body: validBody, wantAck: 1, wantHandlerN: 1},
		{name: "invalid json rejects", body: []byte(`{`), wantReject: 1},
		{name: "invalid payload rejects", body: []byte(`{"emailId":"","kind":"welcome"}`), wantReject: 1},
		{name: "handler error requeues", body: validBody, handlerErr: errors.New("db down"), wantNack: 1, wantHandlerN: 1},
		{
			name:         "handler reject dead-letters",
			body:         validBody,
			handlerErr:   fmt.Errorf("%w: permanent", ErrReject),
			wantReject:   1,
			wantHandlerN: 1,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ack := &fakeAcknowledger{}
			consumer := NewRabbitMQConsumer(nil, 0, zap.NewNop())

			calls := 0
			handler := func(ctx context.Context, msg EmailMessage) error {
				calls++
				if msg.EmailID != "e1" {
					t.Fatalf("EmailID = %q, want e1", msg.EmailID)
				}
				return tc.handlerErr
			}

			err := consumer.handleDelivery(context.Background(), amqp.Delivery{
				Acknowledger: ack,
				Body:         tc.body,
			}, handler)
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if calls != tc.wantHandlerN {
				t.Fatalf("handler calls = %d, want %d", calls, tc.wantHandlerN)
			}
			if ack.acked != tc.wantAck || ack.nacked != tc.wantNack || ack.rejected != tc.wantReject {
				t.Fatalf("ack/nack/reject = %d/%d/%d, want %d/%d/%d",
					ack.acked, ack.nacked, ack.rejected, tc.wantAck, tc.wantNack, tc.wantReject)
			}
			if tc.wantNack == 1 && !ack.requeued {
				t.Fatal("nack should requeue")
			}
		})
	}
}

func TestHandleDeliveryPropagatesCorrelationID(t *testing.T) {
	t.Parallel()

	consumer := NewRabbitMQConsumer(nil, 1, nil)
	var got string
	err := consumer.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: &fakeAcknowledger{},
		Body:         []byte(`{"emailId":"e1","correlationId":"corr-9","kind":"welcome"}`),
	}, func(ctx context.Context, msg EmailMessage) error {
		got, _ = observability.CorrelationIDFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("handleDelivery() error = %v", err)
	}
	if got != "corr-9" {
		t.Fatalf("correlation id = %q, want corr-9", got)
	}
}

func TestConsumeRequiresInitializedConsumer(t *testing.T) {
	t.Parallel()

	consumer := NewRabbitMQConsumer(nil, 1, nil)
	err := consumer.Consume(context.Background(), EmailQueueName, func(ctx context.Context, msg EmailMessage) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected error for consumer without client")
	}
}
