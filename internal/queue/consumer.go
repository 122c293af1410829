package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer reads dispatch jobs with manual acks. Each Consume call registers its own
// consumer tag, so several workers can share one connection.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{client: client, prefetch: max(prefetch, 1), logger: logger}
}

// Consume blocks until ctx is cancelled, re-subscribing after broker failures.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	tag := "push-worker-" + uuid.NewString()[:8]
	logger := c.logger.With(zap.String("consumerTag", tag))

	wait := reconnectBackoff
	for {
		handled, err := c.session(ctx, tag, handler)
		if ctx.Err() != nil {
			return nil
		}
		if handled > 0 {
			wait = reconnectBackoff
		}

		logger.Warn("dispatch consumer interrupted, resubscribing",
			zap.Int("handled", handled),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, maxBackoff)
	}
}

// session consumes on one channel until the channel fails or ctx ends. It returns how many
// deliveries it settled.
func (c *RabbitMQConsumer) session(ctx context.Context, tag string, handler MessageHandler) (int, error) {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return 0, err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return 0, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, DispatchQueue, tag, false, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to consume queue %q: %w", DispatchQueue, err)
	}
	cancelled := ch.NotifyCancel(make(chan string, 1))

	handled := 0
	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return handled, nil
		case <-cancelled:
			return handled, fmt.Errorf("broker cancelled consumer %s", tag)
		case d, ok := <-deliveries:
			if !ok {
				return handled, fmt.Errorf("delivery channel closed")
			}
			if err := c.handle(ctx, d, handler); err != nil {
				return handled, err
			}
			handled++
		}
	}
}

func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := readDelivery(d)
	if err != nil {
		c.logger.Warn("dead-lettering unreadable dispatch job",
			zap.String("messageId", d.MessageId),
			zap.String("type", d.Type),
			zap.Error(err),
		)
		return settleDelivery(d, actionDeadLetter)
	}

	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	handlerErr := handler(ctx, msg)
	action := settle(handlerErr, d.Redelivered)
	if handlerErr != nil {
		observability.WithContextLogger(c.logger, ctx).Warn("dispatch job failed",
			zap.String("jobId", msg.JobID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Stringer("action", action),
			zap.Error(handlerErr),
		)
	}
	return settleDelivery(d, action)
}

// readDelivery decodes a delivery. Messages of a foreign type never reach the handler.
func readDelivery(d amqp.Delivery) (DispatchMessage, error) {
	if d.Type != "" && d.Type != dispatchMessageType {
		return DispatchMessage{}, fmt.Errorf("unexpected message type %q", d.Type)
	}
	return decodeMessage(d.Body)
}

func settleDelivery(d amqp.Delivery, action deliveryAction) error {
	var err error
	switch action {
	case actionAck:
		err = d.Ack(false)
	case actionRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", action, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
