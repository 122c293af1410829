package queue

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	dispatchMessageType = "push.dispatch.v1"
	headerRequestedBy   = "x-requested-by"
)

// RabbitMQPublisher publishes dispatch jobs with publisher confirms, so a returned nil means
// the broker has taken responsibility for the job.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg DispatchMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	publishing, err := newPublishing(msg)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", DispatchQueue, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish dispatch job %q: %w", msg.JobID, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("dispatch job %q not confirmed: %w", msg.JobID, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected dispatch job %q", msg.JobID)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func newPublishing(msg DispatchMessage) (amqp.Publishing, error) {
	body, err := encodeMessage(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid dispatch message: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Type:          dispatchMessageType,
		Timestamp:     msg.RequestedAt,
		MessageId:     msg.JobID,
		CorrelationId: msg.CorrelationID,
		Headers:       amqp.Table{headerRequestedBy: msg.RequestedBy},
		Body:          body,
	}, nil
}
