package queue

import "context"

const (
	// DispatchQueue carries admin broadcast jobs from the API to the worker.
	DispatchQueue = "push.dispatch"
	// DispatchDLQ receives jobs that failed after one redelivery or could not be decoded.
	DispatchDLQ = "push.dispatch.dlq"

	dispatchRoutingKey = "dispatch"
)

// Publisher publishes dispatch jobs.
type Publisher interface {
	Publish(ctx context.Context, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed dispatch job.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch jobs until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

type deliveryAction int

const (
	actionAck deliveryAction = iota
	actionRequeue
	actionDeadLetter
)

func (a deliveryAction) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// settle decides what happens to a delivery once the handler returned.
// A job is retried once through the broker, then parked on the DLQ.
func settle(handlerErr error, redelivered bool) deliveryAction {
	if handlerErr == nil {
		return actionAck
	}
	if redelivered {
		return actionDeadLetter
	}
	return actionRequeue
}
