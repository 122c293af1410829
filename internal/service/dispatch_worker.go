package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/push-engine/internal/domain"
	"github.com/kursadbilgin/push-engine/internal/observability"
	"github.com/kursadbilgin/push-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

type dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error)
}

// DispatchWorker executes dispatch jobs queued by the admin API.
type DispatchWorker struct {
	consumer    queue.Consumer
	dispatcher  dispatcher
	concurrency int
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewDispatchWorker(consumer queue.Consumer, d *Dispatcher, concurrency int, logger *zap.Logger) (*DispatchWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if d == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return newDispatchWorker(consumer, d, concurrency, logger), nil
}

func newDispatchWorker(consumer queue.Consumer, d dispatcher, concurrency int, logger *zap.Logger) *DispatchWorker {
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		consumer:    consumer,
		dispatcher:  d,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (w *DispatchWorker) SetMetrics(metrics *observability.Metrics) {
	if w == nil {
		return
	}
	w.metrics = metrics
}

// Start runs concurrency consumers on the dispatch queue until ctx is cancelled.
func (w *DispatchWorker) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dispatch worker started", zap.Int("workerId", workerID))

			if err := w.consumer.Consume(groupCtx, w.process); err != nil {
				w.logger.Error("dispatch worker stopped with error", zap.Int("workerId", workerID), zap.Error(err))
				return err
			}

			w.logger.Info("dispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// process acks jobs that can never succeed and returns an error only for retryable failures.
func (w *DispatchWorker) process(ctx context.Context, msg queue.DispatchMessage) error {
	ctx = observability.WithLogFields(ctx,
		zap.String("jobId", msg.JobID),
		zap.String("target", msg.Target),
	)
	logger := observability.WithContextLogger(w.logger, ctx)

	result, err := w.dispatcher.Dispatch(ctx, DispatchRequest{
		Title:  msg.Title,
		Body:   msg.Body,
		Target: msg.Target,
		Tag:    msg.Tag,
		URL:    msg.URL,
	})
	switch {
	case err == nil:
		w.metrics.IncDispatchJob("done")
		logger.Info("dispatch job finished",
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("total", result.Total),
		)
		return nil
	case errors.Is(err, domain.ErrNoSubscriptions), errors.Is(err, domain.ErrValidation):
		w.metrics.IncDispatchJob("skipped")
		logger.Warn("dispatch job skipped", zap.Error(err))
		return nil
	default:
		w.metrics.IncDispatchJob("error")
		return fmt.Errorf("dispatch job %s failed: %w", msg.JobID, err)
	}
}
