package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/push-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = time.Minute
	defaultSweepLimit    = 100
)

type drainer interface {
	Drain(ctx context.Context, userID string) (*RegisterResult, error)
}

// PendingSweeper periodically retries parked payloads of identities that have a live subscription again.
type PendingSweeper struct {
	pending  repository.PendingRepository
	drainer  drainer
	logger   *zap.Logger
	interval time.Duration
	limit    int
	// cursor is the last identity of the previous page; empty restarts from the first.
	cursor string
}

func NewPendingSweeper(
	pending repository.PendingRepository,
	registrar *Registrar,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*PendingSweeper, error) {
	if pending == nil {
		return nil, fmt.Errorf("pending repository is required")
	}
	if registrar == nil {
		return nil, fmt.Errorf("registrar is required")
	}
	return newPendingSweeper(pending, registrar, interval, limit, logger), nil
}

func newPendingSweeper(
	pending repository.PendingRepository,
	d drainer,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) *PendingSweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PendingSweeper{
		pending:  pending,
		drainer:  d,
		logger:   logger,
		interval: interval,
		limit:    limit,
	}
}

// Start sweeps once immediately, then on every tick until ctx is cancelled.
func (s *PendingSweeper) Start(ctx context.Context) error {
	if err := s.sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("pending sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("pending sweep failed", zap.Error(err))
			}
		}
	}
}

// sweep drains one page of identities per call and advances the cursor, wrapping
// around to the first identity once the end of the list is reached.
func (s *PendingSweeper) sweep(ctx context.Context) error {
	userIDs, err := s.pending.ListUsers(ctx, s.cursor, s.limit)
	if err == nil && len(userIDs) == 0 && s.cursor != "" {
		s.cursor = ""
		userIDs, err = s.pending.ListUsers(ctx, "", s.limit)
	}
	if err != nil {
		return fmt.Errorf("failed to list users with pending notifications: %w", err)
	}

	if len(userIDs) > 0 {
		s.cursor = userIDs[len(userIDs)-1]
	}

	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := s.drainer.Drain(ctx, userID)
		if err != nil {
			s.logger.Warn("pending drain failed", zap.String("userId", userID), zap.Error(err))
			continue
		}
		if result.Drained > 0 || result.Gone {
			s.logger.Info("pending notifications swept",
				zap.String("userId", userID),
				zap.Int("drained", result.Drained),
				zap.Int("remaining", result.Remaining),
				zap.Bool("gone", result.Gone),
			)
		}
	}

	return nil
}
