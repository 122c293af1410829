package pushclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	defaultActivationAttempts = 20
	defaultActivationDelay    = time.Second
	defaultSettleDelay        = 500 * time.Millisecond
	defaultProgressiveStep    = 200 * time.Millisecond
)

// ActivationState is the monitor's view of a registration.
type ActivationState int

const (
	StateNoRegistration ActivationState = iota
	StateInstalling
	StateWaiting
	StateActiveNoPushManager
	StateReady
)

func (s ActivationState) String() string {
	switch s {
	case StateNoRegistration:
		return "no-registration"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActiveNoPushManager:
		return "active-no-pushmanager"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("ActivationState(%d)", int(s))
}

// Observe classifies a registration snapshot. StateReady still needs a successful probe.
func Observe(reg Registration) ActivationState {
	if reg == nil {
		return StateNoRegistration
	}
	if reg.Active() != nil {
		if reg.PushManager() == nil {
			return StateActiveNoPushManager
		}
		return StateReady
	}
	if reg.Installing() != nil {
		return StateInstalling
	}
	if reg.Waiting() != nil {
		return StateWaiting
	}
	return StateNoRegistration
}

// ActivationConfig bounds how long the monitor polls.
type ActivationConfig struct {
	MaxAttempts     int
	Delay           time.Duration
	SettleDelay     time.Duration
	ProgressiveStep time.Duration
}

func (c ActivationConfig) withDefaults() ActivationConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultActivationAttempts
	}
	if c.Delay <= 0 {
		c.Delay = defaultActivationDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.ProgressiveStep < 0 {
		c.ProgressiveStep = 0
	} else if c.ProgressiveStep == 0 {
		c.ProgressiveStep = defaultProgressiveStep
	}
	return c
}

// ActivationMonitor waits until the service worker can accept a push subscription request.
type ActivationMonitor struct {
	env    Environment
	cfg    ActivationConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewActivationMonitor(env Environment, cfg ActivationConfig, logger *zap.Logger) (*ActivationMonitor, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ActivationMonitor{
		env:    env,
		cfg:    cfg.withDefaults(),
		logger: logger,
		sleep:  sleepWithContext,
	}, nil
}

// WaitReady polls the registration until it is active, owns a push manager and
// answers a probe. Exhausting the attempt budget yields ErrWorkerNotReady.
func (m *ActivationMonitor) WaitReady(ctx context.Context) (Registration, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	last := StateNoRegistration
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reg, err := m.env.Registration(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Debug("registration lookup failed", zap.Int("attempt", attempt+1), zap.Error(err))
			reg = nil
		}

		state := Observe(reg)
		last = state
		m.logger.Debug("service worker state",
			zap.Int("attempt", attempt+1),
			zap.String("state", state.String()),
		)

		switch state {
		case StateReady:
			ready, err := m.probe(ctx, reg)
			if err != nil {
				return nil, err
			}
			if ready {
				return reg, nil
			}
		case StateInstalling:
			if err := m.awaitInstalled(ctx, reg.Installing()); err != nil {
				return nil, err
			}
			continue
		case StateWaiting:
			if err := reg.Waiting().PostMessage(MessageSkipWaiting); err != nil {
				m.logger.Debug("skip-waiting message failed", zap.Error(err))
			}
			if err := m.sleep(ctx, 2*m.cfg.Delay); err != nil {
				return nil, err
			}
			continue
		}

		if err := m.sleep(ctx, m.backoff(attempt)); err != nil {
			return nil, err
		}
	}

	return nil, newNegotiationError(ErrWorkerNotReady, notReadyMessage(last), nil)
}

// probe lets a fresh activation settle, then checks the capability handle answers.
func (m *ActivationMonitor) probe(ctx context.Context, reg Registration) (bool, error) {
	if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
		return false, err
	}

	pm := reg.PushManager()
	if pm == nil {
		return false, nil
	}
	if _, err := pm.GetSubscription(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		m.logger.Debug("push manager probe failed", zap.Error(err))
		return false, nil
	}

	if active := reg.Active(); active != nil {
		if err := active.PostMessage(MessagePushReadyCheck); err != nil {
			m.logger.Debug("ready-check message failed", zap.Error(err))
		}
	}
	return true, nil
}

// awaitInstalled blocks until the installing worker activates or turns redundant.
// Some platforms never emit the event, so a safety timeout ends the wait.
func (m *ActivationMonitor) awaitInstalled(ctx context.Context, worker Worker) error {
	if worker == nil {
		return nil
	}

	timer := time.NewTimer(3 * m.cfg.Delay)
	defer timer.Stop()

	events := worker.StateChanges()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			m.logger.Debug("installing worker did not report activation before timeout")
			return nil
		case state, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if state == WorkerActivated || state == WorkerRedundant {
				return m.sleep(ctx, m.cfg.SettleDelay)
			}
		}
	}
}

func (m *ActivationMonitor) backoff(attempt int) time.Duration {
	return m.cfg.Delay + time.Duration(attempt)*m.cfg.ProgressiveStep
}

func notReadyMessage(last ActivationState) string {
	switch last {
	case StateActiveNoPushManager:
		return "service worker is active but push messaging is unavailable; reload the page and try again"
	case StateNoRegistration:
		return "no service worker is registered; reload the page and try again"
	default:
		return fmt.Sprintf("service worker did not become active (last state %s); reload the page and try again", last)
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
