package pushclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	ua "github.com/mileusna/useragent"
	"go.uber.org/zap"
)

const (
	defaultSubscribeAttempts  = 5
	defaultRetryBaseDelay     = 1500 * time.Millisecond
	defaultMissingKeysDelay   = time.Second
	defaultNegotiationTimeout = 2 * time.Minute

	keyP256dh = "p256dh"
	keyAuth   = "auth"
)

var errMissingKeys = errors.New("subscription is missing encryption keys")

// NegotiatorConfig tunes the subscribe retry loop.
type NegotiatorConfig struct {
	MaxSubscribeAttempts int
	RetryBaseDelay       time.Duration
	MissingKeysDelay     time.Duration
	SettleDelay          time.Duration
	// Timeout bounds one whole negotiation in wall-clock time.
	Timeout    time.Duration
	Activation ActivationConfig
}

func (c NegotiatorConfig) withDefaults() NegotiatorConfig {
	if c.MaxSubscribeAttempts <= 0 {
		c.MaxSubscribeAttempts = defaultSubscribeAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBaseDelay
	}
	if c.MissingKeysDelay <= 0 {
		c.MissingKeysDelay = defaultMissingKeysDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultNegotiationTimeout
	}
	return c
}

type readinessWaiter interface {
	WaitReady(ctx context.Context) (Registration, error)
}

// Negotiator turns "no subscription" into a server-acknowledged push subscription.
// At most one negotiation runs at a time per Negotiator.
type Negotiator struct {
	env      Environment
	api      ServerAPI
	monitor  readinessWaiter
	cfg      NegotiatorConfig
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	inflight atomic.Bool
}

func NewNegotiator(env Environment, api ServerAPI, cfg NegotiatorConfig, logger *zap.Logger) (*Negotiator, error) {
	if env == nil {
		return nil, fmt.Errorf("environment is required")
	}
	if api == nil {
		return nil, fmt.Errorf("server api is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.withDefaults()
	monitor, err := NewActivationMonitor(env, cfg.Activation, logger)
	if err != nil {
		return nil, err
	}

	return &Negotiator{
		env:     env,
		api:     api,
		monitor: monitor,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepWithContext,
	}, nil
}

// Subscribe runs the full negotiation and returns the live subscription once the server acknowledged it.
func (n *Negotiator) Subscribe(ctx context.Context) (PushSubscription, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !n.inflight.CompareAndSwap(false, true) {
		return nil, newNegotiationError(ErrNegotiationInProgress, "a subscription attempt is already running", nil)
	}
	defer n.inflight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	if err := n.checkPreconditions(ctx); err != nil {
		return nil, err
	}

	reg, err := n.monitor.WaitReady(ctx)
	if err != nil {
		return nil, err
	}

	rawKey, err := n.fetchServerKey(ctx)
	if err != nil {
		return nil, err
	}

	if pm := reg.PushManager(); pm != nil {
		if err := n.clearExisting(ctx, pm); err != nil {
			return nil, err
		}
	}

	sub, err := n.subscribeWithRetry(ctx, reg, rawKey)
	if err != nil {
		return nil, err
	}

	payload := Serialize(sub)
	if err := n.api.Register(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newNegotiationError(ErrServerRejected, serverRejectedMessage(err), err)
	}

	n.logger.Info("push subscription registered", zap.String("endpoint", endpointPreview(payload.Endpoint)))
	return sub, nil
}

// Unsubscribe removes the current subscription on the server and then locally.
// It reports false when there was nothing to remove.
func (n *Negotiator) Unsubscribe(ctx context.Context) (bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !n.env.PushSupported() {
		return false, nil
	}

	reg, err := n.env.Registration(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to look up service worker registration: %w", err)
	}
	if reg == nil || reg.PushManager() == nil {
		return false, nil
	}

	sub, err := reg.PushManager().GetSubscription(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read push subscription: %w", err)
	}
	if sub == nil {
		return false, nil
	}

	if err := n.api.Unregister(ctx, sub.Endpoint()); err != nil {
		return false, newNegotiationError(ErrServerRejected, "server could not remove the subscription", err)
	}

	ok, err := sub.Unsubscribe(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to unsubscribe locally: %w", err)
	}
	return ok, nil
}

func (n *Negotiator) checkPreconditions(ctx context.Context) error {
	if !n.env.PushSupported() {
		return newNegotiationError(ErrUnsupported, "this browser does not support push notifications", nil)
	}

	agent := ua.Parse(n.env.UserAgent())
	local := isLocalhost(n.env.Hostname())

	if local && agent.Name == ua.Edge {
		return newNegotiationError(ErrUnsupported, "Microsoft Edge does not deliver push notifications to localhost; use Chrome or Firefox for local testing", nil)
	}
	if !n.env.SecureContext() {
		if agent.Mobile || agent.Tablet {
			return newNegotiationError(ErrInsecureTransport, "push notifications on mobile require HTTPS; open the site over https", nil)
		}
		if local {
			n.logger.Warn("negotiating push subscription over plain http on localhost")
		}
	}

	switch n.env.Permission() {
	case PermissionGranted:
		return nil
	case PermissionDenied:
		return newNegotiationError(ErrPermissionDenied, "notifications are blocked; allow them in the browser site settings", nil)
	}

	permission, err := n.env.RequestPermission(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newNegotiationError(ErrPermissionDenied, "notification permission request failed", err)
	}
	if permission != PermissionGranted {
		return newNegotiationError(ErrPermissionDenied, "notification permission was not granted", nil)
	}
	return nil
}

func (n *Negotiator) fetchServerKey(ctx context.Context) ([]byte, error) {
	encoded, err := n.api.PublicKey(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newNegotiationError(ErrInvalidServerKey, "could not fetch the server public key", err)
	}

	rawKey, err := ToRawKey(encoded)
	if err != nil {
		return nil, newNegotiationError(ErrInvalidServerKey, "server public key is malformed", err)
	}
	return rawKey, nil
}

// clearExisting drops any subscription left over from earlier sessions so a stale
// key pairing cannot make the platform abort the subscribe call.
func (n *Negotiator) clearExisting(ctx context.Context, pm PushManager) error {
	existing, err := pm.GetSubscription(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n.logger.Debug("could not read existing subscription", zap.Error(err))
		return nil
	}
	if existing == nil {
		return nil
	}

	if _, err := existing.Unsubscribe(ctx); err != nil {
		n.logger.Debug("failed to remove existing subscription", zap.Error(err))
	}
	return n.sleep(ctx, n.cfg.SettleDelay)
}

func (n *Negotiator) subscribeWithRetry(ctx context.Context, reg Registration, rawKey []byte) (PushSubscription, error) {
	var lastErr error
	maxAttempts := n.cfg.MaxSubscribeAttempts

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if n.env.Permission() != PermissionGranted {
			return nil, newNegotiationError(ErrPermissionDenied, "notification permission was revoked during subscription", nil)
		}

		if reg.Active() == nil {
			refreshed, err := n.monitor.WaitReady(ctx)
			if err != nil {
				return nil, err
			}
			reg = refreshed
		}

		pm := reg.PushManager()
		if pm == nil {
			lastErr = ErrPlatformInvalidState
			if attempt < maxAttempts {
				if err := n.backoffAfterFailure(ctx, attempt); err != nil {
					return nil, err
				}
			}
			continue
		}

		if err := reg.Active().PostMessage(MessagePushReadyCheck); err != nil {
			n.logger.Debug("ready-check message failed", zap.Error(err))
		}
		if err := n.clearExisting(ctx, pm); err != nil {
			return nil, err
		}

		sub, err := pm.Subscribe(ctx, SubscribeOptions{UserVisibleOnly: true, ApplicationServerKey: rawKey})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			n.logger.Warn("push subscribe attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", maxAttempts),
				zap.Error(err),
			)
			if attempt < maxAttempts {
				if err := n.backoffAfterFailure(ctx, attempt); err != nil {
					return nil, err
				}
			}
			continue
		}

		if sub == nil || len(sub.Key(keyP256dh)) == 0 || len(sub.Key(keyAuth)) == 0 || strings.TrimSpace(sub.Endpoint()) == "" {
			lastErr = errMissingKeys
			n.logger.Warn("push subscription without keys discarded", zap.Int("attempt", attempt))
			if sub != nil {
				if _, err := sub.Unsubscribe(ctx); err != nil {
					n.logger.Debug("failed to discard incomplete subscription", zap.Error(err))
				}
			}
			if attempt < maxAttempts {
				if err := n.sleep(ctx, time.Duration(attempt)*n.cfg.MissingKeysDelay); err != nil {
					return nil, err
				}
			}
			continue
		}

		return sub, nil
	}

	return nil, classifySubscribeFailure(lastErr, maxAttempts)
}

func (n *Negotiator) backoffAfterFailure(ctx context.Context, attempt int) error {
	return n.sleep(ctx, time.Duration(attempt+1)*n.cfg.RetryBaseDelay)
}

func classifySubscribeFailure(err error, attempts int) error {
	switch {
	case errors.Is(err, ErrPlatformAbort):
		return newNegotiationError(ErrSubscribeAborted,
			"the browser could not reach its push service; check your network, disable VPNs or ad blockers that filter push traffic, and try again",
			err)
	case errors.Is(err, ErrPlatformNotAllowed):
		return newNegotiationError(ErrPermissionDenied, "the browser refused the subscription; allow notifications for this site", err)
	case errors.Is(err, ErrPlatformInvalidState):
		return newNegotiationError(ErrWorkerNotReady, "service worker is not in a state that can subscribe; reload the page and try again", err)
	case errors.Is(err, errMissingKeys):
		return newNegotiationError(ErrSubscribeAborted, "the push service returned subscriptions without encryption keys", err)
	default:
		return newNegotiationError(ErrSubscribeAborted, fmt.Sprintf("subscription failed after %d attempts", attempts), err)
	}
}

func serverRejectedMessage(err error) string {
	var serverErr *ServerError
	if errors.As(err, &serverErr) && serverErr.Message != "" {
		return serverErr.Message
	}
	return "server did not accept the subscription"
}

// Serialize renders a subscription as the JSON document the server stores.
func Serialize(sub PushSubscription) SubscriptionPayload {
	return SubscriptionPayload{
		Endpoint: sub.Endpoint(),
		Keys: SubscriptionKeys{
			P256dh: EncodeKey(sub.Key(keyP256dh)),
			Auth:   EncodeKey(sub.Key(keyAuth)),
		},
	}
}

func isLocalhost(hostname string) bool {
	switch strings.ToLower(strings.TrimSpace(hostname)) {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}

func endpointPreview(endpoint string) string {
	if len(endpoint) <= 50 {
		return endpoint
	}
	return endpoint[:50] + "..."
}
