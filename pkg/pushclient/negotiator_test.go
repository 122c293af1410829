package pushclient

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestNegotiator(t *testing.T, env *fakeEnv, api *fakeServerAPI, cfg NegotiatorConfig) (*Negotiator, *recordingSleep) {
	t.Helper()

	if cfg.Activation.Delay == 0 {
		cfg.Activation.Delay = time.Millisecond
	}
	n, err := NewNegotiator(env, api, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNegotiator() error = %v", err)
	}

	rec := &recordingSleep{}
	n.sleep = rec.sleep
	n.monitor.(*ActivationMonitor).sleep = (&recordingSleep{}).sleep
	return n, rec
}

func newReadyRegistration() (*fakeRegistration, *fakePushManager, *fakeWorker) {
	active := newFakeWorker(WorkerActivated)
	pm := &fakePushManager{}
	return &fakeRegistration{active: active, pm: pm}, pm, active
}

func assertKind(t *testing.T, err error, kind error) *NegotiationError {
	t.Helper()

	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want kind %v", err, kind)
	}
	var negErr *NegotiationError
	if !errors.As(err, &negErr) {
		t.Fatalf("error = %T, want *NegotiationError", err)
	}
	return negErr
}

func TestNegotiatorSubscribeHappyPath(t *testing.T) {
	t.Parallel()

	reg, pm, active := newReadyRegistration()
	env := newReadyEnv(reg)
	serverKey := mustPublicKey()
	api := &fakeServerAPI{publicKey: EncodeKey(serverKey)}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	sub, err := n.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub == nil {
		t.Fatal("Subscribe() returned nil subscription")
	}

	if !pm.lastOptions.UserVisibleOnly {
		t.Fatal("subscribe must request user-visible pushes")
	}
	if !bytes.Equal(pm.lastOptions.ApplicationServerKey, serverKey) {
		t.Fatal("subscribe must use the decoded server key")
	}
	if active.received(MessagePushReadyCheck) == 0 {
		t.Fatal("expected a ready-check message before subscribing")
	}

	registered := api.registrations()
	if len(registered) != 1 {
		t.Fatalf("server registrations = %d, want 1", len(registered))
	}
	payload := registered[0]
	if payload.Endpoint != "https://fcm.googleapis.com/fcm/send/endpoint-1" {
		t.Fatalf("endpoint = %q", payload.Endpoint)
	}
	if raw, err := ToRawKey(payload.Keys.P256dh); err != nil || len(raw) != RawKeyLength {
		t.Fatalf("p256dh key invalid: %v", err)
	}
	if payload.Keys.Auth == "" || strings.ContainsAny(payload.Keys.Auth, "+/=") {
		t.Fatalf("auth = %q, want base64url without padding", payload.Keys.Auth)
	}
}

func TestNegotiatorPreconditions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(env *fakeEnv)
		want  error
	}{
		{
			name:  "unsupported browser",
			setup: func(env *fakeEnv) { env.supported = false },
			want:  ErrUnsupported,
		},
		{
			name: "edge on localhost",
			setup: func(env *fakeEnv) {
				env.userAgent = edgeUA
				env.hostname = "localhost"
			},
			want: ErrUnsupported,
		},
		{
			name: "insecure mobile",
			setup: func(env *fakeEnv) {
				env.secure = false
				env.userAgent = androidChromeUA
			},
			want: ErrInsecureTransport,
		},
		{
			name:  "permission denied",
			setup: func(env *fakeEnv) { env.permission = PermissionDenied },
			want:  ErrPermissionDenied,
		},
		{
			name: "permission dismissed",
			setup: func(env *fakeEnv) {
				env.permission = PermissionDefault
				env.requestPermissionFn = func(context.Context) (Permission, error) {
					return PermissionDefault, nil
				}
			},
			want: ErrPermissionDenied,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg, pm, _ := newReadyRegistration()
			env := newReadyEnv(reg)
			tt.setup(env)
			api := &fakeServerAPI{publicKey: validServerKey(t)}

			n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

			_, err := n.Subscribe(context.Background())
			negErr := assertKind(t, err, tt.want)
			if negErr.Message == "" {
				t.Fatal("expected a remediation message")
			}
			if env.registrations() != 0 {
				t.Fatalf("registration lookups = %d, want none before preconditions pass", env.registrations())
			}
			if pm.subscribes() != 0 || len(api.registrations()) != 0 {
				t.Fatal("no subscription may be attempted")
			}
		})
	}
}

func TestNegotiatorAllowsInsecureDesktopLocalhost(t *testing.T) {
	t.Parallel()

	reg, _, _ := newReadyRegistration()
	env := newReadyEnv(reg)
	env.secure = false
	env.hostname = "localhost"
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	if _, err := n.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
}

func TestNegotiatorRequestsPermissionOnce(t *testing.T) {
	t.Parallel()

	reg, _, _ := newReadyRegistration()
	env := newReadyEnv(reg)
	env.permission = PermissionDefault
	env.requestPermissionFn = func(context.Context) (Permission, error) {
		return PermissionGranted, nil
	}
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	if _, err := n.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if env.permissionRequests != 1 {
		t.Fatalf("permission requests = %d, want 1", env.permissionRequests)
	}
}

func TestNegotiatorRejectsMalformedServerKey(t *testing.T) {
	t.Parallel()

	reg, pm, _ := newReadyRegistration()
	env := newReadyEnv(reg)
	api := &fakeServerAPI{publicKey: "not-a-key"}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	_, err := n.Subscribe(context.Background())
	assertKind(t, err, ErrInvalidServerKey)
	if !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("error = %v, want wrapped ErrInvalidKey", err)
	}
	if pm.subscribes() != 0 {
		t.Fatal("subscribe must not run with a malformed key")
	}
}

func TestNegotiatorRetriesAbortedSubscribe(t *testing.T) {
	t.Parallel()

	reg, pm, _ := newReadyRegistration()
	pm.subscribeFn = func(call int, opts SubscribeOptions) (PushSubscription, error) {
		if call < 3 {
			return nil, ErrPlatformAbort
		}
		return newFakeSubscription(pm, "https://updates.push.services.mozilla.com/wpush/v2/abc", true), nil
	}
	env := newReadyEnv(reg)
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, rec := newTestNegotiator(t, env, api, NegotiatorConfig{RetryBaseDelay: 100 * time.Millisecond})

	if _, err := n.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if pm.subscribes() != 3 {
		t.Fatalf("subscribe calls = %d, want 3", pm.subscribes())
	}

	waits := rec.durations()
	want := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("waits = %v, want %v", waits, want)
		}
	}
}

func TestNegotiatorClassifiesExhaustedFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		platform error
		want     error
		contains string
	}{
		{name: "abort", platform: ErrPlatformAbort, want: ErrSubscribeAborted, contains: "network"},
		{name: "not allowed", platform: ErrPlatformNotAllowed, want: ErrPermissionDenied, contains: "allow notifications"},
		{name: "invalid state", platform: ErrPlatformInvalidState, want: ErrWorkerNotReady, contains: "reload"},
		{name: "unknown", platform: errors.New("boom"), want: ErrSubscribeAborted, contains: "3 attempts"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg, pm, _ := newReadyRegistration()
			pm.subscribeFn = func(int, SubscribeOptions) (PushSubscription, error) {
				return nil, tt.platform
			}
			env := newReadyEnv(reg)
			api := &fakeServerAPI{publicKey: validServerKey(t)}

			n, rec := newTestNegotiator(t, env, api, NegotiatorConfig{MaxSubscribeAttempts: 3})

			_, err := n.Subscribe(context.Background())
			negErr := assertKind(t, err, tt.want)
			if !errors.Is(err, tt.platform) {
				t.Fatalf("error = %v, want platform cause preserved", err)
			}
			if !strings.Contains(negErr.Message, tt.contains) {
				t.Fatalf("message = %q, want it to mention %q", negErr.Message, tt.contains)
			}
			if pm.subscribes() != 3 {
				t.Fatalf("subscribe calls = %d, want 3", pm.subscribes())
			}
			if got := len(rec.durations()); got != 2 {
				t.Fatalf("backoff waits = %d, want 2", got)
			}
			if len(api.registrations()) != 0 {
				t.Fatal("nothing may reach the server")
			}
		})
	}
}

func TestNegotiatorRetryLosesPushManager(t *testing.T) {
	t.Parallel()

	// The handle can disappear after activation, e.g. when the worker is replaced mid-negotiation.
	reg := &fakeRegistration{active: newFakeWorker(WorkerActivated)}
	env := newReadyEnv(reg)
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, rec := newTestNegotiator(t, env, api, NegotiatorConfig{MaxSubscribeAttempts: 3, RetryBaseDelay: 100 * time.Millisecond})

	_, err := n.subscribeWithRetry(context.Background(), reg, []byte{0x04})
	assertKind(t, err, ErrWorkerNotReady)

	waits := rec.durations()
	want := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond}
	if len(waits) != len(want) || waits[0] != want[0] || waits[1] != want[1] {
		t.Fatalf("waits = %v, want %v", waits, want)
	}
}

func TestNegotiatorDiscardsSubscriptionWithoutKeys(t *testing.T) {
	t.Parallel()

	reg, pm, _ := newReadyRegistration()
	var keyless *fakeSubscription
	pm.subscribeFn = func(call int, opts SubscribeOptions) (PushSubscription, error) {
		if call == 1 {
			keyless = newFakeSubscription(pm, "https://fcm.googleapis.com/fcm/send/keyless", false)
			return keyless, nil
		}
		return newFakeSubscription(pm, "https://fcm.googleapis.com/fcm/send/complete", true), nil
	}
	env := newReadyEnv(reg)
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, rec := newTestNegotiator(t, env, api, NegotiatorConfig{MissingKeysDelay: 250 * time.Millisecond})

	if _, err := n.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if keyless.unsubscribeCount() != 1 {
		t.Fatalf("keyless subscription unsubscribed %d times, want 1", keyless.unsubscribeCount())
	}

	waits := rec.durations()
	if len(waits) != 1 || waits[0] != 250*time.Millisecond {
		t.Fatalf("waits = %v, want [250ms]", waits)
	}

	registered := api.registrations()
	if len(registered) != 1 || registered[0].Endpoint != "https://fcm.googleapis.com/fcm/send/complete" {
		t.Fatalf("registered = %+v, want only the complete subscription", registered)
	}
}

func TestNegotiatorClearsStaleSubscription(t *testing.T) {
	t.Parallel()

	reg, pm, _ := newReadyRegistration()
	stale := newFakeSubscription(pm, "https://fcm.googleapis.com/fcm/send/stale", true)
	pm.current = stale
	env := newReadyEnv(reg)
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, rec := newTestNegotiator(t, env, api, NegotiatorConfig{SettleDelay: 40 * time.Millisecond})

	if _, err := n.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if stale.unsubscribeCount() != 1 {
		t.Fatalf("stale subscription unsubscribed %d times, want 1", stale.unsubscribeCount())
	}
	if waits := rec.durations(); len(waits) != 1 || waits[0] != 40*time.Millisecond {
		t.Fatalf("waits = %v, want one settle delay", waits)
	}
	if got := api.registrations()[0].Endpoint; got == stale.endpoint {
		t.Fatal("stale endpoint must not be registered")
	}
}

func TestNegotiatorServerRejection(t *testing.T) {
	t.Parallel()

	reg, _, _ := newReadyRegistration()
	env := newReadyEnv(reg)
	api := &fakeServerAPI{
		publicKey:   validServerKey(t),
		registerErr: &ServerError{StatusCode: 400, Message: "Invalid subscription object"},
	}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	_, err := n.Subscribe(context.Background())
	negErr := assertKind(t, err, ErrServerRejected)
	if negErr.Message != "Invalid subscription object" {
		t.Fatalf("message = %q, want server message", negErr.Message)
	}

	var serverErr *ServerError
	if !errors.As(err, &serverErr) || serverErr.StatusCode != 400 {
		t.Fatalf("error = %v, want wrapped ServerError", err)
	}
}

func TestNegotiatorStopsWhenPermissionRevoked(t *testing.T) {
	t.Parallel()

	reg, pm, _ := newReadyRegistration()
	env := newReadyEnv(reg)
	pm.subscribeFn = func(int, SubscribeOptions) (PushSubscription, error) {
		env.setPermission(PermissionDenied)
		return nil, ErrPlatformAbort
	}
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	_, err := n.Subscribe(context.Background())
	assertKind(t, err, ErrPermissionDenied)
	if pm.subscribes() != 1 {
		t.Fatalf("subscribe calls = %d, want 1", pm.subscribes())
	}
}

func TestNegotiatorSingleFlight(t *testing.T) {
	t.Parallel()

	reg, pm, _ := newReadyRegistration()
	started := make(chan struct{})
	release := make(chan struct{})
	pm.subscribeFn = func(call int, opts SubscribeOptions) (PushSubscription, error) {
		if call == 1 {
			close(started)
			<-release
		}
		return newFakeSubscription(pm, "https://fcm.googleapis.com/fcm/send/one", true), nil
	}
	env := newReadyEnv(reg)
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := n.Subscribe(context.Background())
		done <- err
	}()

	<-started
	_, err := n.Subscribe(context.Background())
	assertKind(t, err, ErrNegotiationInProgress)

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Subscribe() error = %v", err)
	}
	if len(api.registrations()) != 1 {
		t.Fatalf("server registrations = %d, want 1", len(api.registrations()))
	}

	// The guard is released once the first negotiation finishes.
	if _, err := n.Subscribe(context.Background()); err != nil {
		t.Fatalf("follow-up Subscribe() error = %v", err)
	}
}

func TestNegotiatorCancellation(t *testing.T) {
	t.Parallel()

	reg, pm, _ := newReadyRegistration()
	ctx, cancel := context.WithCancel(context.Background())
	pm.subscribeFn = func(int, SubscribeOptions) (PushSubscription, error) {
		cancel()
		return nil, ErrPlatformAbort
	}
	env := newReadyEnv(reg)
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	_, err := n.Subscribe(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscribe() error = %v, want context.Canceled", err)
	}
	if pm.subscribes() != 1 {
		t.Fatalf("subscribe calls = %d, want 1", pm.subscribes())
	}
}

func TestNegotiatorWallClockBound(t *testing.T) {
	t.Parallel()

	env := newReadyEnv(nil)
	env.registrationFn = func(ctx context.Context) (Registration, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{Timeout: 20 * time.Millisecond})

	_, err := n.Subscribe(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Subscribe() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestNegotiatorUnsubscribe(t *testing.T) {
	t.Parallel()

	reg, pm, _ := newReadyRegistration()
	sub := newFakeSubscription(pm, "https://fcm.googleapis.com/fcm/send/current", true)
	pm.current = sub
	env := newReadyEnv(reg)
	api := &fakeServerAPI{publicKey: validServerKey(t)}

	n, _ := newTestNegotiator(t, env, api, NegotiatorConfig{})

	removed, err := n.Unsubscribe(context.Background())
	if err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if !removed {
		t.Fatal("Unsubscribe() = false, want true")
	}
	if len(api.unregistered) != 1 || api.unregistered[0] != sub.endpoint {
		t.Fatalf("server unregistered = %v", api.unregistered)
	}
	if sub.unsubscribeCount() != 1 {
		t.Fatal("local subscription must be removed")
	}

	removed, err = n.Unsubscribe(context.Background())
	if err != nil || removed {
		t.Fatalf("second Unsubscribe() = %v, %v; want false, nil", removed, err)
	}
}
