package pushclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestMonitor(t *testing.T, env Environment, cfg ActivationConfig) (*ActivationMonitor, *recordingSleep) {
	t.Helper()

	if cfg.Delay == 0 {
		cfg.Delay = time.Millisecond
	}
	m, err := NewActivationMonitor(env, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewActivationMonitor() error = %v", err)
	}
	rec := &recordingSleep{}
	m.sleep = rec.sleep
	return m, rec
}

func TestObserve(t *testing.T) {
	t.Parallel()

	pm := &fakePushManager{}
	tests := []struct {
		name string
		reg  Registration
		want ActivationState
	}{
		{name: "nil registration", reg: nil, want: StateNoRegistration},
		{name: "empty registration", reg: &fakeRegistration{}, want: StateNoRegistration},
		{name: "installing", reg: &fakeRegistration{installing: newFakeWorker(WorkerInstalling)}, want: StateInstalling},
		{name: "waiting", reg: &fakeRegistration{waiting: newFakeWorker(WorkerInstalled)}, want: StateWaiting},
		{name: "active without push manager", reg: &fakeRegistration{active: newFakeWorker(WorkerActivated)}, want: StateActiveNoPushManager},
		{name: "active with push manager", reg: &fakeRegistration{active: newFakeWorker(WorkerActivated), pm: pm}, want: StateReady},
		{name: "active wins over waiting", reg: &fakeRegistration{active: newFakeWorker(WorkerActivated), waiting: newFakeWorker(WorkerInstalled), pm: pm}, want: StateReady},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Observe(tt.reg); got != tt.want {
				t.Fatalf("Observe() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestWaitReadyImmediatelyReady(t *testing.T) {
	t.Parallel()

	active := newFakeWorker(WorkerActivated)
	pm := &fakePushManager{}
	reg := &fakeRegistration{active: active, pm: pm}
	env := newReadyEnv(reg)

	m, rec := newTestMonitor(t, env, ActivationConfig{SettleDelay: 500 * time.Millisecond})

	got, err := m.WaitReady(context.Background())
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if got != reg {
		t.Fatal("WaitReady() returned a different registration")
	}
	if pm.getCalls != 1 {
		t.Fatalf("probe calls = %d, want 1", pm.getCalls)
	}
	if n := active.received(MessagePushReadyCheck); n != 1 {
		t.Fatalf("PUSH_READY_CHECK messages = %d, want 1", n)
	}
	if waits := rec.durations(); len(waits) != 1 || waits[0] != 500*time.Millisecond {
		t.Fatalf("waits = %v, want single settle delay", waits)
	}
}

func TestWaitReadyPromotesWaitingWorker(t *testing.T) {
	t.Parallel()

	waiting := newFakeWorker(WorkerInstalled)
	pm := &fakePushManager{}
	stalled := &fakeRegistration{waiting: waiting}
	ready := &fakeRegistration{active: newFakeWorker(WorkerActivated), pm: pm}

	calls := 0
	env := newReadyEnv(nil)
	env.registrationFn = func(ctx context.Context) (Registration, error) {
		calls++
		if calls == 1 {
			return stalled, nil
		}
		return ready, nil
	}

	m, rec := newTestMonitor(t, env, ActivationConfig{Delay: 10 * time.Millisecond})

	got, err := m.WaitReady(context.Background())
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if got != ready {
		t.Fatal("expected the promoted registration")
	}
	if n := waiting.received(MessageSkipWaiting); n != 1 {
		t.Fatalf("SKIP_WAITING messages = %d, want 1", n)
	}
	if waits := rec.durations(); len(waits) == 0 || waits[0] != 20*time.Millisecond {
		t.Fatalf("first wait = %v, want 2x delay", waits)
	}
}

func TestWaitReadyFollowsInstallingWorkerEvents(t *testing.T) {
	t.Parallel()

	installing := newFakeWorker(WorkerInstalling)
	installing.events <- WorkerInstalled
	installing.events <- WorkerActivated

	pm := &fakePushManager{}
	ready := &fakeRegistration{active: newFakeWorker(WorkerActivated), pm: pm}

	calls := 0
	env := newReadyEnv(nil)
	env.registrationFn = func(ctx context.Context) (Registration, error) {
		calls++
		if calls == 1 {
			return &fakeRegistration{installing: installing}, nil
		}
		return ready, nil
	}

	// A long safety timeout proves the event, not the timer, ended the wait.
	m, _ := newTestMonitor(t, env, ActivationConfig{Delay: time.Hour})

	start := time.Now()
	got, err := m.WaitReady(context.Background())
	if err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if got != ready {
		t.Fatal("expected ready registration")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("WaitReady() took %v, event should have ended the install wait", elapsed)
	}
}

func TestWaitReadyInstallingSafetyTimeout(t *testing.T) {
	t.Parallel()

	silent := newFakeWorker(WorkerInstalling)
	pm := &fakePushManager{}
	ready := &fakeRegistration{active: newFakeWorker(WorkerActivated), pm: pm}

	calls := 0
	env := newReadyEnv(nil)
	env.registrationFn = func(ctx context.Context) (Registration, error) {
		calls++
		if calls == 1 {
			return &fakeRegistration{installing: silent}, nil
		}
		return ready, nil
	}

	m, _ := newTestMonitor(t, env, ActivationConfig{Delay: time.Millisecond})

	if _, err := m.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if calls != 2 {
		t.Fatalf("registration lookups = %d, want 2", calls)
	}
}

func TestWaitReadyRetriesUntilPushManagerAppears(t *testing.T) {
	t.Parallel()

	active := newFakeWorker(WorkerActivated)
	reg := &fakeRegistration{active: active}
	pm := &fakePushManager{}

	calls := 0
	env := newReadyEnv(nil)
	env.registrationFn = func(ctx context.Context) (Registration, error) {
		calls++
		if calls == 3 {
			reg.pm = pm
		}
		return reg, nil
	}

	m, rec := newTestMonitor(t, env, ActivationConfig{Delay: 100 * time.Millisecond, ProgressiveStep: 10 * time.Millisecond})

	if _, err := m.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}

	waits := rec.durations()
	if len(waits) < 2 {
		t.Fatalf("waits = %v, want progressive backoff before readiness", waits)
	}
	if waits[0] != 100*time.Millisecond || waits[1] != 110*time.Millisecond {
		t.Fatalf("backoff = %v, want [100ms 110ms ...]", waits[:2])
	}
}

func TestWaitReadyRetriesFailedProbe(t *testing.T) {
	t.Parallel()

	pm := &fakePushManager{getErr: errors.New("push service not ready")}
	reg := &fakeRegistration{active: newFakeWorker(WorkerActivated), pm: pm}

	calls := 0
	env := newReadyEnv(nil)
	env.registrationFn = func(ctx context.Context) (Registration, error) {
		calls++
		if calls == 2 {
			pm.mu.Lock()
			pm.getErr = nil
			pm.mu.Unlock()
		}
		return reg, nil
	}

	m, _ := newTestMonitor(t, env, ActivationConfig{})

	if _, err := m.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady() error = %v", err)
	}
	if pm.getCalls != 2 {
		t.Fatalf("probe calls = %d, want 2", pm.getCalls)
	}
}

func TestWaitReadyExhaustsBudget(t *testing.T) {
	t.Parallel()

	env := newReadyEnv(&fakeRegistration{active: newFakeWorker(WorkerActivated)})
	m, _ := newTestMonitor(t, env, ActivationConfig{MaxAttempts: 4})

	_, err := m.WaitReady(context.Background())
	if !errors.Is(err, ErrWorkerNotReady) {
		t.Fatalf("WaitReady() error = %v, want ErrWorkerNotReady", err)
	}
	if env.registrations() != 4 {
		t.Fatalf("registration lookups = %d, want 4", env.registrations())
	}

	var negErr *NegotiationError
	if !errors.As(err, &negErr) || negErr.Message == "" {
		t.Fatalf("expected remediation message, got %v", err)
	}
}

func TestWaitReadyHonoursCancellation(t *testing.T) {
	t.Parallel()

	env := newReadyEnv(nil)
	ctx, cancel := context.WithCancel(context.Background())
	env.registrationFn = func(context.Context) (Registration, error) {
		cancel()
		return nil, nil
	}

	m, _ := newTestMonitor(t, env, ActivationConfig{})

	_, err := m.WaitReady(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitReady() error = %v, want context.Canceled", err)
	}
}
