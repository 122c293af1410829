package pushclient

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"sync"
	"testing"
	"time"
)

const (
	desktopChromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	androidChromeUA = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"
	edgeUA          = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0"
)

type fakeEnv struct {
	mu sync.Mutex

	supported  bool
	secure     bool
	userAgent  string
	hostname   string
	permission Permission

	requestPermissionFn func(ctx context.Context) (Permission, error)
	registrationFn      func(ctx context.Context) (Registration, error)

	permissionRequests int
	registrationCalls  int
}

var _ Environment = (*fakeEnv)(nil)

func newReadyEnv(reg Registration) *fakeEnv {
	return &fakeEnv{
		supported:  true,
		secure:     true,
		userAgent:  desktopChromeUA,
		hostname:   "shop.example.com",
		permission: PermissionGranted,
		registrationFn: func(ctx context.Context) (Registration, error) {
			return reg, nil
		},
	}
}

func (e *fakeEnv) PushSupported() bool { return e.supported }
func (e *fakeEnv) SecureContext() bool { return e.secure }
func (e *fakeEnv) UserAgent() string { return e.userAgent }
func (e *fakeEnv) Hostname() string { return e.hostname }

func (e *fakeEnv) Permission() Permission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.permission
}

func (e *fakeEnv) setPermission(p Permission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.permission = p
}

func (e *fakeEnv) RequestPermission(ctx context.Context) (Permission, error) {
	e.mu.Lock()
	e.permissionRequests++
	fn := e.requestPermissionFn
	e.mu.Unlock()

	if fn == nil {
		return PermissionDefault, nil
	}
	p, err := fn(ctx)
	if err == nil {
		e.setPermission(p)
	}
	return p, err
}

func (e *fakeEnv) Registration(ctx context.Context) (Registration, error) {
	e.mu.Lock()
	e.registrationCalls++
	fn := e.registrationFn
	e.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(ctx)
}

func (e *fakeEnv) registrations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registrationCalls
}

type fakeRegistration struct {
	installing Worker
	waiting    Worker
	active     Worker
	pm         PushManager
}

func (r *fakeRegistration) Installing() Worker { return r.installing }
func (r *fakeRegistration) Waiting() Worker { return r.waiting }
func (r *fakeRegistration) Active() Worker { return r.active }
func (r *fakeRegistration) PushManager() PushManager { return r.pm }

type fakeWorker struct {
	mu       sync.Mutex
	state    WorkerState
	messages []ControlMessage
	events   chan WorkerState
}

func newFakeWorker(state WorkerState) *fakeWorker {
	return &fakeWorker{state: state, events: make(chan WorkerState, 4)}
}

func (w *fakeWorker) State() WorkerState { return w.state }

func (w *fakeWorker) PostMessage(msg ControlMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msg)
	return nil
}

func (w *fakeWorker) StateChanges() <-chan WorkerState { return w.events }

func (w *fakeWorker) received(msg ControlMessage) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := 0
	for _, m := range w.messages {
		if m == msg {
			count++
		}
	}
	return count
}

type fakePushManager struct {
	mu sync.Mutex

	current     PushSubscription
	getErr      error
	subscribeFn func(call int, opts SubscribeOptions) (PushSubscription, error)

	getCalls       int
	subscribeCalls int
	lastOptions    SubscribeOptions
}

func (p *fakePushManager) GetSubscription(ctx context.Context) (PushSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getCalls++
	if p.getErr != nil {
		return nil, p.getErr
	}
	return p.current, nil
}

func (p *fakePushManager) Subscribe(ctx context.Context, opts SubscribeOptions) (PushSubscription, error) {
	p.mu.Lock()
	p.subscribeCalls++
	call := p.subscribeCalls
	p.lastOptions = opts
	fn := p.subscribeFn
	p.mu.Unlock()

	var (
		sub PushSubscription
		err error
	)
	if fn != nil {
		sub, err = fn(call, opts)
	} else {
		sub = newFakeSubscription(p, "https://fcm.googleapis.com/fcm/send/endpoint-1", true)
	}
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.current = sub
	p.mu.Unlock()
	return sub, nil
}

func (p *fakePushManager) clear(sub PushSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == sub {
		p.current = nil
	}
}

func (p *fakePushManager) subscribes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.subscribeCalls
}

type fakeSubscription struct {
	mu           sync.Mutex
	pm           *fakePushManager
	endpoint     string
	keys         map[string][]byte
	unsubscribed int
}

func newFakeSubscription(pm *fakePushManager, endpoint string, withKeys bool) *fakeSubscription {
	s := &fakeSubscription{pm: pm, endpoint: endpoint, keys: map[string][]byte{}}
	if withKeys {
		s.keys[keyP256dh] = mustPublicKey()
		auth := make([]byte, 16)
		_, _ = rand.Read(auth)
		s.keys[keyAuth] = auth
	}
	return s
}

func (s *fakeSubscription) Endpoint() string { return s.endpoint }

func (s *fakeSubscription) Key(name string) []byte { return s.keys[name] }

func (s *fakeSubscription) Unsubscribe(ctx context.Context) (bool, error) {
	s.mu.Lock()
	s.unsubscribed++
	s.mu.Unlock()
	if s.pm != nil {
		s.pm.clear(s)
	}
	return true, nil
}

func (s *fakeSubscription) unsubscribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}

type fakeServerAPI struct {
	mu sync.Mutex

	publicKey    string
	publicKeyFn  func(ctx context.Context) (string, error)
	registerErr  error
	unregistered []string
	registered   []SubscriptionPayload
}

var _ ServerAPI = (*fakeServerAPI)(nil)

func (a *fakeServerAPI) PublicKey(ctx context.Context) (string, error) {
	if a.publicKeyFn != nil {
		return a.publicKeyFn(ctx)
	}
	return a.publicKey, nil
}

func (a *fakeServerAPI) Register(ctx context.Context, sub SubscriptionPayload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.registerErr != nil {
		return a.registerErr
	}
	a.registered = append(a.registered, sub)
	return nil
}

func (a *fakeServerAPI) Unregister(ctx context.Context, endpoint string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unregistered = append(a.unregistered, endpoint)
	return nil
}

func (a *fakeServerAPI) registrations() []SubscriptionPayload {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]SubscriptionPayload(nil), a.registered...)
}

func mustPublicKey() []byte {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		panic(err)
	}
	return key.PublicKey().Bytes()
}

func validServerKey(t *testing.T) string {
	t.Helper()
	return EncodeKey(mustPublicKey())
}

// recordingSleep replaces real waits so retry loops run instantly.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}
