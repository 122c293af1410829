package pushclient

import "context"

// Permission mirrors the browser notification permission states.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// WorkerState is the lifecycle state a service worker reports.
type WorkerState string

const (
	WorkerInstalling WorkerState = "installing"
	WorkerInstalled  WorkerState = "installed"
	WorkerActivating WorkerState = "activating"
	WorkerActivated  WorkerState = "activated"
	WorkerRedundant  WorkerState = "redundant"
)

// ControlMessage is posted to the service worker.
type ControlMessage struct {
	Type string `json:"type"`
}

var (
	MessageSkipWaiting    = ControlMessage{Type: "SKIP_WAITING"}
	MessagePushReadyCheck = ControlMessage{Type: "PUSH_READY_CHECK"}
)

// Environment is the runtime the negotiation happens in, typically a browser bridge.
type Environment interface {
	PushSupported() bool
	SecureContext() bool
	UserAgent() string
	Hostname() string
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	// Registration returns nil without error when no worker is registered yet.
	Registration(ctx context.Context) (Registration, error)
}

// Registration is a service worker registration snapshot.
type Registration interface {
	Installing() Worker
	Waiting() Worker
	Active() Worker
	// PushManager is the capability handle; nil until the platform populates it.
	PushManager() PushManager
}

// Worker is a single service worker instance.
type Worker interface {
	State() WorkerState
	PostMessage(msg ControlMessage) error
	// StateChanges delivers lifecycle transitions; the channel may never fire on some platforms.
	StateChanges() <-chan WorkerState
}

// SubscribeOptions are passed to PushManager.Subscribe.
type SubscribeOptions struct {
	UserVisibleOnly      bool
	ApplicationServerKey []byte
}

// PushManager is the worker-scoped capability handle.
type PushManager interface {
	GetSubscription(ctx context.Context) (PushSubscription, error)
	Subscribe(ctx context.Context, opts SubscribeOptions) (PushSubscription, error)
}

// PushSubscription is a live browser push subscription.
type PushSubscription interface {
	Endpoint() string
	// Key returns raw key material for "p256dh" or "auth", nil when absent.
	Key(name string) []byte
	Unsubscribe(ctx context.Context) (bool, error)
}
