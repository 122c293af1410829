package pushclient

import (
	"errors"
	"fmt"
	"strings"
)

// Negotiation failure kinds. Match them with errors.Is.
var (
	ErrUnsupported           = errors.New("push notifications unsupported")
	ErrInsecureTransport     = errors.New("insecure transport")
	ErrPermissionDenied      = errors.New("notification permission denied")
	ErrWorkerNotReady        = errors.New("service worker not ready")
	ErrInvalidServerKey      = errors.New("invalid application server key")
	ErrSubscribeAborted      = errors.New("push subscription aborted")
	ErrServerRejected        = errors.New("server rejected subscription")
	ErrNegotiationInProgress = errors.New("negotiation already in progress")
)

// ErrInvalidKey is returned by ToRawKey.
var ErrInvalidKey = errors.New("invalid key")

// Platform failures a PushManager.Subscribe implementation reports.
var (
	ErrPlatformAbort        = errors.New("AbortError")
	ErrPlatformNotAllowed   = errors.New("NotAllowedError")
	ErrPlatformInvalidState = errors.New("InvalidStateError")
)

// NegotiationError carries a remediation-oriented message for the user alongside its kind.
type NegotiationError struct {
	Kind    error
	Message string
	Cause   error
}

func newNegotiationError(kind error, message string, cause error) *NegotiationError {
	return &NegotiationError{Kind: kind, Message: message, Cause: cause}
}

func (e *NegotiationError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	if e.Kind != nil {
		parts = append(parts, e.Kind.Error())
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *NegotiationError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// ServerError is a non-2xx answer from the push API.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}
