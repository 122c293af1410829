package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrGone matches failures where the push service dropped the subscription.
	ErrGone = errors.New("push subscription gone")
	// ErrTransient matches failures worth retrying later.
	ErrTransient = errors.New("push service temporarily unavailable")
)

// Kind is the retry class of a failed send.
type Kind int

const (
	KindPermanent Kind = iota
	KindTransient
	KindGone
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindGone:
		return "gone"
	default:
		return "permanent"
	}
}

// SendError is returned by Send for every failure after the subscription was validated.
type SendError struct {
	Kind       Kind
	StatusCode int
	// Detail is the push service response body or a short description of a local failure.
	Detail string
	Err    error
}

func (e *SendError) Error() string {
	msg := "push send failed (" + e.Kind.String() + ")"
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SendError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrGone and ErrTransient by kind.
func (e *SendError) Is(target error) bool {
	switch target {
	case ErrGone:
		return e.Kind == KindGone
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsGone reports whether the push service says the subscription expired or was revoked.
func IsGone(err error) bool {
	return errors.Is(err, ErrGone)
}

// kindForStatus maps a non-2xx push service status to a retry class. 404 and 410 both mean
// the endpoint will never accept messages again.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusNotFound, status == http.StatusGone:
		return KindGone
	case status == http.StatusTooManyRequests, status >= http.StatusInternalServerError:
		return KindTransient
	default:
		return KindPermanent
	}
}
