package observability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

const sentryFlushTimeout = 2 * time.Second

// InitSentry enables error reporting when dsn is set. The returned flush must run before exit.
func InitSentry(dsn, environment, release string) (func(), error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return func() {}, nil
	}

	if _, err := sentry.NewDsn(dsn); err != nil {
		return nil, fmt.Errorf("invalid sentry dsn: %w", err)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return func() { sentry.Flush(sentryFlushTimeout) }, nil
}

// CaptureError reports err with the correlation id found in ctx. It is a no-op before InitSentry.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		hub.Scope().SetTag("correlationId", correlationID)
	}
	hub.CaptureException(err)
}
