package observability

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CorrelationHeader carries the request id between the API, the broker and the logs.
const CorrelationHeader = "X-Request-ID"

type logScopeKey struct{}

// logScope is the request or job scoped logging state stored on a context.
type logScope struct {
	correlationID string
	fields        []zap.Field
}

func scopeFrom(ctx context.Context) logScope {
	if ctx == nil {
		return logScope{}
	}
	scope, _ := ctx.Value(logScopeKey{}).(logScope)
	return scope
}

func withScope(ctx context.Context, scope logScope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, logScopeKey{}, scope)
}

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	scope := scopeFrom(ctx)
	scope.correlationID = strings.TrimSpace(correlationID)
	return withScope(ctx, scope)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id := scopeFrom(ctx).correlationID
	return id, id != ""
}

// WithLogFields attaches fields that every WithContextLogger call on ctx will carry.
func WithLogFields(ctx context.Context, fields ...zap.Field) context.Context {
	scope := scopeFrom(ctx)
	merged := make([]zap.Field, 0, len(scope.fields)+len(fields))
	merged = append(merged, scope.fields...)
	scope.fields = append(merged, fields...)
	return withScope(ctx, scope)
}

// WithContextLogger decorates logger with the correlation id and fields found in ctx.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}

	scope := scopeFrom(ctx)
	if scope.correlationID == "" && len(scope.fields) == 0 {
		return logger
	}

	fields := scope.fields
	if scope.correlationID != "" {
		fields = append([]zap.Field{zap.String("correlationId", scope.correlationID)}, fields...)
	}
	return logger.With(fields...)
}

// CorrelationMiddleware reuses the inbound X-Request-ID or generates one, echoes it back
// and stores it on the request's user context.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(CorrelationHeader))
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(CorrelationHeader, id)
		c.SetUserContext(WithCorrelationID(c.UserContext(), id))
		return c.Next()
	}
}
