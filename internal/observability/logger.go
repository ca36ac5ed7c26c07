package observability

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	correlationIDKey struct{}
	logFieldsKey     struct{}
)

const correlationIDLocal = "correlationId"

// NewLogger builds the JSON production logger shared by the api and worker
// binaries. Every entry carries the emitting service name.
func NewLogger(level string, service string) (*zap.Logger, error) {
	parsedLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parsedLevel)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if service = strings.TrimSpace(service); service != "" {
		logger = logger.With(zap.String("service", service))
	}

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var parsed zapcore.Level
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		normalized = "info"
	}

	if err := parsed.UnmarshalText([]byte(normalized)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	return parsed, nil
}

// Field helpers keep key names identical across the api, the worker and the
// gorm adapter so log queries can join on them.
func CorrelationID(id string) zap.Field { return zap.String("correlationId", id) }
func EmailID(id string) zap.Field { return zap.String("emailId", id) }
func EmailKind(kind string) zap.Field { return zap.String("kind", kind) }
func Policy(name string) zap.Field { return zap.String("policy", name) }
func Attempt(n int) zap.Field { return zap.Int("attempt", n) }

func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}

	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	if !ok || correlationID == "" {
		return "", false
	}

	return correlationID, true
}

// WithLogFields attaches fields that ContextLogger adds to every entry logged
// under ctx, including the SQL traces of repository calls made with it.
func WithLogFields(ctx context.Context, fields ...zap.Field) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(fields) == 0 {
		return ctx
	}

	existing, _ := ctx.Value(logFieldsKey{}).([]zap.Field)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, logFieldsKey{}, merged)
}

// ContextLogger returns logger enriched with the correlation id and any
// fields stored on ctx. A nil logger stays nil.
func ContextLogger(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if logger == nil || ctx == nil {
		return logger
	}

	fields, _ := ctx.Value(logFieldsKey{}).([]zap.Field)
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		fields = append([]zap.Field{CorrelationID(correlationID)}, fields...)
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}

// CorrelationMiddleware takes the correlation id from X-Request-ID or mints
// one, echoes it on the response and stores it in fiber locals.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		correlationID := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if correlationID == "" {
			correlationID = uuid.NewString()
		}

		c.Locals(correlationIDLocal, correlationID)
		c.Set(fiber.HeaderXRequestID, correlationID)
		return c.Next()
	}
}

// CorrelationIDFromFiber returns the id stored by CorrelationMiddleware.
func CorrelationIDFromFiber(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if value, ok := c.Locals(correlationIDLocal).(string); ok {
		return value
	}
	return strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
}
