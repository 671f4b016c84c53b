// Package logger owns the process-wide zap logger. Error-level entries are
// forwarded to Sentry when a DSN is configured.
package logger

import (
	"context"
	"sync"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu           sync.RWMutex
	log          = zap.NewNop()
	sentryClient *sentry.Client
)

// Config holds logger configuration.
type Config struct {
	Debug           bool
	Level           string // overrides the default info level unless Debug is set
	SentryDSN       string
	SentryClient    *sentry.Client
	BreadcrumbLevel zapcore.Level
	Tags            map[string]string
}

// Initialize builds the global logger. Until it is called every helper logs
// to a no-op logger.
func Initialize(cfg Config) error {
	var zapConfig zap.Config
	if cfg.Debug {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zapConfig = zap.NewProductionConfig()
		level := zapcore.InfoLevel
		if cfg.Level != "" {
			parsed, err := zapcore.ParseLevel(cfg.Level)
			if err != nil {
				return err
			}
			level = parsed
		}
		zapConfig.Level = zap.NewAtomicLevelAt(level)
	}

	base, err := zapConfig.Build()
	if err != nil {
		return err
	}

	built, client, err := attachSentry(base, cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	log = built
	sentryClient = client
	mu.Unlock()
	return nil
}

func attachSentry(base *zap.Logger, cfg Config) (*zap.Logger, *sentry.Client, error) {
	if cfg.SentryDSN == "" && cfg.SentryClient == nil {
		return base, nil, nil
	}

	client := cfg.SentryClient
	if client == nil {
		var err error
		client, err = sentry.NewClient(sentry.ClientOptions{
			Dsn:   cfg.SentryDSN,
			Debug: cfg.Debug,
		})
		if err != nil {
			return nil, nil, err
		}
	}

	breadcrumbLevel := cfg.BreadcrumbLevel
	if breadcrumbLevel == zapcore.InvalidLevel {
		breadcrumbLevel = zapcore.InfoLevel
	}

	core, err := zapsentry.NewCore(zapsentry.Configuration{
		Level:             zapcore.ErrorLevel,
		EnableBreadcrumbs: true,
		BreadcrumbLevel:   breadcrumbLevel,
		Tags:              cfg.Tags,
	}, zapsentry.NewSentryClientFromClient(client))
	if err != nil {
		return nil, nil, err
	}
	return zapsentry.AttachCoreToLogger(core, base), client, nil
}

// Replace swaps the global logger, e.g. for an observer in tests.
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	log = l
	mu.Unlock()
}

// Flush syncs the logger and flushes buffered Sentry events.
func Flush(timeout time.Duration) {
	mu.RLock()
	l, client := log, sentryClient
	mu.RUnlock()
	_ = l.Sync()
	if client != nil {
		client.Flush(timeout)
	}
}

// Default returns the global logger.
func Default() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// FromContext returns the global logger scoped to the Sentry hub in ctx.
func FromContext(ctx context.Context) *zap.Logger {
	l := Default()
	if ctx == nil {
		return l
	}
	return l.With(zapsentry.Context(ctx))
}

func Info(msg string, fields ...zap.Field) { Default().Info(msg, fields...) }

func InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) { Default().Warn(msg, fields...) }

func WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Warn(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) { Default().Debug(msg, fields...) }

func DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Debug(msg, fields...)
}

// Error logs err as the message.
func Error(err error, fields ...zap.Field) {
	Default().Error(errMessage(err), fields...)
}

// ErrorCtx logs err as the message with the Sentry scope from ctx.
func ErrorCtx(ctx context.Context, err error, fields ...zap.Field) {
	FromContext(ctx).Error(errMessage(err), fields...)
}

// Fatal logs and exits.
func Fatal(msg string, fields ...zap.Field) { Default().Fatal(msg, fields...) }

func errMessage(err error) string {
	if err == nil {
		return "error occurred"
	}
	return err.Error()
}
