package logger

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap.Logger to the ports.Logger field-map interface.
type ZapLogger struct {
	base *zap.Logger
}

// Options selects the zap level and encoder.
type Options struct {
	Level   string
	Format  string
	Verbose bool
}

// NewZap builds a production zap logger writing to stderr.
// Verbose forces the debug level regardless of the configured one.
func NewZap(opts Options) (*ZapLogger, error) {
	config := zap.NewProductionConfig()
	if opts.Format == "console" {
		config = zap.NewDevelopmentConfig()
	}
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	level, err := zapcore.ParseLevel(levelOr(opts.Level))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	if opts.Verbose {
		level = zapcore.DebugLevel
	}
	config.Level = zap.NewAtomicLevelAt(level)

	base, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &ZapLogger{base: base}, nil
}

// NewZapFrom wraps an existing zap logger.
func NewZapFrom(base *zap.Logger) *ZapLogger {
	return &ZapLogger{base: base}
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, err error, fields map[string]interface{}) {
	l.base.Error(msg, append(toZapFields(fields), zap.Error(err))...)
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		switch value := fields[key].(type) {
		case string:
			out = append(out, zap.String(key, value))
		case int:
			out = append(out, zap.Int(key, value))
		case int64:
			out = append(out, zap.Int64(key, value))
		case bool:
			out = append(out, zap.Bool(key, value))
		case error:
			out = append(out, zap.NamedError(key, value))
		default:
			out = append(out, zap.Any(key, value))
		}
	}
	return out
}

func levelOr(level string) string {
	if level == "" {
		return "info"
	}
	return level
}
