package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel selects the minimum level a logger emits.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFormat selects the output encoding.
type LogFormat string

const (
	// JSONFormat emits one JSON object per entry.
	JSONFormat LogFormat = "json"
	// TextFormat emits human-readable console lines.
	TextFormat LogFormat = "text"
)

// Config holds the logger settings.
type Config struct {
	Level  LogLevel
	Format LogFormat
}

// DefaultConfig returns JSON logging at info level.
func DefaultConfig() Config {
	return Config{Level: InfoLevel, Format: JSONFormat}
}

// zapLevel maps a LogLevel onto zap's scale. Unknown values log at info.
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ZapLogger is the Logger implementation backed by uber-go/zap.
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewZapLogger creates a logger writing to stdout.
func NewZapLogger(cfg Config) (*ZapLogger, error) {
	return newZapLoggerWithSink(cfg, os.Stdout), nil
}

// newZapLoggerWithSink builds a logger against an arbitrary sink. Tests use
// it to capture output.
func newZapLoggerWithSink(cfg Config, sink io.Writer) *ZapLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if cfg.Format == TextFormat {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(sink), cfg.Level.zapLevel())
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &ZapLogger{logger: zl, sugar: zl.Sugar()}
}

// Debug logs msg at debug level with alternating key/value args.
func (l *ZapLogger) Debug(msg string, args ...any) {
	l.sugar.Debugw(msg, args...)
}

// Info logs msg at info level with alternating key/value args.
func (l *ZapLogger) Info(msg string, args ...any) {
	l.sugar.Infow(msg, args...)
}

// Warn logs msg at warn level with alternating key/value args.
func (l *ZapLogger) Warn(msg string, args ...any) {
	l.sugar.Warnw(msg, args...)
}

// Error logs msg at error level with alternating key/value args.
func (l *ZapLogger) Error(msg string, args ...any) {
	l.sugar.Errorw(msg, args...)
}

// With returns a child logger that adds args to every entry.
func (l *ZapLogger) With(args ...any) Logger {
	return &ZapLogger{
		logger: l.logger,
		sugar:  l.sugar.With(args...),
	}
}

// WithContext returns a child logger that attaches the execution ID from
// ctx, when one is present.
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if id := ExecutionIDFromContext(ctx); id != "" {
		return l.With("execution_id", id)
	}
	return l
}

// Sync flushes buffered entries. Call before the process exits.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// ParseLogLevel converts a level name to a LogLevel. Matching is
// case-insensitive and accepts "warning" for warn.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return "", fmt.Errorf("invalid log level: %s", level)
	}
}

// ParseLogFormat converts a format name to a LogFormat. Matching is
// case-insensitive and accepts "console" for text.
func ParseLogFormat(format string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return JSONFormat, nil
	case "text", "console":
		return TextFormat, nil
	default:
		return "", fmt.Errorf("invalid log format: %s", format)
	}
}
