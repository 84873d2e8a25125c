package observability

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// ErrorLogField is the key used for error fields in logs
	ErrorLogField string = "error"

	traceIDField = "trace_id"
	spanIDField  = "span_id"
)

// Supported logger backends.
const (
	BackendLogrus = "logrus"
	BackendZap    = "zap"
	BackendSlog   = "slog"
	BackendStd    = "std"
)

// Logger interface - defines the common logging methods
type Logger interface {
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})

	WithFields(fields map[string]interface{}) Logger
	WithContext(ctx context.Context) Logger
	WithErr(err error) Logger
}

// NewLogger builds a Logger for the given backend, level and format.
// Unknown backends fall back to logrus.
func NewLogger(backend, level, format string, out io.Writer) (Logger, error) {
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(backend) {
	case BackendZap:
		return newZapFromConfig(level, format, out)
	case BackendSlog:
		return newSlogFromConfig(level, format, out)
	case BackendStd:
		return &DefaultLogger{
			Logger: log.New(out, "", log.LstdFlags),
			fields: make(map[string]interface{}),
		}, nil
	default:
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		l := logrus.New()
		l.SetOutput(out)
		l.SetLevel(lvl)
		if format == "json" {
			l.SetFormatter(&logrus.JSONFormatter{})
		} else {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
		return NewLogrusLogger(l), nil
	}
}

func newZapFromConfig(level, format string, out io.Writer) (Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), lvl)
	return NewZapLogger(zap.New(core)), nil
}

func newSlogFromConfig(level, format string, out io.Writer) (Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return NewSlogLogger(slog.New(h)), nil
}

// spanFields returns trace correlation fields for the span carried by ctx.
func spanFields(ctx context.Context) map[string]interface{} {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil
	}
	return map[string]interface{}{
		traceIDField: sc.TraceID().String(),
		spanIDField:  sc.SpanID().String(),
	}
}

// DefaultLogger - a basic implementation using Go's standard log package
type DefaultLogger struct {
	*log.Logger
	fields map[string]interface{}
	err    error
}

// NewDefaultLogger creates a new DefaultLogger that logs to standard output
func NewDefaultLogger() Logger {
	return &DefaultLogger{
		Logger: log.New(os.Stdout, "", log.LstdFlags),
		fields: make(map[string]interface{}),
	}
}

func (l *DefaultLogger) Debug(args ...interface{}) { l.logWithFields("[DEBUG] ", args...) }
func (l *DefaultLogger) Info(args ...interface{})  { l.logWithFields("[INFO] ", args...) }
func (l *DefaultLogger) Warn(args ...interface{})  { l.logWithFields("[WARN] ", args...) }
func (l *DefaultLogger) Error(args ...interface{}) { l.logWithFields("[ERROR] ", args...) }

// WithFields - allows adding structured fields to the log
func (l *DefaultLogger) WithFields(fields map[string]interface{}) Logger {
	newLogger := &DefaultLogger{
		Logger: l.Logger,
		fields: make(map[string]interface{}, len(l.fields)+len(fields)),
		err:    l.err,
	}

	for k, v := range l.fields {
		newLogger.fields[k] = v
	}

	for k, v := range fields {
		newLogger.fields[k] = v
	}
	return newLogger
}

// WithContext adds the trace and span ids of the active span, if any.
func (l *DefaultLogger) WithContext(ctx context.Context) Logger {
	if f := spanFields(ctx); f != nil {
		return l.WithFields(f)
	}
	return l
}

// WithErr - allows adding an error to the log
func (l *DefaultLogger) WithErr(err error) Logger {
	return &DefaultLogger{
		Logger: l.Logger,
		fields: l.fields,
		err:    err,
	}
}

func (l *DefaultLogger) logWithFields(level string, args ...interface{}) {
	var parts []string
	for k, v := range l.fields {
		parts = append(parts, fmt.Sprintf("%v=%v", k, v))
	}
	if l.err != nil {
		parts = append(parts, fmt.Sprintf("%s=%v", ErrorLogField, l.err))
	}
	prefix := ""
	if len(parts) > 0 {
		prefix = fmt.Sprintf("[%s] ", strings.Join(parts, " "))
	}

	l.Logger.Print(prefix + level + fmt.Sprint(args...))
}

// NullLogger - a logger that does nothing
type NullLogger struct{}

// NewNullLogger creates a new NullLogger
func NewNullLogger() Logger {
	return &NullLogger{}
}

// Debug is a no-op for NullLogger
func (l *NullLogger) Debug(args ...interface{}) {}

// Info is a no-op for NullLogger
func (l *NullLogger) Info(args ...interface{}) {}

// Warn is a no-op for NullLogger
func (l *NullLogger) Warn(args ...interface{}) {}

// Error is a no-op for NullLogger
func (l *NullLogger) Error(args ...interface{}) {}

// WithFields is a no-op for NullLogger
func (l *NullLogger) WithFields(fields map[string]interface{}) Logger { return l }

// WithContext is a no-op for NullLogger
func (l *NullLogger) WithContext(ctx context.Context) Logger { return l }

// WithErr is a no-op for NullLogger
func (l *NullLogger) WithErr(err error) Logger { return l }

// SlogLogger implements the Logger interface using the standard library's slog package
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a new SlogLogger with the provided slog.Logger
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// Debug log for SlogLogger
func (l *SlogLogger) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}

// Info log for SlogLogger
func (l *SlogLogger) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}

// Warn log for SlogLogger
func (l *SlogLogger) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}

// Error log for SlogLogger
func (l *SlogLogger) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}

// WithFields adds fields to the logger and returns a new SlogLogger
func (l *SlogLogger) WithFields(fields map[string]interface{}) Logger {
	attrs := make([]any, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return &SlogLogger{logger: l.logger.With(attrs...)}
}

// WithContext adds the trace and span ids of the active span, if any.
func (l *SlogLogger) WithContext(ctx context.Context) Logger {
	if f := spanFields(ctx); f != nil {
		return l.WithFields(f)
	}
	return l
}

// WithErr adds an error to the logger and returns a new SlogLogger
func (l *SlogLogger) WithErr(err error) Logger {
	return &SlogLogger{logger: l.logger.With(slog.Any(ErrorLogField, err))}
}

// LogrusLogger implements the Logger interface using logrus
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger creates a new LogrusLogger with the provided logrus.Logger
func NewLogrusLogger(logger *logrus.Logger) Logger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusLogger{
		entry: logrus.NewEntry(logger),
	}
}

// Debug log for LogrusLogger
func (l *LogrusLogger) Debug(args ...interface{}) {
	l.entry.Debug(args...)
}

// Info log for LogrusLogger
func (l *LogrusLogger) Info(args ...interface{}) {
	l.entry.Info(args...)
}

// Warn log for LogrusLogger
func (l *LogrusLogger) Warn(args ...interface{}) {
	l.entry.Warn(args...)
}

// Error log for LogrusLogger
func (l *LogrusLogger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

// WithFields adds fields to the logger and returns a new LogrusLogger
func (l *LogrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &LogrusLogger{
		entry: l.entry.WithFields(logrus.Fields(fields)),
	}
}

// WithContext adds context to the logger and returns a new LogrusLogger
func (l *LogrusLogger) WithContext(ctx context.Context) Logger {
	entry := l.entry.WithContext(ctx)
	if f := spanFields(ctx); f != nil {
		entry = entry.WithFields(logrus.Fields(f))
	}
	return &LogrusLogger{entry: entry}
}

// WithErr adds an error to the logger and returns a new LogrusLogger
func (l *LogrusLogger) WithErr(err error) Logger {
	return &LogrusLogger{
		entry: l.entry.WithError(err),
	}
}

// ZapLogger implements the Logger interface using uber-go/zap
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// NewZapLogger creates a new ZapLogger with the provided zap.Logger
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &ZapLogger{
		logger: logger,
		sugar:  logger.Sugar(),
	}
}

// Debug log for ZapLogger
func (l *ZapLogger) Debug(args ...interface{}) {
	l.sugar.Debug(args...)
}

// Info log for ZapLogger
func (l *ZapLogger) Info(args ...interface{}) {
	l.sugar.Info(args...)
}

// Warn log for ZapLogger
func (l *ZapLogger) Warn(args ...interface{}) {
	l.sugar.Warn(args...)
}

// Error log for ZapLogger
func (l *ZapLogger) Error(args ...interface{}) {
	l.sugar.Error(args...)
}

// WithFields adds fields to the logger and returns a new ZapLogger
func (l *ZapLogger) WithFields(fields map[string]interface{}) Logger {
	zapFields := make([]zapcore.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	child := l.logger.With(zapFields...)
	return &ZapLogger{
		logger: child,
		sugar:  child.Sugar(),
	}
}

// WithContext adds the trace and span ids of the active span, if any.
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	if f := spanFields(ctx); f != nil {
		return l.WithFields(f)
	}
	return l
}

// WithErr adds an error to the logger and returns a new ZapLogger
func (l *ZapLogger) WithErr(err error) Logger {
	child := l.logger.With(zap.Error(err))
	return &ZapLogger{
		logger: child,
		sugar:  child.Sugar(),
	}
}
