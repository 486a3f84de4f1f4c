package log

import (
	"context"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"moul.io/zapfilter"
)

type (
	Level  = zapcore.Level
	Field  = zap.Field
	Option = zap.Option
)

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

type Logger struct {
	l     *zap.Logger
	level zap.AtomicLevel
}

type ctxKey struct{}

var std = New(os.Stderr, InfoLevel)

func Default() *Logger { return std }

// ResetDefault replaces the logger used by the package level functions.
// Not safe for concurrent use, call it once during startup.
func ResetDefault(l *Logger) {
	std = l
}

func ParseLevel(text string) (Level, error) {
	return zapcore.ParseLevel(text)
}

// New creates a json logger writing to w.
func New(w io.Writer, level Level, opts ...Option) *Logger {
	return newLogger(w, level, zap.NewProductionEncoderConfig(), zapcore.NewJSONEncoder, "", opts...)
}

// DevLogger creates a console logger with colored levels.
func DevLogger(w io.Writer, level Level, opts ...Option) *Logger {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return newLogger(w, level, cfg, zapcore.NewConsoleEncoder, "", opts...)
}

// NewWithFilter is like New (or DevLogger if dev is set) but only passes entries
// matching the zapfilter rules, e.g. "debug:stream.* info:*".
//
//nolint:whitespace // can't make both editor and linter happy
func NewWithFilter(
	w io.Writer, level Level, dev bool, rules string, opts ...Option,
) *Logger {
	cfg := zap.NewProductionEncoderConfig()
	enc := zapcore.NewJSONEncoder
	if dev {
		cfg = zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder
	}
	return newLogger(w, level, cfg, enc, rules, opts...)
}

//nolint:whitespace // can't make both editor and linter happy
func newLogger(
	w io.Writer,
	level Level,
	encCfg zapcore.EncoderConfig,
	enc func(zapcore.EncoderConfig) zapcore.Encoder,
	rules string,
	opts ...Option,
) *Logger {
	if w == nil {
		w = os.Stderr
	}
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	atomic := zap.NewAtomicLevelAt(level)
	var core zapcore.Core = zapcore.NewCore(enc(encCfg), zapcore.AddSync(w), atomic)
	if rules != "" {
		if filter, err := zapfilter.ParseRules(rules); err == nil {
			core = zapfilter.NewFilteringCore(core, filter)
		} else {
			// reported unfiltered on the new core, std may not exist yet
			zap.New(core).Warn("ignoring invalid log filter",
				String("rules", rules), ErrorField(err))
		}
	}
	return &Logger{l: zap.New(core, opts...), level: atomic}
}

func WithCaller(arg bool) Option { return zap.WithCaller(arg) }

func AddCallerSkip(skip int) Option { return zap.AddCallerSkip(skip) }

func (l *Logger) Named(name string) *Logger {
	return &Logger{l: l.l.Named(name), level: l.level}
}

func (l *Logger) WithOptions(opts ...Option) *Logger {
	return &Logger{l: l.l.WithOptions(opts...), level: l.level}
}

func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{l: l.l.With(fields...), level: l.level}
}

func (l *Logger) SetLevel(level Level) { l.level.SetLevel(level) }

func (l *Logger) Level() Level { return l.level.Level() }

func (l *Logger) Debug(msg string, fields ...Field) { l.l.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.l.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.l.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.l.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...Field) { l.l.Fatal(msg, fields...) }

func (l *Logger) Sync() error { return l.l.Sync() }

// package level shortcuts to the default logger
func Debug(msg string, fields ...Field) { std.l.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { std.l.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { std.l.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { std.l.Error(msg, fields...) }
func Fatal(msg string, fields ...Field) { std.l.Fatal(msg, fields...) }

func Sync() error { return std.Sync() }

func AddToContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// GetFromContext returns the logger stored in ctx or the default logger.
func GetFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return std
}
