// Package log is a small structured-logging facade wrapping zap, matching
// the call-site shape the rest of this module was written against
// (log.NewHelper, log.With, log.Context, log.Enabled) — a local stand-in
// for the kratos-style logger the teacher's codebase is written around,
// backed by go.uber.org/zap + lumberjack for rotation instead of a
// hand-rolled writer.
package log

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors zapcore.Level so callers never import zap directly.
type Level int8

const (
	LevelDebug Level = Level(zapcore.DebugLevel)
	LevelInfo  Level = Level(zapcore.InfoLevel)
	LevelWarn  Level = Level(zapcore.WarnLevel)
	LevelError Level = Level(zapcore.ErrorLevel)
	LevelFatal Level = Level(zapcore.FatalLevel)
)

// Logger is the minimal sink every Helper writes through.
type Logger interface {
	Log(level Level, keyvals ...any) error
}

// zapLogger adapts *zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (z *zapLogger) Log(level Level, keyvals ...any) error {
	switch zapcore.Level(level) {
	case zapcore.DebugLevel:
		z.s.Debugw("", keyvals...)
	case zapcore.WarnLevel:
		z.s.Warnw("", keyvals...)
	case zapcore.ErrorLevel:
		z.s.Errorw("", keyvals...)
	case zapcore.FatalLevel:
		z.s.Fatalw("", keyvals...)
	default:
		z.s.Infow("", keyvals...)
	}
	return nil
}

// NewZapLogger builds a Logger writing JSON lines to stderr and, when
// rotatePath is non-empty, to a lumberjack-rotated file.
func NewZapLogger(rotatePath string, maxSizeMB, maxBackups, maxAgeDays int) Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	var writers []zapcore.WriteSyncer
	writers = append(writers, zapcore.AddSync(os.Stderr))
	if rotatePath != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   rotatePath,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.NewMultiWriteSyncer(writers...), zap.NewAtomicLevelAt(zapcore.DebugLevel))
	return &zapLogger{s: zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2)).Sugar()}
}

// Timestamp returns a keyval value function rendering time.Now in layout,
// meant to be passed to With(logger, "ts", Timestamp(time.RFC3339)).
func Timestamp(layout string) func() any {
	return func() any { return time.Now().Format(layout) }
}

// kvLogger wraps a Logger, prepending a fixed set of keyvals to every call
// (the "ts"/"pid"/"caller" style binding done once at startup via With).
type kvLogger struct {
	next Logger
	kv   []any
}

// With returns a Logger that prepends kv (values may be zero-arg funcs,
// evaluated per call, matching Timestamp's usage) to every logged line.
func With(logger Logger, kv ...any) Logger {
	return &kvLogger{next: logger, kv: kv}
}

func (k *kvLogger) Log(level Level, keyvals ...any) error {
	merged := make([]any, 0, len(k.kv)+len(keyvals))
	for _, v := range k.kv {
		if fn, ok := v.(func() any); ok {
			merged = append(merged, fn())
		} else {
			merged = append(merged, v)
		}
	}
	merged = append(merged, keyvals...)
	return k.next.Log(level, merged...)
}

// FilterOption configures NewFilter.
type FilterOption func(*filterLogger)

// FilterLevel drops any Log call below level.
func FilterLevel(level Level) FilterOption {
	return func(f *filterLogger) { f.level = level }
}

type filterLogger struct {
	next  Logger
	level Level
}

// NewFilter wraps logger, discarding records below the configured level.
func NewFilter(logger Logger, opts ...FilterOption) Logger {
	f := &filterLogger{next: logger, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filterLogger) Log(level Level, keyvals ...any) error {
	if level < f.level {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

var (
	globalMu     sync.RWMutex
	DefaultLogger Logger = NewZapLogger("", 0, 0, 0)
	globalLevel  atomic.Int32
)

func init() {
	globalLevel.Store(int32(LevelDebug))
}

// SetLogger installs logger as the process-wide default.
func SetLogger(logger Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	DefaultLogger = logger
}

// GetLogger returns the process-wide default logger.
func GetLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return DefaultLogger
}

// SetLevel adjusts the level Enabled reports; it does not itself filter
// GetLogger's output (wrap it in NewFilter for that).
func SetLevel(level Level) { globalLevel.Store(int32(level)) }

// Enabled reports whether level would be observable at the current global
// level, used at call sites that build an expensive message conditionally:
// `if log.Enabled(log.LevelDebug) { ... }`.
func Enabled(level Level) bool {
	return int32(level) >= globalLevel.Load()
}

// Helper is a leveled, optionally context-bound logging facade.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

// Context returns a Helper bound to the process default logger; ctx is
// accepted for call-site compatibility with request-scoped loggers but
// carries no fields by itself (request IDs are attached by callers via
// metrics.FromContext before logging, not here).
func Context(_ context.Context) *Helper {
	return NewHelper(GetLogger())
}

func (h *Helper) log(level Level, msg string) {
	_ = h.logger.Log(level, "msg", msg)
}

func (h *Helper) Debug(args ...any) { h.log(LevelDebug, fmt.Sprint(args...)) }
func (h *Helper) Info(args ...any)  { h.log(LevelInfo, fmt.Sprint(args...)) }
func (h *Helper) Warn(args ...any)  { h.log(LevelWarn, fmt.Sprint(args...)) }
func (h *Helper) Error(args ...any) { h.log(LevelError, fmt.Sprint(args...)) }
func (h *Helper) Fatal(args ...any) { h.log(LevelFatal, fmt.Sprint(args...)); os.Exit(1) }

func (h *Helper) Debugf(format string, args ...any) { h.log(LevelDebug, fmt.Sprintf(format, args...)) }
func (h *Helper) Infof(format string, args ...any)  { h.log(LevelInfo, fmt.Sprintf(format, args...)) }
func (h *Helper) Warnf(format string, args ...any)  { h.log(LevelWarn, fmt.Sprintf(format, args...)) }
func (h *Helper) Errorf(format string, args ...any) { h.log(LevelError, fmt.Sprintf(format, args...)) }
func (h *Helper) Fatalf(format string, args ...any) {
	h.log(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (h *Helper) Errorw(keyvals ...any) { _ = h.logger.Log(LevelError, keyvals...) }
func (h *Helper) Infow(keyvals ...any)  { _ = h.logger.Log(LevelInfo, keyvals...) }

// Package-level convenience functions used by callers that don't hold
// their own Helper (mirrors the teacher's package-level log.Infof/Errorf
// call sites).
func Debugf(format string, args ...any) { NewHelper(GetLogger()).Debugf(format, args...) }
func Infof(format string, args ...any)  { NewHelper(GetLogger()).Infof(format, args...) }
func Warnf(format string, args ...any)  { NewHelper(GetLogger()).Warnf(format, args...) }
func Errorf(format string, args ...any) { NewHelper(GetLogger()).Errorf(format, args...) }
func Fatalf(format string, args ...any) { NewHelper(GetLogger()).Fatalf(format, args...) }
func Fatal(args ...any)                 { NewHelper(GetLogger()).Fatal(args...) }
