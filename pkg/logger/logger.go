package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TraceIdKey is the context key a caller's trace id is stashed under.
// Engine code never runs behind an RPC framework, so a request's trace id
// is whatever cmd/lob-engine minted for it at ingress (see pkg/common.New),
// not one supplied by a service mesh.
const TraceIdKey = "trace_id"

// Log is the process-wide logger. Every SymbolActor holds a logger derived
// from it via WithSymbol rather than building its own, so a log level or
// output-target change made at startup applies uniformly across symbols.
var Log *zap.Logger

// Init sets up the logger for serviceName at the given level (debug, info,
// warn, error).
func Init(serviceName string, level string) {
	InitWithFile(serviceName, level, "")
}

// InitWithFile is Init with an explicit log file path; an empty logFile
// falls back to logs/{serviceName}.log.
func InitWithFile(serviceName string, level string, logFile string) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	writeSyncers := []zapcore.WriteSyncer{
		zapcore.AddSync(os.Stdout),
	}

	if logFile == "" {
		logFile = filepath.Join("logs", serviceName+".log")
	}

	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		_ = err
	} else {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			writeSyncers = append(writeSyncers, zapcore.AddSync(file))
		}
	}

	multiWriter := zapcore.NewMultiWriteSyncer(writeSyncers...)

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		multiWriter,
		zapLevel,
	)

	// AddCallerSkip(1): every entry point below is one frame of wrapping
	// over the zap call, so the reported line would otherwise always point
	// at this file instead of the caller.
	Log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	Log = Log.With(zap.String("service", serviceName))
}

// WithSymbol returns a logger scoped to one symbol's actor. Nearly every
// log line the engine emits is naturally keyed by symbol (mailbox
// pressure, WAL failures, replay progress), so actors hold this instead of
// passing zap.String("symbol", ...) at every call site.
func WithSymbol(symbol string) *zap.Logger {
	if Log == nil {
		// A component constructed before Init (notably in package tests
		// that never call it) still gets a usable, if silent, logger
		// instead of a nil-pointer panic on first use.
		Log = zap.NewNop()
	}
	return Log.With(zap.String("symbol", symbol))
}

// Info logs at info level, attaching the context's trace id if present.
func Info(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Info(msg, fields...)
}

// Error logs at error level, attaching the context's trace id if present.
func Error(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Error(msg, fields...)
}

// Warn logs at warn level, attaching the context's trace id if present.
func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Warn(msg, fields...)
}

// Debug logs at debug level, attaching the context's trace id if present.
func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Debug(msg, fields...)
}

// Fatal logs at fatal level and then calls os.Exit via zap.
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	extractTrace(ctx, &fields)
	Log.Fatal(msg, fields...)
}

func extractTrace(ctx context.Context, fields *[]zap.Field) {
	if ctx == nil {
		return
	}
	if traceID, ok := ctx.Value(TraceIdKey).(string); ok && traceID != "" {
		*fields = append(*fields, zap.String("trace_id", traceID))
	}
}

// Sync flushes buffered log entries; call it in main's shutdown path.
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
