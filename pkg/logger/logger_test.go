package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestLogger_Info_WithTraceID(t *testing.T) {
	buffer := &bytes.Buffer{}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "msg"

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(buffer),
		zap.InfoLevel,
	)

	Log = zap.New(core)

	traceVal := "test-trace-12345"
	ctx := context.WithValue(context.Background(), TraceIdKey, traceVal)

	Info(ctx, "order accepted", zap.String("symbol", "BTC-USD"), zap.Uint64("order_id", 42))

	var logEntry map[string]interface{}
	err := json.Unmarshal(buffer.Bytes(), &logEntry)
	assert.NoError(t, err, "log line must be valid JSON")

	assert.Equal(t, "info", logEntry["level"])
	assert.Equal(t, "order accepted", logEntry["msg"])
	assert.Equal(t, "BTC-USD", logEntry["symbol"])
	assert.Equal(t, float64(42), logEntry["order_id"])

	assert.Equal(t, traceVal, logEntry["trace_id"], "trace id was not injected from context")
}

func TestLogger_Error_NoTraceID(t *testing.T) {
	buffer := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(buffer),
		zap.InfoLevel,
	)
	Log = zap.New(core)

	Error(context.Background(), "wal append failed", zap.String("symbol", "ETH-USD"))

	var logEntry map[string]interface{}
	_ = json.Unmarshal(buffer.Bytes(), &logEntry)

	_, exists := logEntry["trace_id"]
	assert.False(t, exists, "a context without a trace id must not emit a trace_id field")
	assert.Equal(t, "error", logEntry["level"])
}

func TestWithSymbol_AddsSymbolField(t *testing.T) {
	buffer := &bytes.Buffer{}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(buffer),
		zap.InfoLevel,
	)
	Log = zap.New(core)

	WithSymbol("BTC-USD").Info("mailbox full")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buffer.Bytes(), &logEntry)
	assert.NoError(t, err)
	assert.Equal(t, "BTC-USD", logEntry["symbol"])
	assert.Equal(t, "mailbox full", logEntry["msg"])
}
