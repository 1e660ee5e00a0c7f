package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, logger.Underlying())
	assert.NoError(t, logger.Close())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "yaml"
	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "invalid config")
}

func TestNewLogger_OTELWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "at least one output")
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "feedcurate.log")
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{File: path}
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	ctx := WithSessionID(context.Background(), "sess_1")
	logger.Info(ctx, "ingest finished",
		zap.Int("records", 20),
		zap.String("url", "https://host/search?keyword=x&xsec_token=tok123"),
	)
	logger.Debug(ctx, "below level")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "ingest finished", entry["msg"])
	assert.Equal(t, "sess_1", entry["session.id"])
	assert.Equal(t, "feedcurate", entry["service"])
	assert.Equal(t, float64(20), entry["records"])
	assert.NotContains(t, entry["url"], "tok123")
}

func TestLogger_ContextAwareMethods(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	logger := &Logger{zap: zap.New(core)}
	ctx := context.Background()

	tests := []struct {
		name  string
		log   func(ctx context.Context, msg string, fields ...zap.Field)
		level zapcore.Level
	}{
		{"trace", logger.Trace, TraceLevel},
		{"debug", logger.Debug, zapcore.DebugLevel},
		{"info", logger.Info, zapcore.InfoLevel},
		{"warn", logger.Warn, zapcore.WarnLevel},
		{"error", logger.Error, zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observed.TakeAll()
			tt.log(ctx, tt.name+" message", zap.String("key", "val"))

			logs := observed.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.level, logs[0].Level)
			assert.Equal(t, tt.name+" message", logs[0].Message)
			assert.Len(t, logs[0].Context, 1)
		})
	}
}

func TestLogger_Component(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core)}

	logger.Component("ingest").With(zap.String("source", "browser")).Info(context.Background(), "child log")

	logs := observed.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "ingest", logs[0].LoggerName)
	assert.Equal(t, "ingest", logs[0].ContextMap()["component"])
	assert.Equal(t, "browser", logs[0].ContextMap()["source"])
}

func TestLogger_DisabledLevelSkipsContext(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := &Logger{zap: zap.New(core)}
	ctx := WithRunID(context.Background(), "run-1")

	logger.Trace(ctx, "state change")
	logger.Debug(ctx, "count field could not be parsed")
	logger.Info(ctx, "ingest finished")

	logs := observed.All()
	require.Len(t, logs, 1)
	assert.Equal(t, "ingest finished", logs[0].Message)
	assert.Equal(t, "run-1", logs[0].ContextMap()["run.id"])
}

func TestNewLogger_CallerPointsAtCallSite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caller.log")
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{File: path}
	cfg.Caller.Enabled = true
	cfg.Sampling.Enabled = false

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)
	logger.Info(context.Background(), "where")
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Contains(t, entry["caller"], "logger_test.go")
}

func TestLogger_AutoInjectContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithSessionID(context.Background(), "sess_123")
	ctx = WithKeyword(ctx, "coffee")

	tl.Info(ctx, "page processed", zap.Int("items", 20))

	tl.AssertLogged(t, zapcore.InfoLevel, "page processed")
	tl.AssertField(t, "page processed", "session.id", "sess_123")
	tl.AssertField(t, "page processed", "search.keyword", "coffee")
	tl.AssertField(t, "page processed", "items", 20)
	tl.AssertNotLogged(t, zapcore.WarnLevel, "page processed")
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"TRACE", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{" Error ", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
		{"fatal", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	l.Info(context.Background(), "discarded")
	assert.False(t, l.Underlying().Core().Enabled(zapcore.ErrorLevel))
	assert.NoError(t, l.Close())
}
