package logging

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zapcore"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")

	tests := []struct {
		name    string
		flags   trace.TraceFlags
		sampled bool
	}{
		{"sampled", trace.FlagsSampled, true},
		{"not sampled", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     spanID,
				TraceFlags: tt.flags,
			})
			ctx := trace.ContextWithSpanContext(context.Background(), sc)

			fields := fieldMap(ContextFields(ctx))
			assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", fields["trace_id"])
			assert.Equal(t, "0102030405060708", fields["span_id"])
			_, has := fields["trace_sampled"]
			assert.Equal(t, tt.sampled, has)
		})
	}
}

func TestContextFields_Correlation(t *testing.T) {
	ctx := WithSessionID(context.Background(), "6f1c2a9e-8f7d-4d1b-9d0a-3b2c1e0f9a8b")
	ctx = WithRunID(ctx, "run_1")
	ctx = WithKeyword(ctx, "秋天徒步")

	fields := fieldMap(ContextFields(ctx))
	assert.Equal(t, "6f1c2a9e-8f7d-4d1b-9d0a-3b2c1e0f9a8b", fields["session.id"])
	assert.Equal(t, "run_1", fields["run.id"])
	assert.Equal(t, "秋天徒步", fields["search.keyword"])
}

func TestWithSessionID_Invalid(t *testing.T) {
	for _, id := range []string{"", "has space", "semi;colon", strings.Repeat("a", maxIDLen+1)} {
		assert.Panics(t, func() { WithSessionID(context.Background(), id) }, "id %q", id)
	}
	assert.NotPanics(t, func() { WithSessionID(context.Background(), "sess_123") })
}

func TestWithRunID_Invalid(t *testing.T) {
	assert.Panics(t, func() { WithRunID(context.Background(), "") })
	assert.Panics(t, func() { WithRunID(context.Background(), "../etc") })
}

func TestWithKeyword(t *testing.T) {
	ctx := WithKeyword(context.Background(), "")
	assert.Empty(t, KeywordFromContext(ctx))

	long := strings.Repeat("徒", maxKeywordLen+10)
	ctx = WithKeyword(context.Background(), long)
	assert.Equal(t, maxKeywordLen, utf8.RuneCountInString(KeywordFromContext(ctx)))

	ctx = WithKeyword(context.Background(), "bad\xffbyte")
	assert.True(t, utf8.ValidString(KeywordFromContext(ctx)))
}

func fieldMap(fields []zapcore.Field) map[string]any {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}
