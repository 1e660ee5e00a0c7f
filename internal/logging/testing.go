// internal/logging/testing.go
package logging

import (
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry, down to TraceLevel, for
// assertions in package tests.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns a recording logger with no output.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, logs: logs}
}

// FilterMessage returns the entries whose message equals msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.logs.FilterMessage(msg)
}

// matching returns entries at level whose message contains substr.
func (t *TestLogger) matching(level zapcore.Level, substr string) []observer.LoggedEntry {
	return t.logs.FilterLevelExact(level).FilterMessageSnippet(substr).All()
}

// AssertLogged fails tb unless an entry at level contains substr.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if len(t.matching(level, substr)) == 0 {
		tb.Errorf("no %v entry containing %q; got %d entries: %s", level, substr, t.logs.Len(), t.summary())
	}
}

// AssertNotLogged fails tb if any entry at level contains substr.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if n := len(t.matching(level, substr)); n > 0 {
		tb.Errorf("%d unexpected %v entries containing %q", n, level, substr)
	}
}

// AssertField fails tb unless some entry with message msg carries key with
// the expected value. Numbers compare by value, so an int matches the
// int64 that zap records.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	var seen []any
	for _, entry := range t.logs.FilterMessage(msg).All() {
		got, ok := entry.ContextMap()[key]
		if !ok {
			continue
		}
		if sameValue(got, expected) {
			return
		}
		seen = append(seen, got)
	}
	tb.Errorf("entry %q: want %s=%v, saw %v", msg, key, expected, seen)
}

func (t *TestLogger) summary() string {
	msgs := make([]string, 0, t.logs.Len())
	for _, e := range t.logs.All() {
		msgs = append(msgs, e.Level.String()+":"+e.Message)
	}
	return strings.Join(msgs, ", ")
}

// sameValue compares after converting numeric kinds to the recorded type.
func sameValue(got, want any) bool {
	if reflect.DeepEqual(got, want) {
		return true
	}
	g, w := reflect.ValueOf(got), reflect.ValueOf(want)
	if !g.IsValid() || !w.IsValid() || !isNumber(g.Kind()) || !isNumber(w.Kind()) {
		return false
	}
	return reflect.DeepEqual(got, w.Convert(g.Type()).Interface())
}

func isNumber(k reflect.Kind) bool {
	return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
}

// Credentials that must never reach a log line in clear text: the login
// cookie, the note access token and bearer headers.
var leakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)web_session=[^;\s"\[]+`),
	regexp.MustCompile(`(?i)xsec_token=[^&\s"\[]+`),
	regexp.MustCompile(`(?i)bearer\s+[^\s\[]\S*`),
}

var sensitiveKeys = []string{"cookie", "web_session", "token", "secret", "password", "authorization"}

// AssertNoSecrets fails tb if any recorded message or string field holds a
// credential in clear text. Fields named like a credential must carry a
// "[REDACTED" placeholder. plain lists extra literal values, such as the
// configured cookie, that must not appear anywhere.
func (t *TestLogger) AssertNoSecrets(tb testing.TB, plain ...string) {
	tb.Helper()
	leaks := func(where, s string) {
		for _, re := range leakPatterns {
			if re.MatchString(s) {
				tb.Errorf("credential in %s: %q", where, s)
			}
		}
		for _, p := range plain {
			if p != "" && strings.Contains(s, p) {
				tb.Errorf("configured secret in %s", where)
			}
		}
	}

	for _, e := range t.logs.All() {
		leaks("message "+e.Message, e.Message)
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			leaks("field "+f.Key, f.String)
			if f.String != "" && !strings.HasPrefix(f.String, "[REDACTED") && isSensitiveKey(f.Key) {
				tb.Errorf("field %q is not redacted", f.Key)
			}
		}
	}
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}
