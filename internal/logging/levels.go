// internal/logging/levels.go
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits one step below Debug. Per-transition ingest state
// changes are logged here so that debug output stays per page.
const TraceLevel = zapcore.DebugLevel - 1

// levelNames lists the values accepted by --log-level and logging.level.
var levelNames = map[string]zapcore.Level{
	"trace":   TraceLevel,
	"debug":   zapcore.DebugLevel,
	"info":    zapcore.InfoLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"error":   zapcore.ErrorLevel,
}

// LevelFromString parses a level name case-insensitively. Unknown names
// return InfoLevel and an error naming the accepted values.
func LevelFromString(level string) (zapcore.Level, error) {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q (want trace, debug, info, warn or error)", level)
}
