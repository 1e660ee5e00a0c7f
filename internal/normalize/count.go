package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Unit suffixes used by the feed for abbreviated counts.
var countUnits = []struct {
	suffix string
	scale  float64
}{
	{"亿", 1e8},
	{"万", 1e4},
	{"w", 1e4},
	{"W", 1e4},
}

// ParseCount converts a raw interaction count to a non-negative integer.
//
// Numbers are truncated. Strings have thousands separators and a trailing
// "+" removed; a 万 (or w/W) suffix scales the float prefix by 10,000 and
// 亿 by 100,000,000. nil and "" are zero. ok is false when the value could
// not be interpreted, in which case the count is zero.
func ParseCount(v any) (n int64, ok bool) {
	switch val := v.(type) {
	case nil:
		return 0, true
	case int:
		return clampCount(float64(val))
	case int32:
		return clampCount(float64(val))
	case int64:
		if val < 0 {
			return 0, true
		}
		return val, true
	case float32:
		return clampCount(float64(val))
	case float64:
		return clampCount(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return ParseCount(i)
		}
		f, err := val.Float64()
		if err != nil {
			return 0, false
		}
		return clampCount(f)
	case string:
		return parseCountString(val)
	default:
		return 0, false
	}
}

func parseCountString(s string) (int64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "+", "")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}

	for _, unit := range countUnits {
		if prefix, found := strings.CutSuffix(s, unit.suffix); found {
			f, err := strconv.ParseFloat(strings.TrimSpace(prefix), 64)
			if err != nil {
				return 0, false
			}
			return clampCount(f * unit.scale)
		}
	}

	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	if i < 0 {
		return 0, true
	}
	return i, true
}

func clampCount(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f <= 0 {
		return 0, true
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(f), true
}
