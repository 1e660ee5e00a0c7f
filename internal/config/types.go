package config

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Duration is a time.Duration read from text such as "5s" or "1m30s".
// Negative values are rejected at load time.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", text)
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration back in time.Duration notation, which is
// also how it appears in JSON reports.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Duration returns the value as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

const redacted = "[REDACTED]"

// Secret is a credential read from config, such as a login cookie or a
// NATS token. Every formatting and marshaling path prints a placeholder;
// only Value exposes the content.
type Secret string

// Format implements fmt.Formatter for every verb, including %#v.
func (s Secret) Format(f fmt.State, verb rune) {
	if verb == 'v' && f.Flag('#') {
		fmt.Fprintf(f, "config.Secret(%q)", s.String())
		return
	}
	fmt.Fprint(f, s.String())
}

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Value returns the plaintext.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool { return s != "" }

// Cookies maps browser cookie names to their values.
type Cookies map[string]Secret

// Values returns the configured cookies in plaintext, skipping empty ones,
// for injection into the browser.
func (c Cookies) Values() map[string]string {
	out := make(map[string]string, len(c))
	for name, v := range c {
		if v.IsSet() {
			out[name] = v.Value()
		}
	}
	return out
}

// Names returns the sorted names of the configured cookies. It is safe to
// log.
func (c Cookies) Names() []string {
	names := slices.Collect(maps.Keys(c.Values()))
	slices.Sort(names)
	return names
}
