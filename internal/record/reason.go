package record

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Reason categorises why an item or page did not yield a Record.
// None of them are fatal.
type Reason int

const (
	// MalformedPayload: the page body is not a well-formed object, lacks the
	// item list, or an entry of the list is not an object.
	MalformedPayload Reason = iota + 1
	// MissingIdentifier: no candidate key resolved an id.
	MissingIdentifier
	// NoContent: no usable title or description text.
	NoContent
	// DuplicateIdentifier: the id was already accepted this run.
	DuplicateIdentifier
	// LowEngagement: liked_count is below the configured floor.
	LowEngagement
	// NumericParseFailure: a count field could not be parsed and defaulted to 0.
	// The item is not rejected for this reason alone.
	NumericParseFailure
)

var reasonNames = map[Reason]string{
	MalformedPayload:    "malformed_payload",
	MissingIdentifier:   "missing_identifier",
	NoContent:           "no_content",
	DuplicateIdentifier: "duplicate_identifier",
	LowEngagement:       "low_engagement",
	NumericParseFailure: "numeric_parse_failure",
}

// Reasons lists every category in declaration order.
func Reasons() []Reason {
	return []Reason{
		MalformedPayload, MissingIdentifier, NoContent,
		DuplicateIdentifier, LowEngagement, NumericParseFailure,
	}
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler so tallies encode with
// readable keys.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Reason) UnmarshalText(text []byte) error {
	for reason, name := range reasonNames {
		if name == string(text) {
			*r = reason
			return nil
		}
	}
	return fmt.Errorf("unknown rejection reason %q", text)
}

// Outcome is the tagged result of normalizing one raw item: either a Record
// (Accepted) or a rejection Reason. Warnings carries non-fatal findings such
// as NumericParseFailure on an accepted record.
type Outcome struct {
	Record   *Record
	Reason   Reason
	Detail   string
	Warnings []Warning
}

// Warning is a non-fatal finding attached to an Outcome.
type Warning struct {
	Reason Reason
	Field  string
	Value  string
}

// Accepted reports whether the outcome carries a Record.
func (o Outcome) Accepted() bool {
	return o.Record != nil
}

// Accept builds an accepted Outcome.
func Accept(r *Record, warnings []Warning) Outcome {
	return Outcome{Record: r, Warnings: warnings}
}

// Reject builds a rejected Outcome.
func Reject(reason Reason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

// Tally counts rejections per Reason over one run.
type Tally map[Reason]int

// Add increments the count for reason.
func (t Tally) Add(reason Reason) {
	t[reason]++
}

// Get returns the count for reason, zero when absent.
func (t Tally) Get(reason Reason) int {
	return t[reason]
}

// Total returns the number of item-level rejections, excluding warnings.
func (t Tally) Total() int {
	n := 0
	for reason, c := range t {
		if reason != NumericParseFailure {
			n += c
		}
	}
	return n
}

// Explain describes a zero-record outcome in terms of the tally.
func (t Tally) Explain() string {
	type entry struct {
		reason Reason
		count  int
	}
	entries := make([]entry, 0, len(t))
	for reason, c := range t {
		if c > 0 && reason != NumericParseFailure {
			entries = append(entries, entry{reason, c})
		}
	}
	if len(entries) == 0 {
		return "feed source yielded no items"
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].reason < entries[j].reason
	})
	msg := "items rejected:"
	for _, e := range entries {
		msg += fmt.Sprintf(" %s=%d", e.reason, e.count)
	}
	return msg
}

// MarshalJSON encodes the tally with every category present, zero or not.
func (t Tally) MarshalJSON() ([]byte, error) {
	out := make(map[string]int, len(reasonNames))
	for _, reason := range Reasons() {
		out[reason.String()] = t[reason]
	}
	return json.Marshal(out)
}
