// Package normalize maps schema-ambiguous raw feed items onto canonical
// records.
//
// Every key lookup goes through an AliasTable, so schema drift in the feed
// is absorbed by editing the table (or loading an extra one from TOML)
// rather than the resolver. Normalize never fails: malformed input comes
// back as a rejected record.Outcome.
package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/feedcurate/internal/record"
)

// FallbackTitleRunes bounds a title recovered from the fallback text keys.
const FallbackTitleRunes = 50

// Normalizer converts raw items into records.
//
// A Normalizer holds no per-run state and is safe for concurrent use.
type Normalizer struct {
	table      *AliasTable
	now        func() time.Time
	captureRaw bool
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithAliasTable replaces the built-in alias table.
func WithAliasTable(t *AliasTable) Option {
	return func(n *Normalizer) {
		if t != nil {
			n.table = t
		}
	}
}

// WithClock sets the source of captured_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// WithRawCapture attaches the source item to each accepted record.
func WithRawCapture(enabled bool) Option {
	return func(n *Normalizer) {
		n.captureRaw = enabled
	}
}

// New creates a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		table: DefaultAliasTable(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Table returns the alias table in use.
func (n *Normalizer) Table() *AliasTable {
	return n.table
}

// Items extracts the item list from a decoded page body by following the
// table's items path. ok is false when the body is not an object or the
// path does not lead to a list.
func (n *Normalizer) Items(body any) (items []any, ok bool) {
	cur := body
	for _, key := range n.table.ItemsPath {
		obj, isObj := cur.(map[string]any)
		if !isObj {
			return nil, false
		}
		cur = obj[key]
	}
	items, ok = cur.([]any)
	return items, ok
}

// Normalize converts one raw item. The item is never modified.
func (n *Normalizer) Normalize(raw any) record.Outcome {
	item, ok := raw.(map[string]any)
	if !ok {
		return record.Reject(record.MalformedPayload, fmt.Sprintf("item is %T, not an object", raw))
	}

	t := n.table
	detail := n.detail(item)

	id, ok := resolveString(t.Keys(FieldID), item, detail)
	if !ok {
		return record.Reject(record.MissingIdentifier, "no identifier key resolved")
	}

	title, _ := resolveString(t.Keys(FieldTitle), detail, item)
	desc, _ := resolveString(t.Keys(FieldDescription), detail, item)
	if title == "" && desc == "" {
		text, found := n.fallbackText(detail, item)
		if !found {
			return record.Reject(record.NoContent, "no title or description for "+id)
		}
		title = truncateRunes(text, FallbackTitleRunes)
	}

	rec := &record.Record{
		ID:          id,
		Title:       title,
		Description: desc,
		Tags:        n.tags(detail, item),
		Author:      n.author(detail, item),
		CoverURL:    n.cover(detail, item),
		CapturedAt:  n.now(),
	}
	rec.NoteType, _ = resolveString(t.Keys(FieldNoteType), detail, item)

	interact := firstObject(t.InteractKeys, detail)
	var warnings []record.Warning
	count := func(field string) int64 {
		v, found := resolve(t.Keys(field), interact, detail, item)
		if !found {
			return 0
		}
		c, ok := ParseCount(v)
		if !ok {
			warnings = append(warnings, record.Warning{
				Reason: record.NumericParseFailure,
				Field:  field,
				Value:  fmt.Sprint(v),
			})
		}
		return c
	}
	rec.SetCounts(count(FieldLiked), count(FieldCollected), count(FieldComment), count(FieldShare))

	if n.captureRaw {
		rec.Raw = item
	}

	return record.Accept(rec, warnings)
}

// detail returns the nested detail object, the item itself when it carries
// content keys directly, or nil.
func (n *Normalizer) detail(item map[string]any) map[string]any {
	if d := firstObject(n.table.DetailKeys, item); d != nil {
		return d
	}
	for _, k := range n.table.DetailMarkers {
		if _, ok := item[k]; ok {
			return item
		}
	}
	return nil
}

func (n *Normalizer) fallbackText(detail, item map[string]any) (string, bool) {
	for _, key := range n.table.FallbackTextKeys {
		if s, ok := resolveString([]string{key}, detail, item); ok {
			return s, true
		}
	}
	return "", false
}

func (n *Normalizer) tags(detail, item map[string]any) []string {
	v, ok := resolve(n.table.Keys(FieldTags), detail, item)
	if !ok {
		return []string{}
	}
	list, ok := v.([]any)
	if !ok {
		return []string{}
	}

	tags := make([]string, 0, len(list))
	for _, entry := range list {
		switch e := entry.(type) {
		case string:
			if e != "" {
				tags = append(tags, e)
			}
		case map[string]any:
			if name, ok := resolveString(n.table.TagNameKeys, e); ok {
				tags = append(tags, name)
			}
		}
	}
	return tags
}

func (n *Normalizer) author(detail, item map[string]any) record.Author {
	author := record.Author{DisplayName: record.UnknownAuthor}

	user := firstObject(n.table.UserKeys, detail)
	if user == nil {
		user = firstObject(n.table.UserKeys, item)
	}
	if user == nil {
		return author
	}

	if id, ok := resolveString(n.table.Keys(FieldAuthorID), user); ok {
		author.ID = &id
	}
	if name, ok := resolveString(n.table.Keys(FieldAuthorName), user); ok {
		author.DisplayName = name
	}
	return author
}

func (n *Normalizer) cover(detail, item map[string]any) string {
	v, ok := resolve(n.table.Keys(FieldCover), detail, item)
	if !ok {
		return ""
	}
	switch c := v.(type) {
	case string:
		return c
	case map[string]any:
		url, _ := resolveString(n.table.CoverKeys, c)
		return url
	}
	return ""
}

// resolve returns the first non-empty value found, scanning each scope in
// order and, within a scope, each key in order. nil scopes are skipped.
func resolve(keys []string, scopes ...map[string]any) (any, bool) {
	for _, scope := range scopes {
		if scope == nil {
			continue
		}
		for _, k := range keys {
			if v, ok := scope[k]; ok && !isEmpty(v) {
				return v, true
			}
		}
	}
	return nil, false
}

// resolveString is resolve restricted to values with a textual form.
// Numeric identifiers are rendered in their JSON form.
func resolveString(keys []string, scopes ...map[string]any) (string, bool) {
	for _, scope := range scopes {
		if scope == nil {
			continue
		}
		for _, k := range keys {
			if s, ok := asString(scope[k]); ok {
				return s, true
			}
		}
	}
	return "", false
}

func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		s = strings.TrimSpace(s)
		return s, s != ""
	case json.Number:
		return s.String(), s.String() != "0"
	case float64:
		if s == 0 {
			return "", false
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(s, 10), s != 0
	case int:
		return strconv.Itoa(s), s != 0
	}
	return "", false
}

func firstObject(keys []string, scope map[string]any) map[string]any {
	if scope == nil {
		return nil
	}
	for _, k := range keys {
		if obj, ok := scope[k].(map[string]any); ok && len(obj) > 0 {
			return obj
		}
	}
	return nil
}

// isEmpty mirrors the feed's notion of an absent value: missing, null,
// blank, zero, or an empty container.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case bool:
		return !val
	case json.Number:
		f, err := val.Float64()
		return err == nil && f == 0
	case float64:
		return val == 0
	case int:
		return val == 0
	case int64:
		return val == 0
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
