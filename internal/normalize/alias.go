package normalize

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/BurntSushi/toml"
)

// Canonical field names used as keys of AliasTable.Fields.
const (
	FieldID          = "id"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldLiked       = "liked_count"
	FieldCollected   = "collected_count"
	FieldComment     = "comment_count"
	FieldShare       = "share_count"
	FieldTags        = "tags"
	FieldCover       = "cover"
	FieldNoteType    = "note_type"
	FieldAuthorID    = "author_id"
	FieldAuthorName  = "author_name"
)

// ErrInvalidAliasTable is returned when an alias table file cannot be used.
var ErrInvalidAliasTable = errors.New("invalid alias table")

// AliasTable is the declarative description of every raw schema variant the
// normalizer understands. Supporting a new variant means adding keys here,
// not changing code.
type AliasTable struct {
	// Version identifies the table revision in logs and reports.
	Version string `toml:"version"`

	// ItemsPath is the object path from the page body to the item list.
	ItemsPath []string `toml:"items_path"`

	// DetailKeys name the nested detail object, in preference order.
	DetailKeys []string `toml:"detail_keys"`

	// DetailMarkers are keys whose presence on the item itself means the
	// item is its own detail object.
	DetailMarkers []string `toml:"detail_markers"`

	// InteractKeys name the interaction-count sub-object of the detail.
	InteractKeys []string `toml:"interact_keys"`

	// UserKeys name the author object.
	UserKeys []string `toml:"user_keys"`

	// CoverKeys are tried inside an object-valued cover.
	CoverKeys []string `toml:"cover_keys"`

	// TagNameKeys are tried inside object-valued tag entries.
	TagNameKeys []string `toml:"tag_name_keys"`

	// FallbackTextKeys are scanned when neither title nor description resolves.
	FallbackTextKeys []string `toml:"fallback_text_keys"`

	// Fields maps each canonical field to its candidate raw keys.
	Fields map[string][]string `toml:"fields"`
}

// DefaultAliasTable returns the built-in table covering all known variants
// of the search feed schema.
func DefaultAliasTable() *AliasTable {
	return &AliasTable{
		Version:       "builtin-1",
		ItemsPath:     []string{"data", "items"},
		DetailKeys:    []string{"note_card", "noteCard"},
		DetailMarkers: []string{"title", "display_title", "displayTitle", "desc", "content", "interact_info", "interactInfo"},
		InteractKeys:  []string{"interact_info", "interactInfo", "counts"},
		UserKeys:      []string{"user"},
		CoverKeys:     []string{"url_default", "url", "origin"},
		TagNameKeys:   []string{"name", "tag_name", "tagName", "display_name", "displayName"},
		FallbackTextKeys: []string{
			"display_title", "displayTitle", "title",
			"desc", "content", "description", "name", "text",
		},
		Fields: map[string][]string{
			FieldID:          {"id", "noteId", "note_id"},
			FieldTitle:       {"display_title", "displayTitle", "title", "name"},
			FieldDescription: {"desc", "content", "description"},
			FieldLiked:       {"liked_count", "likedCount", "likes"},
			FieldCollected:   {"collected_count", "collectedCount", "collects"},
			FieldComment:     {"comment_count", "commentCount"},
			FieldShare:       {"shared_count", "shareCount", "share_count"},
			FieldTags:        {"tag_list", "tagList", "tags"},
			FieldCover:       {"cover"},
			FieldNoteType:    {"type", "note_type"},
			FieldAuthorID:    {"user_id", "userId", "id"},
			FieldAuthorName:  {"nickname", "nick_name", "name", "user_name"},
		},
	}
}

// Keys returns the candidate raw keys for a canonical field.
func (t *AliasTable) Keys(field string) []string {
	return t.Fields[field]
}

// Merge extends t with other. Candidate keys from other are appended after
// the existing ones (existing preference order wins); a non-empty version
// or items path in other replaces t's.
func (t *AliasTable) Merge(other *AliasTable) {
	if other == nil {
		return
	}
	if other.Version != "" {
		t.Version = other.Version
	}
	if len(other.ItemsPath) > 0 {
		t.ItemsPath = slices.Clone(other.ItemsPath)
	}
	t.DetailKeys = appendMissing(t.DetailKeys, other.DetailKeys)
	t.DetailMarkers = appendMissing(t.DetailMarkers, other.DetailMarkers)
	t.InteractKeys = appendMissing(t.InteractKeys, other.InteractKeys)
	t.UserKeys = appendMissing(t.UserKeys, other.UserKeys)
	t.CoverKeys = appendMissing(t.CoverKeys, other.CoverKeys)
	t.TagNameKeys = appendMissing(t.TagNameKeys, other.TagNameKeys)
	t.FallbackTextKeys = appendMissing(t.FallbackTextKeys, other.FallbackTextKeys)

	if t.Fields == nil {
		t.Fields = make(map[string][]string, len(other.Fields))
	}
	for field, keys := range other.Fields {
		t.Fields[field] = appendMissing(t.Fields[field], keys)
	}
}

// Validate checks that the table can resolve the mandatory fields.
func (t *AliasTable) Validate() error {
	if len(t.ItemsPath) == 0 {
		return fmt.Errorf("%w: items_path is empty", ErrInvalidAliasTable)
	}
	if len(t.Keys(FieldID)) == 0 {
		return fmt.Errorf("%w: no candidate keys for %q", ErrInvalidAliasTable, FieldID)
	}
	if len(t.Keys(FieldTitle)) == 0 && len(t.Keys(FieldDescription)) == 0 {
		return fmt.Errorf("%w: no candidate keys for title or description", ErrInvalidAliasTable)
	}
	return nil
}

// LoadAliasTable reads a TOML alias table and merges it over the built-in
// table, so files only need to list what they add.
func LoadAliasTable(path string) (*AliasTable, error) {
	var extra AliasTable
	if _, err := toml.DecodeFile(path, &extra); err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidAliasTable, path, err)
	}

	table := DefaultAliasTable()
	table.Merge(&extra)
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

func appendMissing(dst, src []string) []string {
	for _, k := range src {
		if !slices.Contains(dst, k) {
			dst = append(dst, k)
		}
	}
	return dst
}
