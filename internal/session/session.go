// Package session lays out the on-disk artefacts of one curation run.
//
// A session directory is results/<keyword>_<YYYYMMDD_HHMMSS>/ with data/ for
// JSON artefacts and images/ for downstream image generation.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Artefact names inside the data directory. The last three are written by
// downstream stages and are reserved here.
const (
	NotesFile         = "notes.json"
	ReportFile        = "ingest_report.json"
	AIResultFile      = "ai_result.json"
	TopicsFile        = "topics.json"
	PublishResultFile = "publish_result.json"
)

const (
	dataDir   = "data"
	imagesDir = "images"

	// TimestampLayout formats the session directory suffix.
	TimestampLayout = "20060102_150405"

	maxKeywordRunes = 20
)

// ErrEmptyKeyword is returned when a keyword has no usable characters.
var ErrEmptyKeyword = errors.New("keyword has no usable characters")

// Session identifies one run and its directory.
type Session struct {
	ID        string    `json:"id"`
	Keyword   string    `json:"keyword"`
	StartedAt time.Time `json:"started_at"`
	Dir       string    `json:"dir"`
}

// Option configures New.
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator overrides the random session ID.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}

// New creates the session directory tree under root.
func New(root, keyword string, opts ...Option) (*Session, error) {
	o := options{now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}

	safe := SafeKeyword(keyword)
	if safe == "" {
		return nil, fmt.Errorf("%w: %q", ErrEmptyKeyword, keyword)
	}

	started := o.now()
	s := &Session{
		ID:        o.newID(),
		Keyword:   keyword,
		StartedAt: started,
		Dir:       filepath.Join(root, safe+"_"+started.Format(TimestampLayout)),
	}

	for _, dir := range []string{s.DataDir(), s.ImagesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	return s, nil
}

// DataDir returns the JSON artefact directory.
func (s *Session) DataDir() string { return filepath.Join(s.Dir, dataDir) }

// ImagesDir returns the image directory.
func (s *Session) ImagesDir() string { return filepath.Join(s.Dir, imagesDir) }

// Path returns the path of a named artefact in the data directory.
func (s *Session) Path(name string) string { return filepath.Join(s.DataDir(), name) }

// SafeKeyword keeps letters, digits, spaces, underscores and hyphens, trims
// surrounding space and cuts the result to 20 runes.
func SafeKeyword(keyword string) string {
	var b strings.Builder
	for _, r := range keyword {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	runes := []rune(strings.TrimSpace(b.String()))
	if len(runes) > maxKeywordRunes {
		runes = runes[:maxKeywordRunes]
	}
	return string(runes)
}
