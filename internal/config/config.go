// Package config provides configuration loading for feedcurate.
//
// Configuration comes from built-in defaults, an optional YAML file and
// FEEDCURATE_* environment variables, in increasing precedence. Command-line
// flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/feedcurate/internal/retry"
)

// Sort orders accepted by the search page.
const (
	SortTimeDescending = "time_descending"
	SortHot            = "hot"
	SortComprehensive  = "comprehensive"
)

// MaxNotesLimit is the largest accepted search.max_notes.
const MaxNotesLimit = 500

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete feedcurate configuration.
//
// The logging and telemetry sections are decoded by their own packages
// through Section, since both depend on this one.
type Config struct {
	Search  SearchConfig  `koanf:"search"`
	Ingest  IngestConfig  `koanf:"ingest"`
	Curate  CurateConfig  `koanf:"curate"`
	Retry   retry.Config  `koanf:"retry"`
	Browser BrowserConfig `koanf:"browser"`
	Spool   SpoolConfig   `koanf:"spool"`
	Output  OutputConfig  `koanf:"output"`
	NATS    NATSConfig    `koanf:"nats"`
	Metrics MetricsConfig `koanf:"metrics"`

	k *koanf.Koanf
}

// SearchConfig describes what to collect.
type SearchConfig struct {
	Keyword  string `koanf:"keyword"`
	Sort     string `koanf:"sort"`
	NoteType int    `koanf:"note_type"`
	Source   string `koanf:"source"`

	// MaxNotes is the ingest target count.
	MaxNotes int `koanf:"max_notes"`

	// MinLikes drops records below this like count; 0 disables the filter.
	MinLikes int64 `koanf:"min_likes"`
}

// IngestConfig tunes the ingestion loop.
type IngestConfig struct {
	MaxAttempts int      `koanf:"max_attempts"`
	WaitTimeout Duration `koanf:"wait_timeout"`

	// DebugPages is how many raw pages are dumped for later replay.
	DebugPages int `koanf:"debug_pages"`

	// AliasTable optionally points at a TOML alias table.
	AliasTable string `koanf:"alias_table"`
}

// CurateConfig tunes premium selection.
type CurateConfig struct {
	// Trigger is the record count above which selection runs.
	Trigger int `koanf:"trigger"`

	SelectCount        int           `koanf:"select_count"`
	DiversityThreshold float64       `koanf:"diversity_threshold"`
	Weights            WeightsConfig `koanf:"weights"`
}

// WeightsConfig holds the engagement weights of the quality score.
type WeightsConfig struct {
	Likes    float64 `koanf:"likes"`
	Collects float64 `koanf:"collects"`
	Comments float64 `koanf:"comments"`
	Shares   float64 `koanf:"shares"`
}

// BrowserConfig drives the headless browser feed source.
type BrowserConfig struct {
	ExecPath      string   `koanf:"exec_path"`
	Headless      bool     `koanf:"headless"`
	UserDataDir   string   `koanf:"user_data_dir"`
	BaseURL       string   `koanf:"base_url"`
	ListenPattern string   `koanf:"listen_pattern"`
	ScrollPixels  int      `koanf:"scroll_pixels"`
	InitialLoad   Duration `koanf:"initial_load"`
	Settle        Duration `koanf:"settle"`

	// AdvanceRate limits scrolls per second.
	AdvanceRate float64 `koanf:"advance_rate"`

	// Cookies are injected before navigation to reuse a logged-in session.
	Cookies      Cookies `koanf:"cookies"`
	CookieDomain string  `koanf:"cookie_domain"`
}

// SpoolConfig drives the spool directory feed source.
type SpoolConfig struct {
	Dir         string  `koanf:"dir"`
	Pattern     string  `koanf:"pattern"`
	AdvanceRate float64 `koanf:"advance_rate"`
}

// OutputConfig locates run artefacts.
type OutputConfig struct {
	ResultsDir string `koanf:"results_dir"`
	DebugDir   string `koanf:"debug_dir"`
}

// NATSConfig controls hand-off of curated records.
type NATSConfig struct {
	Enabled       bool     `koanf:"enabled"`
	URL           string   `koanf:"url"`
	SubjectPrefix string   `koanf:"subject_prefix"`
	Token         Secret   `koanf:"token"`
	Timeout       Duration `koanf:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Addr            string   `koanf:"addr"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Search: SearchConfig{
			Sort:     SortTimeDescending,
			NoteType: 51,
			Source:   "web_explore_feed",
			MaxNotes: 50,
		},
		Ingest: IngestConfig{
			MaxAttempts: 50,
			WaitTimeout: Duration(5 * time.Second),
			DebugPages:  3,
		},
		Curate: CurateConfig{
			Trigger:            20,
			SelectCount:        50,
			DiversityThreshold: 0.6,
			Weights:            WeightsConfig{Likes: 1.0, Collects: 0.8, Comments: 0.6, Shares: 0.4},
		},
		Retry: retry.DefaultConfig(),
		Browser: BrowserConfig{
			Headless:      true,
			BaseURL:       "https://www.xiaohongshu.com",
			ListenPattern: "web/v1/search/notes",
			ScrollPixels:  800,
			InitialLoad:   Duration(3 * time.Second),
			Settle:        Duration(2 * time.Second),
			AdvanceRate:   0.5,
			CookieDomain:  ".xiaohongshu.com",
		},
		Spool: SpoolConfig{
			Pattern:     "*.json",
			AdvanceRate: 10,
		},
		Output: OutputConfig{
			ResultsDir: "results",
			DebugDir:   "logs/debug",
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "feedcurate.records",
			Timeout:       Duration(5 * time.Second),
		},
		Metrics: MetricsConfig{
			Addr:            "127.0.0.1:9464",
			ShutdownTimeout: Duration(5 * time.Second),
		},
	}
}

// Section decodes the named top-level section into out, leaving fields the
// sources did not set untouched. It is a no-op for a Config not produced by
// Load.
func (c *Config) Section(name string, out any) error {
	if c.k == nil || !c.k.Exists(name) {
		return nil
	}
	if err := c.k.Unmarshal(name, out); err != nil {
		return fmt.Errorf("failed to decode %s section: %w", name, err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Search.Sort {
	case SortTimeDescending, SortHot, SortComprehensive:
	default:
		add("search.sort must be one of %s, %s, %s; got %q",
			SortTimeDescending, SortHot, SortComprehensive, c.Search.Sort)
	}
	if c.Search.MaxNotes < 1 || c.Search.MaxNotes > MaxNotesLimit {
		add("search.max_notes must be in [1,%d], got %d", MaxNotesLimit, c.Search.MaxNotes)
	}
	if c.Search.MinLikes < 0 {
		add("search.min_likes must be >= 0, got %d", c.Search.MinLikes)
	}

	if c.Ingest.MaxAttempts < 1 {
		add("ingest.max_attempts must be >= 1, got %d", c.Ingest.MaxAttempts)
	}
	if c.Ingest.WaitTimeout.Duration() <= 0 {
		add("ingest.wait_timeout must be positive")
	}
	if c.Ingest.DebugPages < 0 {
		add("ingest.debug_pages must be >= 0, got %d", c.Ingest.DebugPages)
	}

	if c.Curate.DiversityThreshold <= 0 || c.Curate.DiversityThreshold > 1 {
		add("curate.diversity_threshold must be in (0,1], got %v", c.Curate.DiversityThreshold)
	}
	if c.Curate.Trigger < 0 || c.Curate.SelectCount < 0 {
		add("curate.trigger and curate.select_count must be >= 0")
	}
	w := c.Curate.Weights
	if w.Likes <= 0 || w.Collects < 0 || w.Comments < 0 || w.Shares < 0 {
		add("curate.weights must be non-negative with a positive likes weight")
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Browser.ScrollPixels <= 0 {
		add("browser.scroll_pixels must be positive, got %d", c.Browser.ScrollPixels)
	}
	if c.Browser.ListenPattern == "" {
		add("browser.listen_pattern is required")
	}
	if c.Browser.AdvanceRate <= 0 || c.Spool.AdvanceRate <= 0 {
		add("advance_rate must be positive")
	}

	if c.Output.ResultsDir == "" {
		add("output.results_dir is required")
	}

	if c.NATS.Enabled {
		if c.NATS.URL == "" {
			add("nats.url is required when nats is enabled")
		}
		if c.NATS.SubjectPrefix == "" {
			add("nats.subject_prefix is required when nats is enabled")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics.addr is required when metrics are enabled")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}
