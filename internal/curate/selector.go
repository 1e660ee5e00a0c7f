// Package curate ranks accumulated records by weighted engagement and
// selects a bounded, textually diverse subset of them.
package curate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedcurate/internal/logging"
	"github.com/fyrsmithlabs/feedcurate/internal/record"
)

const instrumentationName = "github.com/fyrsmithlabs/feedcurate/internal/curate"

const (
	// DefaultTrigger is the pool size above which selection runs.
	DefaultTrigger = 20
	// DefaultSelectCount bounds the selected subset.
	DefaultSelectCount = 50
	// DefaultDiversityThreshold is the exclusive similarity ceiling.
	DefaultDiversityThreshold = 0.6
)

// ErrInvalidThreshold is returned for a diversity threshold outside (0, 1].
var ErrInvalidThreshold = errors.New("diversity threshold must be in (0, 1]")

// Weights is the linear combination applied to the four interaction counts.
type Weights struct {
	Likes    float64 `koanf:"likes"`
	Collects float64 `koanf:"collects"`
	Comments float64 `koanf:"comments"`
	Shares   float64 `koanf:"shares"`
}

// DefaultWeights favours likes, then saves, then the conversational signals.
func DefaultWeights() Weights {
	return Weights{Likes: 1.0, Collects: 0.8, Comments: 0.6, Shares: 0.4}
}

// Validate checks that no weight is negative and likes carry weight.
func (w Weights) Validate() error {
	if w.Likes <= 0 {
		return fmt.Errorf("likes weight must be positive, got %v", w.Likes)
	}
	if w.Collects < 0 || w.Comments < 0 || w.Shares < 0 {
		return errors.New("weights must not be negative")
	}
	return nil
}

// Score returns the weighted quality score of r.
func (w Weights) Score(r *record.Record) float64 {
	return w.Likes*float64(r.LikedCount) +
		w.Collects*float64(r.CollectedCount) +
		w.Comments*float64(r.CommentCount) +
		w.Shares*float64(r.ShareCount)
}

// Scored pairs a selected record with its score.
type Scored struct {
	Record *record.Record
	Score  float64
}

// ShouldSelect reports whether a pool of count records is large enough to
// be winnowed.
func ShouldSelect(count, trigger int) bool {
	if trigger <= 0 {
		trigger = DefaultTrigger
	}
	return count > trigger
}

// SelectCount returns the subset size used for a pool of count records.
func SelectCount(count int) int {
	return min(DefaultSelectCount, count)
}

// Selector performs diversity-aware selection.
type Selector struct {
	weights    Weights
	similarity Similarity
	logger     *logging.Logger
	tracer     trace.Tracer
}

// Option configures a Selector.
type Option func(*Selector)

// WithWeights sets the scoring weights.
func WithWeights(w Weights) Option {
	return func(s *Selector) { s.weights = w }
}

// WithSimilarity sets the similarity function.
func WithSimilarity(fn Similarity) Option {
	return func(s *Selector) {
		if fn != nil {
			s.similarity = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Selector) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewSelector creates a Selector with DefaultWeights and TokenJaccard.
func NewSelector(opts ...Option) (*Selector, error) {
	s := &Selector{
		weights:    DefaultWeights(),
		similarity: TokenJaccard,
		logger:     logging.NewNop(),
		tracer:     otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	return s, nil
}

// SelectPremium scores every record, then walks them from best to worst
// and admits a record only when its similarity to every record already
// admitted is strictly below threshold. It stops after n admissions.
//
// Every input record gets its QualityScore set; admitted ones are marked
// Selected. Ties keep input order.
func (s *Selector) SelectPremium(ctx context.Context, records []*record.Record, n int, threshold float64) ([]Scored, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}

	_, span := s.tracer.Start(ctx, "curate.select_premium")
	defer span.End()
	span.SetAttributes(
		attribute.Int("curate.candidates", len(records)),
		attribute.Int("curate.n", n),
		attribute.Float64("curate.threshold", threshold),
	)

	// Ordering uses the raw score; only the stored score is rounded.
	type candidate struct {
		Scored
		raw float64
	}
	candidates := make([]candidate, len(records))
	for i, r := range records {
		raw := s.weights.Score(r)
		score := record.Round2(raw)
		r.QualityScore = &score
		r.Selected = false
		candidates[i] = candidate{Scored: Scored{Record: r, Score: score}, raw: raw}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].raw > candidates[j].raw
	})

	selected := make([]Scored, 0, min(max(n, 0), len(candidates)))
	skipped := 0
	for _, c := range candidates {
		if len(selected) >= n {
			break
		}
		if s.tooSimilar(c.Record, selected, threshold) {
			skipped++
			continue
		}
		c.Record.Selected = true
		selected = append(selected, c.Scored)
	}

	span.SetAttributes(
		attribute.Int("curate.selected", len(selected)),
		attribute.Int("curate.skipped_similar", skipped),
	)
	s.logger.Info(ctx, "premium selection complete",
		zap.Int("candidates", len(records)),
		zap.Int("selected", len(selected)),
		zap.Int("skipped_similar", skipped),
		zap.Float64("threshold", threshold),
	)
	return selected, nil
}

func (s *Selector) tooSimilar(r *record.Record, selected []Scored, threshold float64) bool {
	for _, other := range selected {
		if s.similarity(r, other.Record) >= threshold {
			return true
		}
	}
	return false
}

// Records unwraps a selection.
func Records(selected []Scored) []*record.Record {
	out := make([]*record.Record, len(selected))
	for i, s := range selected {
		out[i] = s.Record
	}
	return out
}
