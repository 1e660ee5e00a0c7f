// Package record defines the canonical feed record produced by normalization
// and the rejection taxonomy shared by every stage of the curation pipeline.
package record

import (
	"math"
	"time"
)

// UnknownAuthor is the display name used when no author name resolves.
const UnknownAuthor = "unknown"

// Author identifies the creator of a record.
type Author struct {
	ID          *string `json:"id"`
	DisplayName string  `json:"display_name"`
}

// Record is the canonical, validated representation of one feed item.
//
// A Record is created once per accepted identifier and is not modified
// afterwards, except for QualityScore and Selected which the ranker sets.
type Record struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`

	LikedCount     int64   `json:"liked_count"`
	CollectedCount int64   `json:"collected_count"`
	CommentCount   int64   `json:"comment_count"`
	ShareCount     int64   `json:"share_count"`
	TotalInteract  int64   `json:"total_interact"`
	EngagementRate float64 `json:"engagement_rate"`

	Tags     []string `json:"tags"`
	Author   Author   `json:"author"`
	CoverURL string   `json:"cover_url"`
	NoteType string   `json:"note_type,omitempty"`

	CapturedAt time.Time `json:"captured_at"`

	QualityScore *float64 `json:"quality_score,omitempty"`
	Selected     bool     `json:"selected,omitempty"`

	// Raw is the source item, kept only when debug capture is enabled.
	Raw map[string]any `json:"raw_data,omitempty"`
}

// Text returns the title and description joined for similarity scoring.
func (r *Record) Text() string {
	switch {
	case r.Title == "":
		return r.Description
	case r.Description == "":
		return r.Title
	default:
		return r.Title + " " + r.Description
	}
}

// SetCounts stores the four interaction counts and derives TotalInteract
// and EngagementRate from them.
func (r *Record) SetCounts(liked, collected, comments, shares int64) {
	r.LikedCount = liked
	r.CollectedCount = collected
	r.CommentCount = comments
	r.ShareCount = shares
	r.TotalInteract = addCounts(liked, collected, comments, shares)
	r.EngagementRate = EngagementRate(r.TotalInteract, liked)
}

// addCounts sums non-negative counts, saturating at math.MaxInt64.
func addCounts(counts ...int64) int64 {
	var total int64
	for _, c := range counts {
		if c <= 0 {
			continue
		}
		if c > math.MaxInt64-total {
			return math.MaxInt64
		}
		total += c
	}
	return total
}

// EngagementRate returns total / max(liked, 1) rounded to two decimals.
func EngagementRate(total, liked int64) float64 {
	if liked < 1 {
		liked = 1
	}
	return Round2(float64(total) / float64(liked))
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
