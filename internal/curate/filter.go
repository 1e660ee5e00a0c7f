package curate

import (
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/feedcurate/internal/record"
)

// SortField names a numeric record field usable with TopN.
type SortField string

const (
	ByLikes          SortField = "liked_count"
	ByCollects       SortField = "collected_count"
	ByComments       SortField = "comment_count"
	ByShares         SortField = "share_count"
	ByTotalInteract  SortField = "total_interact"
	ByEngagementRate SortField = "engagement_rate"
	ByQualityScore   SortField = "quality_score"
)

func (f SortField) value(r *record.Record) (float64, error) {
	switch f {
	case ByLikes:
		return float64(r.LikedCount), nil
	case ByCollects:
		return float64(r.CollectedCount), nil
	case ByComments:
		return float64(r.CommentCount), nil
	case ByShares:
		return float64(r.ShareCount), nil
	case ByTotalInteract:
		return float64(r.TotalInteract), nil
	case ByEngagementRate:
		return r.EngagementRate, nil
	case ByQualityScore:
		if r.QualityScore == nil {
			return 0, nil
		}
		return *r.QualityScore, nil
	}
	return 0, fmt.Errorf("unknown sort field %q", string(f))
}

// FilterByInteraction keeps records meeting all three minimums.
func FilterByInteraction(records []*record.Record, minLikes, minComments, minCollects int64) []*record.Record {
	out := make([]*record.Record, 0, len(records))
	for _, r := range records {
		if r.LikedCount >= minLikes && r.CommentCount >= minComments && r.CollectedCount >= minCollects {
			out = append(out, r)
		}
	}
	return out
}

// FilterByEngagementRate keeps records whose engagement rate is at least minRate.
func FilterByEngagementRate(records []*record.Record, minRate float64) []*record.Record {
	out := make([]*record.Record, 0, len(records))
	for _, r := range records {
		if r.EngagementRate >= minRate {
			out = append(out, r)
		}
	}
	return out
}

// TopN returns up to n records ordered by field, descending. The input is
// not reordered.
func TopN(records []*record.Record, n int, field SortField) ([]*record.Record, error) {
	if _, err := field.value(&record.Record{}); err != nil {
		return nil, err
	}
	sorted := make([]*record.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, _ := field.value(sorted[i])
		b, _ := field.value(sorted[j])
		return a > b
	})
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted, nil
}
