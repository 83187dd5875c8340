package matcher

import (
	"sort"

	"github.com/replyscope/replyscope/pkg/domain"
)

// Merge reconciles a fresh matching pass with previously stored results. A
// fresher pass may change why something matched (score, reason, keywords)
// but must never discard the user's replied/skipped action or draft text:
//   - incoming results carry over status and draft from their existing
//     counterpart, keeping everything else fresh
//   - existing non-pending entries with no incoming counterpart are retained
//     (a completed action should not vanish because a later pass didn't
//     re-surface the post)
//   - existing still-pending entries with no counterpart are dropped, the
//     re-analysis superseded them
//
// Matching is by composite (platform, id) key. The result is sorted by score
// descending and truncated to maxResults. Merging a set with itself is a
// no-op.
func Merge(existing, incoming []domain.MatchResult, maxResults int) []domain.MatchResult {
	prev := make(map[string]domain.MatchResult, len(existing))
	for _, e := range existing {
		prev[e.Key()] = e
	}

	merged := make([]domain.MatchResult, 0, len(existing)+len(incoming))
	seen := make(map[string]bool, len(incoming))
	for _, inc := range incoming {
		if seen[inc.Key()] {
			continue
		}
		seen[inc.Key()] = true
		if p, ok := prev[inc.Key()]; ok {
			inc.Status = p.Status
			inc.DraftReply = p.DraftReply
			if len(inc.ReplySuggestions) == 0 {
				inc.ReplySuggestions = p.ReplySuggestions
			}
			if inc.Tone == nil {
				inc.Tone = p.Tone
			}
		}
		merged = append(merged, inc)
	}

	for _, e := range existing {
		if seen[e.Key()] || e.Status == domain.StatusPending {
			continue
		}
		merged = append(merged, e)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if maxResults > 0 && len(merged) > maxResults {
		merged = merged[:maxResults]
	}
	return merged
}
