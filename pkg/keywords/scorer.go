package keywords

import (
	"strings"

	"github.com/replyscope/replyscope/pkg/domain"
)

// Score rates a candidate post against a keyword set. It is a pure function:
// no I/O, no failure modes. An empty keyword set always yields 0.
//
// An exact phrase match weighs 1 + 0.5×(words-1), so multi-word phrases score
// higher; a partial match weighs matched/total keyword words. The final score
// blends distinct-keyword coverage (saturating at 5 keywords, 60%) with
// average match weight (40%). The constants are tuned empirically and kept
// as-is for behavioral compatibility.
func Score(post domain.CandidatePost, kws []string) (score float64, matched []string) {
	if len(kws) == 0 {
		return 0, nil
	}

	text := normalize(post.Author + " " + post.BodyText)
	textWords := map[string]bool{}
	for _, w := range strings.Fields(text) {
		textWords[w] = true
	}

	var totalWeight float64
	for _, kw := range kws {
		phrase := normalize(kw)
		words := strings.Fields(phrase)
		if len(words) == 0 {
			continue
		}

		if strings.Contains(text, phrase) {
			totalWeight += 1 + 0.5*float64(len(words)-1)
			matched = append(matched, kw)
			continue
		}

		overlap := 0
		for _, w := range words {
			if textWords[w] {
				overlap++
			}
		}
		if overlap > 0 {
			totalWeight += float64(overlap) / float64(len(words))
			matched = append(matched, kw)
		}
	}

	if len(matched) == 0 {
		return 0, nil
	}

	countSignal := float64(len(matched)) / 5
	if countSignal > 1 {
		countSignal = 1
	}
	avgWeight := totalWeight / float64(len(matched))
	if avgWeight > 1 {
		avgWeight = 1
	}

	score = countSignal*0.6 + avgWeight*0.4
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score, matched
}

// normalize lowercases text and collapses non-alphanumeric runes to spaces
func normalize(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r >= 0x80: // keep non-ascii letters, posts are multilingual
			sb.WriteRune(r)
		default:
			sb.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
