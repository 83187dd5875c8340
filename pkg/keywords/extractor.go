package keywords

import (
	"sort"
	"strings"
	"unicode"

	"github.com/replyscope/replyscope/pkg/domain"
)

// stopWords are skipped when deriving keywords from feed text
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "can": true, "her": true, "was": true, "one": true,
	"our": true, "out": true, "has": true, "have": true, "had": true, "this": true,
	"that": true, "with": true, "they": true, "from": true, "will": true, "would": true,
	"there": true, "their": true, "what": true, "about": true, "which": true,
	"when": true, "your": true, "more": true, "been": true, "into": true, "them": true,
	"than": true, "then": true, "some": true, "also": true, "just": true, "over": true,
	"only": true, "very": true, "like": true, "how": true, "its": true, "who": true,
	"get": true, "make": true, "made": true, "after": true, "most": true, "other": true,
	"because": true, "these": true, "those": true, "where": true, "while": true,
	"here": true, "each": true, "does": true, "were": true, "being": true, "much": true,
}

// topBodyWords limits how many frequent body words each item contributes
const topBodyWords = 10

// Extract derives a deduplicated keyword set from a parsed feed: explicit
// categories plus the significant words of each item's title and the most
// frequent significant words of its body.
func Extract(doc *domain.FeedDocument) []string {
	seen := map[string]bool{}
	var out []string
	add := func(w string) {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			return
		}
		seen[w] = true
		out = append(out, w)
	}

	for _, item := range doc.Items {
		for _, c := range item.Categories {
			add(c)
		}

		// all significant title words
		for _, w := range tokenize(item.Title) {
			if significant(w) {
				add(w)
			}
		}

		// top body words by frequency
		body := item.Description
		if item.FullContent != "" {
			body = item.FullContent
		}
		freq := map[string]int{}
		for _, w := range tokenize(body) {
			if significant(w) {
				freq[w]++
			}
		}
		type wc struct {
			word  string
			count int
		}
		ranked := make([]wc, 0, len(freq))
		for w, c := range freq {
			ranked = append(ranked, wc{w, c})
		}
		sort.Slice(ranked, func(i, j int) bool {
			if ranked[i].count != ranked[j].count {
				return ranked[i].count > ranked[j].count
			}
			return ranked[i].word < ranked[j].word // stable order for equal counts
		})
		for i, r := range ranked {
			if i >= topBodyWords {
				break
			}
			add(r.word)
		}
	}

	return out
}

// significant reports whether a word is worth keeping as a keyword:
// at least 3 characters, not a stop word, not purely numeric
func significant(w string) bool {
	if len(w) < 3 || stopWords[w] {
		return false
	}
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// tokenize lowercases text and splits it on non-alphanumeric runes
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
