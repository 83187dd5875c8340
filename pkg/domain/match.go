package domain

import "time"

// MatchStatus tracks the user's action on a match
type MatchStatus string

// match statuses. Once a match leaves pending, reconciliation must never
// silently revert it.
const (
	StatusPending MatchStatus = "pending"
	StatusReplied MatchStatus = "replied"
	StatusSkipped MatchStatus = "skipped"
)

// Valid reports whether s is a known status
func (s MatchStatus) Valid() bool {
	return s == StatusPending || s == StatusReplied || s == StatusSkipped
}

// MatchResult is the outcome of evaluating a candidate post against the feed,
// produced by either the keyword or the AI matching pass.
type MatchResult struct {
	Post             CandidatePost       `json:"post"`
	Score            float64             `json:"score"` // always clamped to [0,1]
	MatchedKeywords  []string            `json:"matched_keywords,omitempty"`
	Reason           string              `json:"reason,omitempty"`
	MatchedAt        time.Time           `json:"matched_at"`
	Status           MatchStatus         `json:"status"`
	DraftReply       string              `json:"draft_reply,omitempty"`
	ReplySuggestions []ReplySuggestion   `json:"reply_suggestions,omitempty"`
	Tone             *ToneClassification `json:"tone,omitempty"`
}

// Key returns the composite (platform, id) key of the underlying post
func (m MatchResult) Key() string { return m.Post.Key() }

// ReplySuggestion is one generated reply option
type ReplySuggestion struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Tone labels for heat-check classification
const (
	TonePositive    = "positive"
	ToneEducational = "educational"
	ToneQuestion    = "question"
	ToneNegative    = "negative"
	TonePromotional = "promotional"
	ToneNeutral     = "neutral"
)

// ToneClassification is the heat-check verdict for an already-matched post
type ToneClassification struct {
	Tone        string `json:"tone"`
	Reason      string `json:"reason,omitempty"`
	Recommended bool   `json:"recommended"`
}

// KnownTone reports whether t is one of the recognized tone labels
func KnownTone(t string) bool {
	switch t {
	case TonePositive, ToneEducational, ToneQuestion, ToneNegative, TonePromotional, ToneNeutral:
		return true
	}
	return false
}
