package domain

import "time"

// CandidatePost is an externally captured short-form post awaiting relevance
// evaluation. The capture layer owns it; this core treats it as read-only.
type CandidatePost struct {
	ID          string     `json:"id"`
	Platform    string     `json:"platform"`
	Author      string     `json:"author"`
	BodyText    string     `json:"body_text"`
	Engagement  Engagement `json:"engagement,omitempty"`
	ExtractedAt time.Time  `json:"extracted_at"`
}

// Engagement holds optional counters captured with a post
type Engagement struct {
	Likes   int `json:"likes,omitempty"`
	Reposts int `json:"reposts,omitempty"`
	Replies int `json:"replies,omitempty"`
}

// Key returns the composite identity of a post. Posts are unique by
// (platform, id), never by id alone.
func (p CandidatePost) Key() string {
	return p.Platform + ":" + p.ID
}
