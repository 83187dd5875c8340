package domain

import "time"

// ModelDescriptor describes one entry of the remote model catalog
type ModelDescriptor struct {
	ID              string    `json:"id"`
	DisplayName     string    `json:"display_name"`
	ContextLength   int       `json:"context_length"`
	PromptPrice     float64   `json:"prompt_price"`     // USD per token
	CompletionPrice float64   `json:"completion_price"` // USD per token
	ReleasedAt      time.Time `json:"released_at,omitempty"`
	IsRecommended   bool      `json:"is_recommended"`
}

// BlendedPrice combines input and output token costs for cost-tier display.
// Matching prompts are large and replies short, so input cost dominates.
func (m ModelDescriptor) BlendedPrice() float64 {
	return m.PromptPrice*0.75 + m.CompletionPrice*0.25
}
