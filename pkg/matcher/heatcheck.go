package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-pkgz/lgr"
	"github.com/sashabaranov/go-openai"

	"github.com/replyscope/replyscope/pkg/domain"
	"github.com/replyscope/replyscope/pkg/llm"
)

// HeatCheckPosts classifies the conversational tone of already-matched posts
// and recommends whether to engage. It is a parallel pipeline with its own
// cache; on transient failure the classification is simply omitted, there is
// no keyword equivalent for tone. Auth and insufficient-balance failures
// propagate like in MatchPosts.
func (m *Matcher) HeatCheckPosts(ctx context.Context, results []domain.MatchResult) ([]domain.MatchResult, error) {
	out := make([]domain.MatchResult, len(results))
	copy(out, results)

	var pending []domain.CandidatePost
	for i := range out {
		if out[i].Tone != nil {
			continue
		}
		if tone, ok := m.tones.get(out[i].Key()); ok {
			t := tone
			out[i].Tone = &t
			continue
		}
		pending = append(pending, out[i].Post)
	}
	if len(pending) == 0 {
		return out, nil
	}

	tones, err := m.toneBatch(ctx, pending)
	if err != nil {
		kind := llm.KindOf(err)
		if kind == llm.KindAuth || kind == llm.KindInsufficientBalance {
			return nil, err
		}
		lgr.Printf("[WARN] heat check failed (%v), omitting tone for %d posts", err, len(pending))
		return out, nil
	}

	for i := range out {
		if out[i].Tone != nil {
			continue
		}
		if tone, ok := tones[out[i].Key()]; ok {
			t := tone
			out[i].Tone = &t
		}
	}
	return out, nil
}

// toneBatch sends one classification request for the batch
func (m *Matcher) toneBatch(ctx context.Context, posts []domain.CandidatePost) (map[string]domain.ToneClassification, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.llmCfg.Model,
		Temperature: float32(m.llmCfg.Temperature),
		MaxTokens:   m.llmCfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: toneSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: m.buildTonePrompt(posts)},
		},
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	raw := extractJSONObject(resp.Choices[0].Message.Content)
	if raw == "" {
		return nil, fmt.Errorf("no valid json object in tone reply")
	}
	var reply struct {
		Tones []struct {
			ID          string `json:"id"`
			Platform    string `json:"platform"`
			Tone        string `json:"tone"`
			Reason      string `json:"reason"`
			Recommended bool   `json:"recommended"`
		} `json:"tones"`
	}
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("parse tone reply: %w", err)
	}

	tones := make(map[string]domain.ToneClassification, len(reply.Tones))
	for _, t := range reply.Tones {
		tone := strings.ToLower(strings.TrimSpace(t.Tone))
		if t.ID == "" || !domain.KnownTone(tone) {
			continue
		}
		tc := domain.ToneClassification{Tone: tone, Reason: t.Reason, Recommended: t.Recommended}
		key := t.Platform + ":" + t.ID
		tones[key] = tc
		m.tones.set(key, tc)
	}
	return tones, nil
}

// toneSystemPrompt instructs the model to act as a tone classifier
const toneSystemPrompt = `You classify the conversational tone of social media posts to help decide whether replying is worthwhile.

For each post produce:
- id and platform exactly as given
- tone: one of positive, educational, question, negative, promotional, neutral
- reason: one short sentence
- recommended: true when engaging is likely to be well received

Respond with a single JSON object: {"tones": [...]}. No other text.`

// buildTonePrompt assembles the tone-check prompt
func (m *Matcher) buildTonePrompt(posts []domain.CandidatePost) string {
	var sb strings.Builder
	sb.WriteString("Classify the tone of these posts:\n\n")
	for i, p := range posts {
		sb.WriteString(fmt.Sprintf("%d. id: %s\n   platform: %s\n   author: %s\n   text: %s\n\n",
			i+1, p.ID, p.Platform, p.Author, truncate(p.BodyText, m.cfg.PostCharBudget)))
	}
	sb.WriteString(`Respond with a JSON object {"tones": [{"id", "platform", "tone", "reason", "recommended"}]}.`)
	return sb.String()
}
