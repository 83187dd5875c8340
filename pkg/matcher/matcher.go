package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-pkgz/lgr"
	"github.com/oklog/ulid/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/replyscope/replyscope/pkg/config"
	"github.com/replyscope/replyscope/pkg/domain"
	"github.com/replyscope/replyscope/pkg/keywords"
	"github.com/replyscope/replyscope/pkg/llm"
)

// CompletionClient is the completion API dependency of the matcher
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Matcher evaluates candidate posts against a feed using the completion API,
// with a per-post TTL cache and a keyword-scoring fallback. One batched
// request is issued per pass, never one per post, to control cost; requests
// are sequential because the client keeps shared rate-limiter state.
type Matcher struct {
	client CompletionClient
	cfg    config.MatchConfig
	llmCfg config.LLMConfig

	matches *ttlCache[domain.MatchResult]
	tones   *ttlCache[domain.ToneClassification]

	nowFn func() time.Time
}

// New creates a matcher
func New(client CompletionClient, cfg config.MatchConfig, llmCfg config.LLMConfig) *Matcher {
	return newWithClock(client, cfg, llmCfg, time.Now)
}

func newWithClock(client CompletionClient, cfg config.MatchConfig, llmCfg config.LLMConfig, nowFn func() time.Time) *Matcher {
	return &Matcher{
		client:  client,
		cfg:     cfg,
		llmCfg:  llmCfg,
		matches: newTTLCache[domain.MatchResult](cfg.CacheTTL, nowFn),
		tones:   newTTLCache[domain.ToneClassification](cfg.CacheTTL, nowFn),
		nowFn:   nowFn,
	}
}

// MatchPosts evaluates posts against the feed document. Cached results are
// reused; uncached posts go through a single batched completion call. Auth
// and insufficient-balance failures propagate unmodified (they require user
// action); any other client failure degrades to keyword scoring so the
// caller still gets a partial result.
func (m *Matcher) MatchPosts(ctx context.Context, posts []domain.CandidatePost, doc *domain.FeedDocument, styleExamples []string) ([]domain.MatchResult, error) {
	results := make([]domain.MatchResult, 0, len(posts))
	var uncached []domain.CandidatePost
	for _, p := range posts {
		if cached, ok := m.matches.get(p.Key()); ok {
			results = append(results, cached)
			continue
		}
		uncached = append(uncached, p)
	}
	if len(uncached) == 0 {
		return results, nil
	}

	fresh, err := m.matchBatch(ctx, uncached, doc, styleExamples)
	if err != nil {
		kind := llm.KindOf(err)
		if kind == llm.KindAuth || kind == llm.KindInsufficientBalance {
			return nil, err
		}
		lgr.Printf("[WARN] ai matching failed (%v), falling back to keyword scoring for %d posts", err, len(uncached))
		fresh = m.keywordFallback(uncached, doc)
	}

	return append(results, fresh...), nil
}

// matchBatch sends one completion request for the batch and parses the reply
func (m *Matcher) matchBatch(ctx context.Context, posts []domain.CandidatePost, doc *domain.FeedDocument, styleExamples []string) ([]domain.MatchResult, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.llmCfg.Model,
		Temperature: float32(m.llmCfg.Temperature),
		MaxTokens:   m.llmCfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: matchSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: m.buildMatchPrompt(posts, doc, styleExamples)},
		},
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	parsed, ok := parseMatchReply(resp.Choices[0].Message.Content)
	if !ok {
		// a malformed reply is recovered locally, the caller falls back
		return nil, fmt.Errorf("no valid json object in model reply")
	}

	byKey := make(map[string]domain.CandidatePost, len(posts))
	for _, p := range posts {
		byKey[p.Key()] = p
	}

	now := m.nowFn()
	var results []domain.MatchResult
	for _, entry := range parsed.Matches {
		post, ok := byKey[entry.Platform+":"+entry.ID]
		if !ok {
			lgr.Printf("[DEBUG] dropping match for unknown post %s:%s", entry.Platform, entry.ID)
			continue
		}
		score := clamp01(entry.Score)
		if score < m.cfg.Threshold {
			continue
		}

		res := domain.MatchResult{
			Post:            post,
			Score:           score,
			MatchedKeywords: entry.Keywords,
			Reason:          entry.Reason,
			MatchedAt:       now,
			Status:          domain.StatusPending,
		}
		for _, text := range entry.Replies {
			if strings.TrimSpace(text) == "" {
				continue
			}
			res.ReplySuggestions = append(res.ReplySuggestions, domain.ReplySuggestion{
				ID:        ulid.Make().String(),
				Text:      text,
				CreatedAt: now,
			})
		}
		m.matches.set(res.Key(), res)
		results = append(results, res)
	}
	return results, nil
}

// keywordFallback scores posts with the zero-cost keyword path
func (m *Matcher) keywordFallback(posts []domain.CandidatePost, doc *domain.FeedDocument) []domain.MatchResult {
	kws := keywords.Extract(doc)
	now := m.nowFn()
	var results []domain.MatchResult
	for _, p := range posts {
		score, matched := keywords.Score(p, kws)
		if score < m.cfg.Threshold {
			continue
		}
		results = append(results, domain.MatchResult{
			Post:            p,
			Score:           score,
			MatchedKeywords: matched,
			Reason:          fmt.Sprintf("matched %d feed keywords: %s", len(matched), strings.Join(matched, ", ")),
			MatchedAt:       now,
			Status:          domain.StatusPending,
		})
	}
	return results
}

// ClearCache drops all cached match and tone results
func (m *Matcher) ClearCache() {
	m.matches.clear()
	m.tones.clear()
}

// matchSystemPrompt instructs the model to act as a relevance scorer
const matchSystemPrompt = `You are an assistant that evaluates social media posts for relevance to the user's published content and drafts reply suggestions.

For each relevant post produce:
- id: the post id exactly as given
- platform: the post platform exactly as given
- score: relevance from 0.0 to 1.0
- reason: one sentence explaining the match (max 120 chars)
- keywords: the content topics the post touches
- replies: 1-3 short reply drafts in the user's voice, conversational, no hashtags unless the user's style uses them

Only include posts with a genuine topical connection to the published content. Respond with a single JSON object: {"matches": [...]}. No other text.`

// buildMatchPrompt assembles the user prompt within the configured budgets
func (m *Matcher) buildMatchPrompt(posts []domain.CandidatePost, doc *domain.FeedDocument, styleExamples []string) string {
	var sb strings.Builder

	sb.WriteString("Published content (")
	sb.WriteString(doc.Title)
	sb.WriteString("):\n")
	for i, item := range doc.Items {
		if i >= m.cfg.MaxFeedItems {
			break
		}
		summary := item.Description
		if summary == "" {
			summary = item.FullContent
		}
		sb.WriteString(fmt.Sprintf("- %s", item.Title))
		if summary != "" {
			sb.WriteString(": ")
			sb.WriteString(truncate(summary, m.cfg.FeedCharBudget))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(styleExamples) > 0 {
		sb.WriteString("Writing style examples:\n")
		for i, ex := range styleExamples {
			if i >= m.cfg.MaxStyleExamples {
				break
			}
			sb.WriteString("- ")
			sb.WriteString(truncate(ex, m.cfg.PostCharBudget))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if m.cfg.CustomRules != "" {
		sb.WriteString("Communication rules:\n")
		sb.WriteString(m.cfg.CustomRules)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Evaluate these posts:\n\n")
	for i, p := range posts {
		sb.WriteString(fmt.Sprintf("%d. id: %s\n   platform: %s\n   author: %s\n   text: %s\n\n",
			i+1, p.ID, p.Platform, p.Author, truncate(p.BodyText, m.cfg.PostCharBudget)))
	}

	sb.WriteString(`Respond with a JSON object {"matches": [{"id", "platform", "score", "reason", "keywords", "replies"}]}.`)
	return sb.String()
}

// matchReply is the expected shape of the model's matching reply
type matchReply struct {
	Matches []struct {
		ID       string   `json:"id"`
		Platform string   `json:"platform"`
		Score    float64  `json:"score"`
		Reason   string   `json:"reason"`
		Keywords []string `json:"keywords"`
		Replies  []string `json:"replies"`
	} `json:"matches"`
}

// parseMatchReply extracts and validates the JSON payload of a model reply
func parseMatchReply(content string) (matchReply, bool) {
	raw := extractJSONObject(content)
	if raw == "" {
		return matchReply{}, false
	}
	var reply matchReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return matchReply{}, false
	}
	return reply, true
}

// truncate cuts s to at most n bytes on a rune boundary, marking the cut
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// clamp01 clamps a score to [0,1]
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
