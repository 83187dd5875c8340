package matcher

import (
	"context"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyscope/replyscope/pkg/config"
	"github.com/replyscope/replyscope/pkg/domain"
	"github.com/replyscope/replyscope/pkg/llm"
)

// fakeClient returns canned completions and records requests
type fakeClient struct {
	reply    string
	err      error
	requests []openai.ChatCompletionRequest
}

func (f *fakeClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func matchCfg() config.MatchConfig {
	return config.MatchConfig{
		Mode: "ai", Threshold: 0.3, CacheTTL: time.Hour,
		MaxFeedItems: 10, FeedCharBudget: 300, PostCharBudget: 500, MaxStyleExamples: 3,
		QueueLimit: 100, MaxMatches: 50,
	}
}

func testDoc() *domain.FeedDocument {
	return &domain.FeedDocument{
		Title: "Dev Blog",
		Items: []domain.FeedItem{
			{Title: "Scaling Go services", Description: "profiling allocation hotspots in production services"},
		},
	}
}

func post(id string) domain.CandidatePost {
	return domain.CandidatePost{ID: id, Platform: "mastodon", Author: "someone", BodyText: "talking about scaling go services and profiling"}
}

func TestMatcher_MatchPosts(t *testing.T) {
	client := &fakeClient{reply: `Here you go:
{"matches":[{"id":"p1","platform":"mastodon","score":0.8,"reason":"talks about go scaling","keywords":["scaling","go"],"replies":["nice post!","we wrote about this"]}]}`}
	m := New(client, matchCfg(), config.LLMConfig{Model: "test-model"})

	results, err := m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1")}, testDoc(), []string{"my style"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, "mastodon:p1", res.Key())
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.Equal(t, "talks about go scaling", res.Reason)
	assert.Equal(t, []string{"scaling", "go"}, res.MatchedKeywords)
	assert.Equal(t, domain.StatusPending, res.Status)
	require.Len(t, res.ReplySuggestions, 2)
	assert.NotEmpty(t, res.ReplySuggestions[0].ID)
	assert.Equal(t, "nice post!", res.ReplySuggestions[0].Text)

	require.Len(t, client.requests, 1)
	prompt := client.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "Dev Blog")
	assert.Contains(t, prompt, "Scaling Go services")
	assert.Contains(t, prompt, "my style")
	assert.Contains(t, prompt, "id: p1")
}

func TestMatcher_CacheHit(t *testing.T) {
	client := &fakeClient{reply: `{"matches":[{"id":"p1","platform":"mastodon","score":0.9,"reason":"r"}]}`}
	m := New(client, matchCfg(), config.LLMConfig{})

	_, err := m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1")}, testDoc(), nil)
	require.NoError(t, err)

	results, err := m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1")}, testDoc(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, client.requests, 1, "second pass served from cache")

	m.ClearCache()
	_, err = m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1")}, testDoc(), nil)
	require.NoError(t, err)
	assert.Len(t, client.requests, 2, "cleared cache forces a new request")
}

func TestMatcher_CacheExpiry(t *testing.T) {
	client := &fakeClient{reply: `{"matches":[{"id":"p1","platform":"mastodon","score":0.9,"reason":"r"}]}`}
	now := time.Now()
	m := newWithClock(client, matchCfg(), config.LLMConfig{}, func() time.Time { return now })

	_, err := m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1")}, testDoc(), nil)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour) // past the 1h TTL
	_, err = m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1")}, testDoc(), nil)
	require.NoError(t, err)
	assert.Len(t, client.requests, 2)
}

func TestMatcher_PartialCachePartition(t *testing.T) {
	client := &fakeClient{reply: `{"matches":[{"id":"p1","platform":"mastodon","score":0.9,"reason":"r"},{"id":"p2","platform":"mastodon","score":0.7,"reason":"r"}]}`}
	m := New(client, matchCfg(), config.LLMConfig{})

	_, err := m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1"), post("p2")}, testDoc(), nil)
	require.NoError(t, err)

	// p1, p2 cached; only p3 goes to the model
	client.reply = `{"matches":[{"id":"p3","platform":"mastodon","score":0.5,"reason":"r"}]}`
	results, err := m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1"), post("p2"), post("p3")}, testDoc(), nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	require.Len(t, client.requests, 2)
	assert.NotContains(t, client.requests[1].Messages[1].Content, "id: p1")
	assert.Contains(t, client.requests[1].Messages[1].Content, "id: p3")
}

func TestMatcher_ThresholdAndClamping(t *testing.T) {
	client := &fakeClient{reply: `{"matches":[
		{"id":"low","platform":"mastodon","score":0.1,"reason":"too weak"},
		{"id":"high","platform":"mastodon","score":1.7,"reason":"overshoot"},
		{"id":"unknown","platform":"mastodon","score":0.9,"reason":"not in batch"}]}`}
	m := New(client, matchCfg(), config.LLMConfig{})

	results, err := m.MatchPosts(context.Background(),
		[]domain.CandidatePost{post("low"), post("high")}, testDoc(), nil)
	require.NoError(t, err)

	require.Len(t, results, 1, "below-threshold and unknown entries dropped")
	assert.Equal(t, "high", results[0].Post.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9, "score clamped to 1")
}

func TestMatcher_FallbackOnServerError(t *testing.T) {
	client := &fakeClient{err: &llm.Error{Kind: llm.KindServer, StatusCode: 500, Message: "boom"}}
	m := New(client, matchCfg(), config.LLMConfig{})

	// post body overlaps the feed keywords enough to clear the threshold
	p := domain.CandidatePost{ID: "p1", Platform: "mastodon", BodyText: "profiling allocation hotspots in go services"}
	results, err := m.MatchPosts(context.Background(), []domain.CandidatePost{p}, testDoc(), nil)
	require.NoError(t, err, "server errors degrade to keyword scoring")
	require.Len(t, results, 1)
	assert.Equal(t, "mastodon:p1", results[0].Key())
	assert.NotEmpty(t, results[0].MatchedKeywords)
}

func TestMatcher_FallbackOnMalformedReply(t *testing.T) {
	client := &fakeClient{reply: "sorry, I cannot help with that"}
	m := New(client, matchCfg(), config.LLMConfig{})

	p := domain.CandidatePost{ID: "p1", Platform: "mastodon", BodyText: "profiling allocation hotspots in go services"}
	results, err := m.MatchPosts(context.Background(), []domain.CandidatePost{p}, testDoc(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1, "keyword fallback still produces the match")
}

func TestMatcher_PropagatesTerminalErrors(t *testing.T) {
	for _, kind := range []llm.ErrorKind{llm.KindAuth, llm.KindInsufficientBalance} {
		t.Run(string(kind), func(t *testing.T) {
			client := &fakeClient{err: &llm.Error{Kind: kind, Message: "nope"}}
			m := New(client, matchCfg(), config.LLMConfig{})

			_, err := m.MatchPosts(context.Background(), []domain.CandidatePost{post("p1")}, testDoc(), nil)
			require.Error(t, err)
			assert.Equal(t, kind, llm.KindOf(err))
		})
	}
}

func TestMatcher_PromptBudgets(t *testing.T) {
	cfg := matchCfg()
	cfg.MaxFeedItems = 1
	cfg.FeedCharBudget = 10
	cfg.PostCharBudget = 15
	cfg.MaxStyleExamples = 1
	cfg.CustomRules = "always be kind"
	client := &fakeClient{reply: `{"matches":[]}`}
	m := New(client, cfg, config.LLMConfig{})

	doc := &domain.FeedDocument{Title: "Blog", Items: []domain.FeedItem{
		{Title: "first", Description: "this description is longer than ten characters"},
		{Title: "second item must not appear"},
	}}
	p := domain.CandidatePost{ID: "p1", Platform: "x", BodyText: "a post body that is quite long indeed"}

	_, err := m.MatchPosts(context.Background(), []domain.CandidatePost{p}, doc,
		[]string{"style one", "style two must not appear"})
	require.NoError(t, err)

	prompt := client.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "this descr...")
	assert.NotContains(t, prompt, "second item")
	assert.NotContains(t, prompt, "style two")
	assert.Contains(t, prompt, "always be kind")
	assert.Contains(t, prompt, "a post body tha...")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "lon...", truncate("longer", 3))
	assert.Equal(t, "whatever", truncate("whatever", 0), "zero budget means unlimited")

	// cuts land on rune boundaries, never mid-codepoint
	assert.Equal(t, "привет...", truncate("привет мир", 12), "cyrillic runes are 2 bytes")
	assert.Equal(t, "при...", truncate("привет мир", 7), "backs up over a split rune")
	assert.True(t, utf8.ValidString(truncate("日本語のテキスト", 10)))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.5))
	assert.Equal(t, 0.5, clamp01(0.5))
	assert.Equal(t, 1.0, clamp01(1.5))
}
