package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyscope/replyscope/pkg/domain"
	"github.com/replyscope/replyscope/pkg/llm"
	"github.com/replyscope/replyscope/pkg/service"
)

type fakeConfig struct{}

func (fakeConfig) GetServerConfig() (string, time.Duration) { return ":0", 30 * time.Second }

// fakeService implements AnalyzerService with programmable responses
type fakeService struct {
	matches    []domain.MatchResult
	analyzeErr error
	matchErr   error
	doc        *domain.FeedDocument
	feedErr    error
	cleared    bool
	lastForce  bool
}

func (f *fakeService) Analyze(_ context.Context, posts []domain.CandidatePost) ([]domain.MatchResult, error) {
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.matches, nil
}

func (f *fakeService) Matches(context.Context) ([]domain.MatchResult, error) {
	return f.matches, nil
}

func (f *fakeService) UpdateMatchStatus(_ context.Context, platform, id string, status domain.MatchStatus) (domain.MatchResult, error) {
	for _, m := range f.matches {
		if m.Post.Platform == platform && m.Post.ID == id {
			m.Status = status
			return m, nil
		}
	}
	return domain.MatchResult{}, fmt.Errorf("match %s:%s not found", platform, id)
}

func (f *fakeService) SaveDraft(_ context.Context, platform, id, draft string) (domain.MatchResult, error) {
	for _, m := range f.matches {
		if m.Post.Platform == platform && m.Post.ID == id {
			m.DraftReply = draft
			return m, nil
		}
	}
	return domain.MatchResult{}, fmt.Errorf("match %s:%s not found", platform, id)
}

func (f *fakeService) HeatCheck(context.Context) ([]domain.MatchResult, error) {
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	return f.matches, nil
}

func (f *fakeService) ClearMatches(context.Context) error {
	f.cleared = true
	return nil
}

func (f *fakeService) EnsureFeed(_ context.Context, force bool) (*domain.FeedDocument, error) {
	f.lastForce = force
	if f.feedErr != nil {
		return nil, f.feedErr
	}
	return f.doc, nil
}

type fakeCatalog struct {
	models []domain.ModelDescriptor
	err    error
}

func (f *fakeCatalog) Models(context.Context) ([]domain.ModelDescriptor, error) {
	return f.models, f.err
}

func testServer(svc *fakeService, catalog ModelCatalog) *httptest.Server {
	s := New(fakeConfig{}, svc, catalog, "test", false)
	return httptest.NewServer(s.router)
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Status(t *testing.T) {
	ts := testServer(&fakeService{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestServer_Ping(t *testing.T) {
	ts := testServer(&fakeService{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Analyze(t *testing.T) {
	svc := &fakeService{matches: []domain.MatchResult{{
		Post:  domain.CandidatePost{ID: "p1", Platform: "mastodon"},
		Score: 0.8,
	}}}
	ts := testServer(svc, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/posts/analyze", map[string]any{
		"posts": []map[string]any{{"id": "p1", "platform": "mastodon", "body_text": "hello"}},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	matches := body["matches"].([]any)
	require.Len(t, matches, 1)
}

func TestServer_AnalyzeBadRequests(t *testing.T) {
	ts := testServer(&fakeService{}, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/posts/analyze", map[string]any{"posts": []any{}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp2, err := http.Post(ts.URL+"/api/v1/posts/analyze", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestServer_AnalyzeEmptyFeed(t *testing.T) {
	ts := testServer(&fakeService{analyzeErr: service.ErrFeedEmpty}, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/posts/analyze", map[string]any{
		"posts": []map[string]any{{"id": "p1", "platform": "m"}},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestServer_AnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"auth", &llm.Error{Kind: llm.KindAuth, Message: "bad key"}, http.StatusUnauthorized},
		{"balance", &llm.Error{Kind: llm.KindInsufficientBalance, RequestedTokens: 16000, AvailableTokens: 500}, http.StatusPaymentRequired},
		{"rate limit", &llm.Error{Kind: llm.KindRateLimit}, http.StatusServiceUnavailable},
		{"server", &llm.Error{Kind: llm.KindServer}, http.StatusServiceUnavailable},
		{"protocol", &llm.Error{Kind: llm.KindProtocol}, http.StatusBadGateway},
		{"plain", fmt.Errorf("storage broke"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := testServer(&fakeService{analyzeErr: tt.err}, nil)
			defer ts.Close()

			resp := postJSON(t, ts.URL+"/api/v1/posts/analyze", map[string]any{
				"posts": []map[string]any{{"id": "p1", "platform": "m"}},
			})
			assert.Equal(t, tt.code, resp.StatusCode)
			body := decodeBody(t, resp)
			assert.NotEmpty(t, body["error"])
			if tt.name == "balance" {
				assert.EqualValues(t, 16000, body["requested_tokens"])
				assert.EqualValues(t, 500, body["available_tokens"])
			}
		})
	}
}

func TestServer_Matches(t *testing.T) {
	svc := &fakeService{matches: []domain.MatchResult{
		{Post: domain.CandidatePost{ID: "p1", Platform: "m"}, Score: 0.9},
	}}
	ts := testServer(svc, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/matches")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["matches"], 1)
}

func TestServer_MatchStatus(t *testing.T) {
	svc := &fakeService{matches: []domain.MatchResult{
		{Post: domain.CandidatePost{ID: "p1", Platform: "mastodon"}, Status: domain.StatusPending},
	}}
	ts := testServer(svc, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/matches/mastodon/p1/status", map[string]string{"status": "replied"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "replied", body["status"])

	// invalid status rejected
	resp2 := postJSON(t, ts.URL+"/api/v1/matches/mastodon/p1/status", map[string]string{"status": "done"})
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	// unknown match
	resp3 := postJSON(t, ts.URL+"/api/v1/matches/mastodon/nope/status", map[string]string{"status": "skipped"})
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestServer_MatchDraft(t *testing.T) {
	svc := &fakeService{matches: []domain.MatchResult{
		{Post: domain.CandidatePost{ID: "p1", Platform: "mastodon"}},
	}}
	ts := testServer(svc, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/v1/matches/mastodon/p1/draft", map[string]string{"draft": "my reply"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "my reply", body["draft_reply"])
}

func TestServer_ClearMatches(t *testing.T) {
	svc := &fakeService{}
	ts := testServer(svc, nil)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/matches", http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, svc.cleared)
}

func TestServer_HeatCheck(t *testing.T) {
	svc := &fakeService{matches: []domain.MatchResult{{
		Post: domain.CandidatePost{ID: "p1", Platform: "m"},
		Tone: &domain.ToneClassification{Tone: domain.TonePositive, Recommended: true},
	}}}
	ts := testServer(svc, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/v1/heatcheck", "application/json", http.NoBody)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["matches"], 1)
}

func TestServer_Feed(t *testing.T) {
	svc := &fakeService{doc: &domain.FeedDocument{
		Title:  "Blog",
		Format: domain.FormatRSS,
		Items:  []domain.FeedItem{{ID: "i1", Title: "first", Link: "https://x/1"}},
	}}
	ts := testServer(svc, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/feed")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "Blog", body["title"])
	assert.False(t, svc.lastForce)

	resp2, err := http.Post(ts.URL+"/api/v1/feed/refresh", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.True(t, svc.lastForce, "refresh forces a refetch")
}

func TestServer_Models(t *testing.T) {
	catalog := &fakeCatalog{models: []domain.ModelDescriptor{
		{ID: "openai/gpt-4o-mini", DisplayName: "GPT-4o mini", IsRecommended: true},
	}}
	ts := testServer(&fakeService{}, catalog)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/models")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["models"], 1)
}

func TestServer_ModelsNotConfigured(t *testing.T) {
	ts := testServer(&fakeService{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}
