package llm

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/replyscope/replyscope/pkg/domain"
)

// modelsTTL bounds how long a fetched model catalog stays cached,
// separate from the per-post match cache
const modelsTTL = time.Hour

// recommendedModels is the fixed allow-list used to annotate the catalog
var recommendedModels = map[string]bool{
	"anthropic/claude-3.5-sonnet":       true,
	"anthropic/claude-3.5-haiku":        true,
	"openai/gpt-4o":                     true,
	"openai/gpt-4o-mini":                true,
	"google/gemini-flash-1.5":           true,
	"meta-llama/llama-3.1-70b-instruct": true,
	"deepseek/deepseek-chat":            true,
}

// modelsResponse is the wire shape of the model catalog endpoint. Pricing
// comes as decimal strings, cost per token.
type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
		Created       int64  `json:"created"`
		Pricing       struct {
			Prompt     string `json:"prompt"`
			Completion string `json:"completion"`
		} `json:"pricing"`
	} `json:"data"`
}

// Models fetches the remote model catalog annotated against the recommended
// allow-list. Results are cached for an hour.
func (c *Client) Models(ctx context.Context) ([]domain.ModelDescriptor, error) {
	c.modelsMu.Lock()
	if c.cachedModels != nil && c.nowFn().Sub(c.modelsFetchedAt) < modelsTTL {
		cached := c.cachedModels
		c.modelsMu.Unlock()
		return cached, nil
	}
	c.modelsMu.Unlock()

	var resp modelsResponse
	if err := c.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}

	models := make([]domain.ModelDescriptor, 0, len(resp.Data))
	for _, m := range resp.Data {
		desc := domain.ModelDescriptor{
			ID:            m.ID,
			DisplayName:   m.Name,
			ContextLength: m.ContextLength,
			IsRecommended: recommendedModels[m.ID],
		}
		if m.Created > 0 {
			desc.ReleasedAt = time.Unix(m.Created, 0).UTC()
		}
		// tolerate malformed pricing, it only affects cost-tier display
		if v, err := strconv.ParseFloat(m.Pricing.Prompt, 64); err == nil {
			desc.PromptPrice = v
		}
		if v, err := strconv.ParseFloat(m.Pricing.Completion, 64); err == nil {
			desc.CompletionPrice = v
		}
		models = append(models, desc)
	}
	lgr.Printf("[DEBUG] fetched model catalog, %d models", len(models))

	c.modelsMu.Lock()
	c.cachedModels = models
	c.modelsFetchedAt = c.nowFn()
	c.modelsMu.Unlock()

	return models, nil
}
