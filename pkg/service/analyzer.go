package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/replyscope/replyscope/pkg/config"
	"github.com/replyscope/replyscope/pkg/domain"
	"github.com/replyscope/replyscope/pkg/keywords"
	"github.com/replyscope/replyscope/pkg/matcher"
)

// Fetcher retrieves raw feed text
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FeedParser turns raw feed text into a document
type FeedParser interface {
	Parse(raw string) (*domain.FeedDocument, error)
}

// PostMatcher evaluates posts and classifies tone
type PostMatcher interface {
	MatchPosts(ctx context.Context, posts []domain.CandidatePost, doc *domain.FeedDocument, styleExamples []string) ([]domain.MatchResult, error)
	HeatCheckPosts(ctx context.Context, results []domain.MatchResult) ([]domain.MatchResult, error)
	ClearCache()
}

// Extractor pulls full article text from an item link
type Extractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Storage is the durable storage collaborator
type Storage interface {
	LoadMatches(ctx context.Context) ([]domain.MatchResult, error)
	SaveMatches(ctx context.Context, matches []domain.MatchResult) error
	ClearMatches(ctx context.Context) error
	LoadEvaluatedIDs(ctx context.Context) ([]string, error)
	MarkEvaluated(ctx context.Context, keys []string, maxSize int) error
	ClearEvaluated(ctx context.Context) error
	LoadStyleExamples(ctx context.Context) ([]string, error)
	SaveStyleExamples(ctx context.Context, examples []string) error
}

// ErrFeedEmpty reports a valid feed with no items, a user-facing condition
// rather than a parser failure
var ErrFeedEmpty = errors.New("feed has no posts")

// evaluatedCap bounds the remembered evaluated-id set
const evaluatedCap = 2000

// Analyzer orchestrates the matching pipeline: it owns the cached feed
// document, routes candidate posts to the keyword or AI path, reconciles
// each pass with the persisted match set and keeps the evaluated-id
// bookkeeping.
type Analyzer struct {
	fetcher   Fetcher
	parser    FeedParser
	matcher   PostMatcher
	extractor Extractor // nil when enrichment is disabled
	store     Storage

	feedCfg  config.FeedConfig
	matchCfg config.MatchConfig

	mu        sync.Mutex
	doc       *domain.FeedDocument
	kws       []string
	fetchedAt time.Time

	nowFn func() time.Time
}

// AnalyzerConfig holds the analyzer dependencies
type AnalyzerConfig struct {
	Fetcher   Fetcher
	Parser    FeedParser
	Matcher   PostMatcher
	Extractor Extractor
	Store     Storage
	Feed      config.FeedConfig
	Match     config.MatchConfig
}

// NewAnalyzer creates an analyzer with the provided dependencies
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{
		fetcher:   cfg.Fetcher,
		parser:    cfg.Parser,
		matcher:   cfg.Matcher,
		extractor: cfg.Extractor,
		store:     cfg.Store,
		feedCfg:   cfg.Feed,
		matchCfg:  cfg.Match,
		nowFn:     time.Now,
	}
}

// EnsureFeed returns the current feed document, refetching when the cached
// one is older than the refresh interval or force is set. The document is
// recreated on every fetch, never mutated incrementally.
func (a *Analyzer) EnsureFeed(ctx context.Context, force bool) (*domain.FeedDocument, error) {
	a.mu.Lock()
	if !force && a.doc != nil && a.nowFn().Sub(a.fetchedAt) < a.feedCfg.RefreshInterval {
		doc := a.doc
		a.mu.Unlock()
		return doc, nil
	}
	a.mu.Unlock()

	raw, err := a.fetcher.Fetch(ctx, a.feedCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	doc, err := a.parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	if a.extractor != nil {
		a.enrich(ctx, doc)
	}

	kws := keywords.Extract(doc)
	lgr.Printf("[INFO] feed %q refreshed: %d items, %d keywords", doc.Title, len(doc.Items), len(kws))

	a.mu.Lock()
	a.doc = doc
	a.kws = kws
	a.fetchedAt = a.nowFn()
	a.mu.Unlock()

	return doc, nil
}

// enrich fills missing full content by extracting the linked articles,
// concurrently up to the configured limit. Failures are logged and skipped.
func (a *Analyzer) enrich(ctx context.Context, doc *domain.FeedDocument) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.feedCfg.Enrich.MaxConcurrent)

	for i := range doc.Items {
		if doc.Items[i].FullContent != "" || doc.Items[i].Link == "" {
			continue
		}
		g.Go(func() error {
			text, err := a.extractor.Extract(ctx, doc.Items[i].Link)
			if err != nil {
				lgr.Printf("[DEBUG] enrich %s failed: %v", doc.Items[i].Link, err)
				return nil
			}
			doc.Items[i].FullContent = text
			return nil
		})
	}
	_ = g.Wait() // workers never return errors, failures are logged
}

// Analyze evaluates a batch of candidate posts and reconciles the outcome
// with the persisted match set. Already-evaluated posts are skipped, the
// batch is capped at the configured queue limit, and evaluation is terminal
// regardless of which path produced it.
func (a *Analyzer) Analyze(ctx context.Context, posts []domain.CandidatePost) ([]domain.MatchResult, error) {
	doc, err := a.EnsureFeed(ctx, false)
	if err != nil {
		return nil, err
	}
	if len(doc.Items) == 0 {
		return nil, ErrFeedEmpty
	}

	queue, err := a.filterQueue(ctx, posts)
	if err != nil {
		return nil, err
	}
	if len(queue) == 0 {
		return a.store.LoadMatches(ctx)
	}

	var fresh []domain.MatchResult
	if a.matchCfg.Mode == "ai" {
		fresh, err = a.aiPass(ctx, queue, doc)
		if err != nil {
			return nil, err
		}
	} else {
		fresh = a.keywordPass(queue)
	}

	existing, err := a.store.LoadMatches(ctx)
	if err != nil {
		return nil, err
	}
	merged := matcher.Merge(existing, fresh, a.matchCfg.MaxMatches)
	if err := a.store.SaveMatches(ctx, merged); err != nil {
		return nil, err
	}

	keys := make([]string, len(queue))
	for i, p := range queue {
		keys[i] = p.Key()
	}
	if err := a.store.MarkEvaluated(ctx, keys, evaluatedCap); err != nil {
		lgr.Printf("[WARN] failed to mark %d posts evaluated: %v", len(keys), err)
	}

	lgr.Printf("[INFO] analyzed %d posts (%s mode), %d fresh matches, %d total", len(queue), a.matchCfg.Mode, len(fresh), len(merged))
	return merged, nil
}

// filterQueue drops already-evaluated and duplicate posts and enforces the
// queue limit
func (a *Analyzer) filterQueue(ctx context.Context, posts []domain.CandidatePost) ([]domain.CandidatePost, error) {
	evaluated, err := a.store.LoadEvaluatedIDs(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(evaluated))
	for _, k := range evaluated {
		done[k] = true
	}

	var queue []domain.CandidatePost
	for _, p := range posts {
		if p.ID == "" || p.Platform == "" || done[p.Key()] {
			continue
		}
		done[p.Key()] = true // dedup within the batch too
		queue = append(queue, p)
	}

	if len(queue) > a.matchCfg.QueueLimit {
		lgr.Printf("[WARN] queue limit reached, analyzing %d of %d posts", a.matchCfg.QueueLimit, len(queue))
		queue = queue[:a.matchCfg.QueueLimit]
	}
	return queue, nil
}

// aiPass runs the AI matching path with optional heat check
func (a *Analyzer) aiPass(ctx context.Context, queue []domain.CandidatePost, doc *domain.FeedDocument) ([]domain.MatchResult, error) {
	styleExamples, err := a.store.LoadStyleExamples(ctx)
	if err != nil {
		lgr.Printf("[WARN] failed to load style examples: %v", err)
	}

	fresh, err := a.matcher.MatchPosts(ctx, queue, doc, styleExamples)
	if err != nil {
		return nil, err // auth/balance failures need user action
	}

	if a.matchCfg.HeatCheck && len(fresh) > 0 {
		checked, err := a.matcher.HeatCheckPosts(ctx, fresh)
		if err != nil {
			return nil, err
		}
		fresh = checked
	}
	return fresh, nil
}

// keywordPass runs the zero-cost keyword scoring path
func (a *Analyzer) keywordPass(queue []domain.CandidatePost) []domain.MatchResult {
	a.mu.Lock()
	kws := a.kws
	a.mu.Unlock()

	now := a.nowFn()
	var results []domain.MatchResult
	for _, p := range queue {
		score, matched := keywords.Score(p, kws)
		if score < a.matchCfg.Threshold {
			continue
		}
		results = append(results, domain.MatchResult{
			Post:            p,
			Score:           score,
			MatchedKeywords: matched,
			Reason:          fmt.Sprintf("matched %d feed keywords", len(matched)),
			MatchedAt:       now,
			Status:          domain.StatusPending,
		})
	}
	return results
}

// Matches returns the persisted match set
func (a *Analyzer) Matches(ctx context.Context) ([]domain.MatchResult, error) {
	return a.store.LoadMatches(ctx)
}

// UpdateMatchStatus transitions a match to the given status
func (a *Analyzer) UpdateMatchStatus(ctx context.Context, platform, id string, status domain.MatchStatus) (domain.MatchResult, error) {
	if !status.Valid() {
		return domain.MatchResult{}, fmt.Errorf("invalid status %q", status)
	}
	return a.updateMatch(ctx, platform+":"+id, func(m *domain.MatchResult) {
		m.Status = status
	})
}

// SaveDraft stores the user's draft reply on a match
func (a *Analyzer) SaveDraft(ctx context.Context, platform, id, draft string) (domain.MatchResult, error) {
	return a.updateMatch(ctx, platform+":"+id, func(m *domain.MatchResult) {
		m.DraftReply = draft
	})
}

// updateMatch applies fn to the match with the given composite key
func (a *Analyzer) updateMatch(ctx context.Context, key string, fn func(*domain.MatchResult)) (domain.MatchResult, error) {
	matches, err := a.store.LoadMatches(ctx)
	if err != nil {
		return domain.MatchResult{}, err
	}
	for i := range matches {
		if matches[i].Key() != key {
			continue
		}
		fn(&matches[i])
		if err := a.store.SaveMatches(ctx, matches); err != nil {
			return domain.MatchResult{}, err
		}
		return matches[i], nil
	}
	return domain.MatchResult{}, fmt.Errorf("match %s not found", key)
}

// HeatCheck classifies tone for all persisted matches missing it
func (a *Analyzer) HeatCheck(ctx context.Context) ([]domain.MatchResult, error) {
	matches, err := a.store.LoadMatches(ctx)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return matches, nil
	}
	checked, err := a.matcher.HeatCheckPosts(ctx, matches)
	if err != nil {
		return nil, err
	}
	if err := a.store.SaveMatches(ctx, checked); err != nil {
		return nil, err
	}
	return checked, nil
}

// ClearMatches removes persisted matches and resets evaluation bookkeeping
// so posts become eligible for re-analysis
func (a *Analyzer) ClearMatches(ctx context.Context) error {
	if err := a.store.ClearMatches(ctx); err != nil {
		return err
	}
	a.matcher.ClearCache()
	return a.store.ClearEvaluated(ctx)
}
