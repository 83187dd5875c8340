package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/replyscope/replyscope/pkg/domain"
)

// well-known keys of the typed entities
const (
	keyMatches      = "matches"
	keyEvaluated    = "evaluated_ids"
	keyStyleSamples = "style_examples"
)

// LoadMatches returns the persisted match set, empty when none stored yet
func (s *Store) LoadMatches(ctx context.Context) ([]domain.MatchResult, error) {
	data, err := s.Get(ctx, keyMatches)
	if errors.Is(err, ErrNotFound) {
		return []domain.MatchResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	var matches []domain.MatchResult
	if err := json.Unmarshal(data, &matches); err != nil {
		return nil, fmt.Errorf("unmarshal matches: %w", err)
	}
	return matches, nil
}

// SaveMatches persists the match set
func (s *Store) SaveMatches(ctx context.Context, matches []domain.MatchResult) error {
	data, err := json.Marshal(matches)
	if err != nil {
		return fmt.Errorf("marshal matches: %w", err)
	}
	return s.Set(ctx, keyMatches, data)
}

// ClearMatches removes the persisted match set
func (s *Store) ClearMatches(ctx context.Context) error {
	return s.Remove(ctx, keyMatches)
}

// LoadEvaluatedIDs returns the set of already-evaluated post keys in
// insertion order, oldest first
func (s *Store) LoadEvaluatedIDs(ctx context.Context) ([]string, error) {
	data, err := s.Get(ctx, keyEvaluated)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("unmarshal evaluated ids: %w", err)
	}
	return ids, nil
}

// MarkEvaluated appends post keys to the evaluated set, trimming the oldest
// entries beyond maxSize. Evaluation is terminal: a key stays marked no
// matter which path (keyword or AI) produced it.
func (s *Store) MarkEvaluated(ctx context.Context, keys []string, maxSize int) error {
	existing, err := s.LoadEvaluatedIDs(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(existing))
	for _, k := range existing {
		seen[k] = true
	}
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		existing = append(existing, k)
	}

	if maxSize > 0 && len(existing) > maxSize {
		existing = existing[len(existing)-maxSize:]
	}

	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal evaluated ids: %w", err)
	}
	return s.Set(ctx, keyEvaluated, data)
}

// ClearEvaluated drops the evaluated set, making all posts eligible again
func (s *Store) ClearEvaluated(ctx context.Context) error {
	return s.Remove(ctx, keyEvaluated)
}

// LoadStyleExamples returns the stored writing-style examples
func (s *Store) LoadStyleExamples(ctx context.Context) ([]string, error) {
	data, err := s.Get(ctx, keyStyleSamples)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var examples []string
	if err := json.Unmarshal(data, &examples); err != nil {
		return nil, fmt.Errorf("unmarshal style examples: %w", err)
	}
	return examples, nil
}

// SaveStyleExamples persists writing-style examples
func (s *Store) SaveStyleExamples(ctx context.Context, examples []string) error {
	data, err := json.Marshal(examples)
	if err != nil {
		return fmt.Errorf("marshal style examples: %w", err)
	}
	return s.Set(ctx, keyStyleSamples, data)
}
