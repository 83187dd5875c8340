package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/replyscope/replyscope/pkg/domain"
	"github.com/replyscope/replyscope/pkg/service"
)

// analyzeRequest is the payload of POST /posts/analyze
type analyzeRequest struct {
	Posts []domain.CandidatePost `json:"posts"`
}

// analyzeHandler evaluates a batch of candidate posts and returns the
// reconciled match set
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Posts) == 0 {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "posts list is empty"})
		return
	}

	matches, err := s.svc.Analyze(r.Context(), req.Posts)
	if err != nil {
		if errors.Is(err, service.ErrFeedEmpty) {
			RenderJSON(w, r, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]interface{}{"matches": matches})
}

// matchesHandler returns the persisted match set
func (s *Server) matchesHandler(w http.ResponseWriter, r *http.Request) {
	matches, err := s.svc.Matches(r.Context())
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]interface{}{"matches": matches})
}

// matchStatusHandler transitions a match to replied/skipped/pending
func (s *Server) matchStatusHandler(w http.ResponseWriter, r *http.Request) {
	platform, id := r.PathValue("platform"), r.PathValue("id")

	var req struct {
		Status domain.MatchStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !req.Status.Valid() {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid status %q", req.Status)})
		return
	}

	match, err := s.svc.UpdateMatchStatus(r.Context(), platform, id, req.Status)
	if err != nil {
		RenderJSON(w, r, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	RenderJSON(w, r, http.StatusOK, match)
}

// matchDraftHandler stores a draft reply on a match
func (s *Server) matchDraftHandler(w http.ResponseWriter, r *http.Request) {
	platform, id := r.PathValue("platform"), r.PathValue("id")

	var req struct {
		Draft string `json:"draft"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderJSON(w, r, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	match, err := s.svc.SaveDraft(r.Context(), platform, id, req.Draft)
	if err != nil {
		RenderJSON(w, r, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	RenderJSON(w, r, http.StatusOK, match)
}

// clearMatchesHandler wipes the match set and evaluation bookkeeping
func (s *Server) clearMatchesHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearMatches(r.Context()); err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"status": "cleared"})
}

// heatCheckHandler classifies tone for all persisted matches
func (s *Server) heatCheckHandler(w http.ResponseWriter, r *http.Request) {
	matches, err := s.svc.HeatCheck(r.Context())
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]interface{}{"matches": matches})
}

// feedHandler returns the current (possibly cached) feed document
func (s *Server) feedHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.EnsureFeed(r.Context(), false)
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, feedResponse(doc))
}

// feedRefreshHandler forces a feed refetch
func (s *Server) feedRefreshHandler(w http.ResponseWriter, r *http.Request) {
	doc, err := s.svc.EnsureFeed(r.Context(), true)
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, feedResponse(doc))
}

// modelsHandler lists available completion models with pricing
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		RenderJSON(w, r, http.StatusNotImplemented, map[string]string{"error": "no completion api configured"})
		return
	}
	models, err := s.models.Models(r.Context())
	if err != nil {
		RenderError(w, r, err)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]interface{}{"models": models})
}

// feedResponse shapes a feed document for the API
func feedResponse(doc *domain.FeedDocument) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(doc.Items))
	for _, it := range doc.Items {
		item := map[string]interface{}{
			"id":    it.ID,
			"title": it.Title,
			"link":  it.Link,
		}
		if it.Description != "" {
			item["description"] = it.Description
		}
		if it.Author != "" {
			item["author"] = it.Author
		}
		if len(it.Categories) > 0 {
			item["categories"] = it.Categories
		}
		if !it.PublishedAt.IsZero() {
			item["published_at"] = it.PublishedAt
		}
		items = append(items, item)
	}
	return map[string]interface{}{
		"title":       doc.Title,
		"description": doc.Description,
		"link":        doc.Link,
		"format":      doc.Format,
		"items":       items,
	}
}
