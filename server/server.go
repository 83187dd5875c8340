package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/replyscope/replyscope/pkg/domain"
	"github.com/replyscope/replyscope/pkg/llm"
)

// Server exposes the matching pipeline over a JSON REST API
type Server struct {
	config  ConfigProvider
	svc     AnalyzerService
	models  ModelCatalog
	version string
	debug   bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// AnalyzerService is the matching pipeline behind the API
type AnalyzerService interface {
	Analyze(ctx context.Context, posts []domain.CandidatePost) ([]domain.MatchResult, error)
	Matches(ctx context.Context) ([]domain.MatchResult, error)
	UpdateMatchStatus(ctx context.Context, platform, id string, status domain.MatchStatus) (domain.MatchResult, error)
	SaveDraft(ctx context.Context, platform, id, draft string) (domain.MatchResult, error)
	HeatCheck(ctx context.Context) ([]domain.MatchResult, error)
	ClearMatches(ctx context.Context) error
	EnsureFeed(ctx context.Context, force bool) (*domain.FeedDocument, error)
}

// ModelCatalog lists available completion models
type ModelCatalog interface {
	Models(ctx context.Context) ([]domain.ModelDescriptor, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// New initializes a new server instance. models may be nil when running in
// keyword mode without an API endpoint.
func New(cfg ConfigProvider, svc AnalyzerService, models ModelCatalog, version string, debug bool) *Server {
	s := &Server{
		config:  cfg,
		svc:     svc,
		models:  models,
		version: version,
		debug:   debug,
		router:  routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("replyscope", "replyscope", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)

		r.HandleFunc("POST /posts/analyze", s.analyzeHandler)
		r.HandleFunc("GET /matches", s.matchesHandler)
		r.HandleFunc("POST /matches/{platform}/{id}/status", s.matchStatusHandler)
		r.HandleFunc("POST /matches/{platform}/{id}/draft", s.matchDraftHandler)
		r.HandleFunc("DELETE /matches", s.clearMatchesHandler)
		r.HandleFunc("POST /heatcheck", s.heatCheckHandler)

		r.HandleFunc("GET /feed", s.feedHandler)
		r.HandleFunc("POST /feed/refresh", s.feedRefreshHandler)

		r.HandleFunc("GET /models", s.modelsHandler)
	})
}

// statusHandler returns server status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
	}
	RenderJSON(w, r, http.StatusOK, status)
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// RenderError sends error response as JSON, mapping completion API failures
// to meaningful HTTP statuses so clients can distinguish "fix your key" from
// "top up your balance" from "try again later".
func RenderError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	body := map[string]interface{}{"error": "unknown error"}
	if err != nil {
		body["error"] = err.Error()
	}

	var apiErr *llm.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case llm.KindAuth:
			code = http.StatusUnauthorized
		case llm.KindInsufficientBalance:
			code = http.StatusPaymentRequired
			if apiErr.RequestedTokens > 0 {
				body["requested_tokens"] = apiErr.RequestedTokens
				body["available_tokens"] = apiErr.AvailableTokens
			}
		case llm.KindRateLimit, llm.KindServer, llm.KindNetwork:
			code = http.StatusServiceUnavailable
		default:
			code = http.StatusBadGateway
		}
	}
	RenderJSON(w, r, code, body)
}
