// Package server provides the HTTP API for generating and editing styled outfits.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/style-forge/internal/db"
	"github.com/jonathan/style-forge/internal/fetch"
	"github.com/jonathan/style-forge/internal/orchestrator"
	"github.com/jonathan/style-forge/internal/server/ratelimit"
	"github.com/jonathan/style-forge/internal/types"
)

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	handler     http.Handler
	analyzer    types.Analyzer
	editor      types.Editor
	orch        *orchestrator.Orchestrator
	sessions    *Store
	ledger      db.Ledger
	styles      []types.Style
	editTimeout time.Duration
	rateLimiter *ratelimit.Limiter
	validator   *validator.Validate
	fetchOpts   *fetch.Options

	// Runs outlive the request that started them; they are bound to this instead.
	baseCtx context.Context
	stop    context.CancelFunc
}

// Config holds server configuration
type Config struct {
	Port           int
	Analyzer       types.Analyzer
	Generator      types.Generator
	Editor         types.Editor
	Ledger         db.Ledger         // Optional, defaults to db.NopLedger
	Styles         []types.Style     // Optional, defaults to every style
	TaskTimeout    time.Duration     // Per-style generation timeout
	EditTimeout    time.Duration     // Per-edit timeout
	SessionTTL     time.Duration     // Idle time before a run is dropped, 0 keeps runs until deleted
	MaxConcurrency int               // 0 means one goroutine per style
	RateLimit      *ratelimit.Config // Optional, defaults to ratelimit.LoadConfig()
	Fetch          *fetch.Options    // Optional, used for image_url sources
	Options        []orchestrator.Option
}

// New creates a new server instance
func New(cfg Config) (*Server, error) {
	if cfg.Analyzer == nil || cfg.Generator == nil || cfg.Editor == nil {
		return nil, fmt.Errorf("server requires an analyzer, a generator and an editor")
	}

	ledger := cfg.Ledger
	if ledger == nil {
		ledger = db.NopLedger{}
	}
	styles := cfg.Styles
	if len(styles) == 0 {
		styles = types.DefaultStyles()
	}
	rlConfig := cfg.RateLimit
	if rlConfig == nil {
		rlConfig = ratelimit.LoadConfig()
	}

	opts := append([]orchestrator.Option{
		orchestrator.WithTaskTimeout(cfg.TaskTimeout),
		orchestrator.WithMaxConcurrency(cfg.MaxConcurrency),
	}, cfg.Options...)

	baseCtx, stop := context.WithCancel(context.Background())
	s := &Server{
		analyzer:    cfg.Analyzer,
		editor:      cfg.Editor,
		orch:        orchestrator.New(cfg.Generator, opts...),
		sessions:    NewStore(cfg.SessionTTL),
		ledger:      ledger,
		styles:      styles,
		editTimeout: cfg.EditTimeout,
		rateLimiter: ratelimit.NewLimiter(rlConfig),
		validator:   validator.New(),
		fetchOpts:   cfg.Fetch,
		baseCtx:     baseCtx,
		stop:        stop,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /runs", s.handleCreateRun)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/stream", s.handleStreamRun)
	mux.HandleFunc("DELETE /runs/{id}", s.handleDeleteRun)

	mux.HandleFunc("GET /runs/{id}/tasks/{task_id}/image", s.handleTaskImage)
	mux.HandleFunc("GET /runs/{id}/tasks/{task_id}/history", s.handleGetHistory)
	mux.HandleFunc("POST /runs/{id}/tasks/{task_id}/edits", s.handleEdit)
	mux.HandleFunc("POST /runs/{id}/tasks/{task_id}/undo", s.handleUndo)
	mux.HandleFunc("POST /runs/{id}/tasks/{task_id}/redo", s.handleRedo)

	mux.HandleFunc("GET /edits/suggestions", s.handleEditSuggestions)

	s.handler = s.withRateLimit(s.withLogging(s.withCORS(mux)))
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open for the whole run
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for requests and blocks until SIGINT or SIGTERM
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Cancelling runs first closes their SSE streams so Shutdown does not wait on them.
	s.Close()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Close cancels every live run and stops background work
func (s *Server) Close() {
	s.stop()
	s.sessions.CloseAll()
	s.rateLimiter.Stop()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log.Printf("[%s] %s %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
		log.Printf("[%s] %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFrom maps err to a status code and writes it
func (s *Server) errorFrom(w http.ResponseWriter, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Printf("Request failed (%d): %v", status, err)
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID returns the client IP from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Round(time.Second).Seconds())
		if seconds == 0 {
			seconds = 1
		}
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	log.Printf("[rate-limit] Rate limit exceeded: Limit=%d Remaining=%d", info.Limit, info.Remaining)
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
