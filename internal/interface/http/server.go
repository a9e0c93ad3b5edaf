// Package http exposes the streak engine over a small JSON REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/alem-hub/streak-engine/internal/application/command"
	"github.com/alem-hub/streak-engine/internal/application/engagement"
	"github.com/alem-hub/streak-engine/internal/application/query"
	"github.com/alem-hub/streak-engine/internal/domain/attendance"
	"github.com/alem-hub/streak-engine/internal/domain/shared"
	"github.com/alem-hub/streak-engine/internal/interface/http/handlers"
	"github.com/alem-hub/streak-engine/pkg/logger"
	"github.com/alem-hub/streak-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr - address to listen on (default: ":8080").
	Addr string

	// GinMode - debug, release or test (default: release).
	GinMode string

	// AllowedOrigins for CORS. A single "*" allows any origin.
	AllowedOrigins []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		GinMode:        gin.ReleaseMode,
		AllowedOrigins: []string{"*"},
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Engine is the part of the engagement service the API serves.
type Engine interface {
	GetLedger(ctx context.Context, userID shared.UserID) (*query.LedgerDTO, error)
	UpdateStreak(ctx context.Context, cmd command.UpdateStreakCommand) (*command.UpdateStreakResult, error)
	TryConsumeGrace(ctx context.Context, userID shared.UserID, today shared.Date) (bool, error)
	HandleMissedClass(ctx context.Context, m attendance.MissedClass) (*engagement.MissedClassResult, error)
	ListMicroTasks(ctx context.Context, userID shared.UserID, pendingOnly bool) ([]query.MicroTaskDTO, error)
	CompleteMicroTask(ctx context.Context, taskID string, owner shared.UserID) (*engagement.CompleteResult, error)
	RestoreStreakWithMicroTasks(ctx context.Context, userID shared.UserID) (*command.RestoreStreakResult, error)
	ResetWeeklyGrace(ctx context.Context) (int64, error)
}

var _ Engine = (*engagement.Service)(nil)

// Dependencies contains everything the handlers need.
type Dependencies struct {
	Engine Engine

	// Health is optional; without it /health always reports healthy.
	Health *handlers.HealthChecker

	Clock    timeutil.Clock
	Location *time.Location
	Logger   *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	mu      sync.RWMutex
	running bool
}

// NewServer creates a server and wires routes and middleware.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Health == nil {
		deps.Health = handlers.NewHealthChecker("v1")
	}
	if config.GinMode != "" {
		gin.SetMode(config.GinMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.engine = s.buildEngine()
	s.httpServer = &http.Server{
		Addr:           config.Addr,
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	r.Use(handlers.RequestID(s.logger))
	r.Use(handlers.Recovery(s.logger))
	r.Use(handlers.AccessLog(s.logger))
	r.Use(cors.New(s.corsConfig()))

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	{
		users := v1.Group("/users/:id")
		users.GET("/ledger", s.handleGetLedger)
		users.POST("/streaks", s.handleUpdateStreak)
		users.POST("/grace", s.handleConsumeGrace)
		users.POST("/missed-classes", s.handleMissedClass)
		users.GET("/micro-tasks", s.handleListMicroTasks)
		users.POST("/restore", s.handleRestore)

		v1.POST("/micro-tasks/:id/complete", s.handleCompleteMicroTask)
		v1.POST("/admin/grace/reset", s.handleResetGrace)
	}
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "Authorization", handlers.RequestIDHeader},
		ExposeHeaders: []string{handlers.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(s.config.AllowedOrigins) == 0 || (len(s.config.AllowedOrigins) == 1 && s.config.AllowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.config.AllowedOrigins
	}
	return cfg
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every response.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, JSONResponse{
		Success:   status < http.StatusBadRequest,
		Data:      data,
		RequestID: handlers.GetRequestID(c),
	})
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Error:     &APIError{Code: code, Message: message},
		RequestID: handlers.GetRequestID(c),
	})
}

// writeError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case shared.IsValidation(err):
		respondError(c, http.StatusBadRequest, "invalid_input", err.Error())
	case shared.IsNotFound(err):
		respondError(c, http.StatusNotFound, "not_found", err.Error())
	case shared.IsConflict(err):
		respondError(c, http.StatusConflict, "conflict", err.Error())
	case shared.IsRetryable(err), errors.Is(err, shared.ErrRateLimited):
		c.Header("Retry-After", "1")
		respondError(c, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(c, http.StatusServiceUnavailable, "timeout", "request cancelled or timed out")
	default:
		s.logger.Error("unhandled error", logger.String("path", c.FullPath()), logger.Err(err))
		respondError(c, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}
