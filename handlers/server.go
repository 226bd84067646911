package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nijaru/duoscribe/config"
	"github.com/nijaru/duoscribe/middleware"
	"github.com/nijaru/duoscribe/models"
	"github.com/nijaru/duoscribe/session"
	"github.com/nijaru/duoscribe/utils"
	"github.com/nijaru/duoscribe/validation"
	"github.com/sirupsen/logrus"
)

// Sessions is the part of *session.Controller the HTTP layer drives.
type Sessions interface {
	Create(ctx context.Context) (session.State, error)
	Get(ctx context.Context, id string) (session.State, error)
	SelectMode(ctx context.Context, id string, mode models.Mode) (session.State, error)
	SelectFile(ctx context.Context, id string, file models.VideoFile) (session.State, error)
	SetText(ctx context.Context, id, text string) (session.State, error)
	Clear(ctx context.Context, id string) (session.State, error)
	Delete(ctx context.Context, id string) error
	Begin(ctx context.Context, id string) (session.State, session.Job, error)
	Run(ctx context.Context, job session.Job) (session.State, error)
}

type Server struct {
	sessions  Sessions
	validator *validation.Validator
	config    *config.Config
	logger    *logrus.Logger
	server    *http.Server
	handler   http.Handler
	model     string
	startTime time.Time

	// runs tracks submissions still talking to the model.
	runs sync.WaitGroup
}

type ServerOption func(*Server)

func NewServer(cfg *config.Config, opts ...ServerOption) *Server {
	s := &Server{
		config:    cfg,
		logger:    logrus.StandardLogger(),
		validator: validation.NewValidator(cfg.Limits),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.handler = s.routes()
	s.server = &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

func WithSessions(sessions Sessions) ServerOption {
	return func(s *Server) {
		s.sessions = sessions
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithValidator(v *validation.Validator) ServerOption {
	return func(s *Server) {
		s.validator = v
	}
}

// WithModel names the model reported by the health endpoint.
func WithModel(model string) ServerOption {
	return func(s *Server) {
		s.model = model
	}
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	s.logger.WithField("port", s.config.ServerPort).Info("Starting server")
	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests and waits for in-flight submissions
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.Wait(ctx)
}

// Wait blocks until background submissions finish or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.CORS(s.config.CORS))
	if s.config.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerMinute, s.config.RateLimit.BurstSize)
		r.Use(limiter.Middleware)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.HandleError(w, r, "Not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.HandleError(w, r, "Method not allowed", http.StatusMethodNotAllowed)
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Put("/mode", s.handleSelectMode)
			r.Post("/file", s.handleUploadFile)
			r.Put("/text", s.handleSetText)
			r.Post("/submit", s.handleSubmit)
			r.Post("/clear", s.handleClear)
			r.Get("/result/{column}", s.handleCopyColumn)
			r.Get("/export", s.handleExport)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":             "ok",
		"timestamp":          time.Now().UTC(),
		"version":            s.config.Version,
		"uptime":             time.Since(s.startTime).String(),
		"model":              s.model,
		"session_store":      s.config.Session.Store,
		"api_key_configured": s.config.Gemini.APIKey != "",
	}

	if s.config.Debug {
		status["debug"] = true
		status["goroutines"] = runtime.NumGoroutine()
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		status["memory"] = map[string]interface{}{
			"allocated": utils.FormatSize(int64(m.Alloc)),
			"system":    utils.FormatSize(int64(m.Sys)),
			"gc_cycles": m.NumGC,
		}
	}

	utils.RespondJSON(w, r, http.StatusOK, status)
}
