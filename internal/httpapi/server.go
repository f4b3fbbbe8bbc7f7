package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"blastd/internal/dispatch"
	"blastd/internal/storage"
	logx "blastd/pkg/logx"
)

// Dispatcher is the run-control surface exposed over HTTP.
type Dispatcher interface {
	LaunchRun(ctx context.Context, projectID, startedBy string) (string, int, error)
	StopRun(ctx context.Context, projectID string) (int, error)
	RunStatus(ctx context.Context, projectID string) (dispatch.Status, error)
}

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	return c
}

// Server hosts the admin API.
type Server struct {
	cfg     Config
	e       *echo.Echo
	store   storage.Store
	disp    Dispatcher
	metrics http.Handler
	log     logx.Logger
}

type Option func(*Server)

// WithMetricsHandler mounts a metrics endpoint at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

func New(cfg Config, store storage.Store, disp Dispatcher, log logx.Logger, opts ...Option) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{
		cfg:   cfg.withDefaults(),
		store: store,
		disp:  disp,
		log:   log.With(logx.String("component", "httpapi")),
	}
	for _, opt := range opts {
		opt(s)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = s.cfg.ReadTimeout
	e.Server.WriteTimeout = s.cfg.WriteTimeout
	e.Validator = NewValidator()
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.Recover())
	e.Use(s.requestLogger())

	s.e = e
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/health", s.health)
	if s.metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	api := s.e.Group("/api/v1")

	api.POST("/projects", s.createProject)
	api.GET("/projects", s.listProjects)
	api.GET("/projects/:id", s.getProject)
	api.PUT("/projects/:id", s.updateProject)
	api.DELETE("/projects/:id", s.deleteProject)

	api.POST("/projects/:id/run", s.launchRun)
	api.POST("/projects/:id/stop", s.stopRun)
	api.GET("/projects/:id/status", s.runStatus)

	api.PUT("/projects/:id/channels", s.setProjectChannels)
	api.GET("/projects/:id/channels", s.listProjectChannels)
	api.PUT("/projects/:id/sessions", s.setProjectSessions)
	api.GET("/projects/:id/sessions", s.listProjectSessions)
	api.POST("/projects/:id/messages", s.createProjectMessage)
	api.GET("/projects/:id/messages", s.listProjectMessages)
	api.DELETE("/messages/:id", s.deleteProjectMessage)
	api.PUT("/projects/:id/delay", s.setDelay)

	api.POST("/sessions", s.createSession)
	api.GET("/sessions", s.listSessions)
	api.DELETE("/sessions/:id", s.deleteSession)

	api.POST("/channels", s.createChannel)
	api.GET("/channels", s.listChannels)
	api.DELETE("/channels/:id", s.deleteChannel)

	api.POST("/categories", s.createCategory)
	api.GET("/categories", s.listCategories)
	api.DELETE("/categories/:id", s.deleteCategory)

	api.POST("/files", s.createFile)
	api.GET("/files/:id", s.getFile)

	api.GET("/runs/:id", s.getRun)
	api.GET("/runs/:id/logs", s.listRunLogs)
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			s.log.Debug("request",
				logx.String("method", req.Method),
				logx.String("path", req.URL.Path),
				logx.Int("status", c.Response().Status),
				logx.Duration("took", time.Since(start)))
			return err
		}
	}
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.log.Info("api listening", logx.String("addr", s.cfg.Addr))
	if err := s.e.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the underlying router for tests.
func (s *Server) Handler() http.Handler { return s.e }
