package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	fleet "github.com/everydev1618/agentfleet"
	"github.com/everydev1618/agentfleet/llm"
)

// Config holds server configuration.
type Config struct {
	Addr   string
	DBPath string
}

// Fleet is the part of the orchestrator the control plane needs.
type Fleet interface {
	Directory() fleet.Directory
	OnEvent(fn func(fleet.Event))
}

// Server is the HTTP control plane for a running fleet.
type Server struct {
	fleet     Fleet
	health    llm.HealthChecker
	broker    *EventBroker
	store     Store
	cfg       Config
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a new Server. health may be nil when the backend has no
// health probe.
func New(f Fleet, health llm.HealthChecker, cfg Config) *Server {
	return &Server{
		fleet:     f,
		health:    health,
		broker:    NewEventBroker(),
		cfg:       cfg,
		logger:    slog.Default().With("component", "serve"),
		startedAt: time.Now(),
	}
}

// Open initializes the store and wires fleet events into the broker and
// store. Start calls it; tests call it directly.
func (s *Server) Open() error {
	if s.store == nil {
		store, err := NewSQLiteStore(s.cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		s.store = store
	}
	if err := s.store.Init(); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	s.wireCallbacks()
	return nil
}

// Start opens the store and listens for HTTP requests. It blocks until ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Open(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve listens for HTTP requests on an opened server until ctx is
// cancelled, then closes the store.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API started", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down control API")
	case err := <-errCh:
		s.store.Close()
		return err
	}

	// Closing the broker ends SSE handlers so the server can drain.
	s.broker.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown error", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
	}
	return nil
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger), corsMiddleware())
	s.registerRoutes(router)
	return router
}

func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/agents", s.handleListAgents)
		api.GET("/agents/:name", s.handleGetAgent)
		api.POST("/agents/:name/stop", s.handleStopAgent)
		api.POST("/agents/:name/continue", s.handleContinueAgent)
		api.GET("/health", s.handleHealth)
		api.GET("/events", s.handleListEvents)
		api.GET("/events/stream", s.handleSSE)
	}
}

// wireCallbacks hooks the fleet's lifecycle events into the broker and store.
func (s *Server) wireCallbacks() {
	s.fleet.OnEvent(func(ev fleet.Event) {
		s.broker.Publish(ev)
		if err := s.store.InsertEvent(storeEventFrom(ev)); err != nil {
			s.logger.Warn("event not recorded", "type", ev.Type, "agent", ev.AgentName, "error", err)
		}
	})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// corsMiddleware adds permissive CORS headers for local tooling.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
