package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/camctl/internal/auth"
	"github.com/danmuck/camctl/internal/events"
	"github.com/danmuck/camctl/internal/observability"
	"github.com/danmuck/camctl/internal/plugins"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 5 * time.Second
)

type Config struct {
	ID          string
	Addr        string
	CORSOrigins []string
	Registry    *plugins.Registry
	Hub         *events.Hub
	// Auth guards /api. Nil leaves the API open.
	Auth   auth.Validator
	Logger *zerolog.Logger
}

// Server is the HTTP API in front of the plugin registry.
type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	router   *gin.Engine
	registry *plugins.Registry
	hub      *events.Hub
	auth     auth.Validator
	origins  []string
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	// closing ends websocket streams when the server shuts down.
	closing context.Context
	stop    context.CancelFunc
}

func New(cfg Config) *Server {
	observability.RegisterMetrics()
	id := cfg.ID
	if id == "" {
		id = "camctl"
	}
	logger := log.Logger.With().Str("component", "server").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	registry := cfg.Registry
	if registry == nil {
		registry = plugins.NewRegistry()
	}
	origins := normalizeOrigins(cfg.CORSOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization", auth.HeaderAPIKey},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	closing, stop := context.WithCancel(context.Background())
	s := &Server{
		ID:       id,
		Addr:     cfg.Addr,
		Appeared: time.Now(),
		router:   r,
		registry: registry,
		hub:      cfg.Hub,
		auth:     cfg.Auth,
		origins:  origins,
		logger:   logger,
		closing:  closing,
		stop:     stop,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve listens on Addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(s.stop)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("api listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info().Msg("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
