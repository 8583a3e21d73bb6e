// Package api exposes the dashboard HTTP surface: operator login, trading
// mode read/change, audit history, stream status, the browser websocket
// relay and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"trading-dashboard/internal/audit"
	"trading-dashboard/internal/auth"
	"trading-dashboard/internal/cache"
	"trading-dashboard/internal/mode"
	"trading-dashboard/internal/stream"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RateLimiter provides simple in-memory rate limiting, used on login to
// slow down password guessing.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Host           string
	Port           int
	ProductionMode bool
	AllowedOrigins []string
}

// Server is the dashboard HTTP server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	controller  *mode.Controller
	streamMgr   *stream.Manager
	auditLog    *audit.PostgresSink
	modeCache   *cache.ModeCache // may be nil
	authService *auth.Service    // nil when auth is disabled
	hub         *Hub
	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

// NewServer wires the HTTP surface. authService may be nil to disable auth
// (local development only); modeCache may be nil when Redis is not
// configured.
func NewServer(
	config ServerConfig,
	controller *mode.Controller,
	streamMgr *stream.Manager,
	auditLog *audit.PostgresSink,
	modeCache *cache.ModeCache,
	authService *auth.Service,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:      gin.New(),
		config:      config,
		controller:  controller,
		streamMgr:   streamMgr,
		auditLog:    auditLog,
		modeCache:   modeCache,
		authService: authService,
		hub:         NewHub(logger),
		rateLimiter: NewRateLimiter(10, time.Minute),
		logger:      logger.With().Str("component", "Server").Logger(),
	}

	s.router.Use(gin.Recovery())
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s.registerRoutes()
	return s
}

// Hub returns the browser websocket hub so stream events can be relayed.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.POST("/auth/login", s.handleLogin)

	protected := v1.Group("")
	if s.authService != nil {
		protected.Use(auth.Middleware(s.authService))
	}
	protected.GET("/trading/mode", s.handleGetMode)
	protected.POST("/trading/mode", s.handleChangeMode)
	protected.GET("/trading/mode/audit", s.handleModeAudit)
	protected.GET("/stream/status", s.handleStreamStatus)
	protected.GET("/ws", s.handleWebSocket)
}

// Start runs the hub and the HTTP server. Blocks until the server stops.
func (s *Server) Start() error {
	go s.hub.Run()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("dashboard server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and the hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}
