// Package api exposes the webhook ingress and the operator surface over
// HTTP: alert intake, breaker inspection and reset, the playbook
// registry view, tickets, health, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pipeheal/pipeheal/pkg/classify"
	"github.com/pipeheal/pipeheal/pkg/config"
	"github.com/pipeheal/pipeheal/pkg/events"
	"github.com/pipeheal/pipeheal/pkg/executor"
	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/metrics"
	"github.com/pipeheal/pipeheal/pkg/ticket"
)

// Server is the HTTP server for ingress and operator endpoints
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	executor   *executor.Executor
	classifier *classify.Chain
	tickets    *ticket.Store
	broker     *events.Broker
	cfg        config.Server
}

// NewServer wires the HTTP surface. The ticket store and broker may be
// nil in tests.
func NewServer(exec *executor.Executor, classifier *classify.Chain, tickets *ticket.Store, broker *events.Broker, cfg config.Server) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		engine:     engine,
		executor:   exec,
		classifier: classifier,
		tickets:    tickets,
		broker:     broker,
		cfg:        cfg,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	s.engine.POST("/webhook/alert", s.requireAPIKey(), s.handleAlert)
	s.engine.POST("/webhook/alert/:source", s.requireAPIKey(), s.handleAlert)

	operator := s.engine.Group("/api")
	{
		operator.GET("/circuit-breakers", s.listBreakers)
		operator.POST("/circuit-breakers/:key/reset", s.resetBreaker)
		operator.GET("/supported-error-types", s.listErrorTypes)
		operator.GET("/playbooks", s.listPlaybooks)
		operator.GET("/tickets", s.listTickets)
		operator.GET("/tickets/:id", s.getTicket)
	}
}

// Start runs the server until the listener fails
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	apiLogger := log.WithComponent("api")
	apiLogger.Info().Str("addr", addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// requireAPIKey guards the webhook when a key is configured
func (s *Server) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.APIKey == "" {
			return
		}
		if c.GetHeader("X-Api-Key") != s.cfg.APIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		}
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		reqLogger := log.WithComponent("api")
		reqLogger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
