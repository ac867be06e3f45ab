// Package http implements the broker's admin surface: publish, subscription
// introspection, dead-letter queue operations, and a live-tail websocket,
// all described in SPEC_FULL.md's domain-stack section.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerfiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"rotif/internal/config"
	"rotif/pkg/realtime"
	"rotif/pkg/rotif"
)

// Server is the admin HTTP API fronting a running Broker.
type Server struct {
	config *config.Config
	logger *logrus.Logger
	broker *rotif.Broker
	hub    *realtime.Hub

	engine *gin.Engine
	server *http.Server

	publish      *publishHandler
	subscription *subscriptionHandler
	dlq          *dlqHandler
	health       *healthHandler
	ws           *websocketHandler
}

// NewServer wires the admin API's handlers against an already-running Broker
// and live-tail Hub.
func NewServer(cfg *config.Config, logger *logrus.Logger, broker *rotif.Broker, hub *realtime.Hub) *Server {
	return &Server{
		config:       cfg,
		logger:       logger,
		broker:       broker,
		hub:          hub,
		publish:      newPublishHandler(broker, logger),
		subscription: newSubscriptionHandler(broker),
		dlq:          newDLQHandler(broker, logger),
		health:       newHealthHandler(cfg, broker),
		ws:           newWebsocketHandler(hub, logger),
	}
}

// Start builds the route table and serves until the process is asked to
// shut down; ListenAndServe's own error is swallowed on a graceful close.
func (s *Server) Start() error {
	if s.config.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.engine = gin.New()

	corsConfig := cors.DefaultConfig()
	origins := s.config.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = len(origins) != 1 || origins[0] != "*"
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-Request-ID")
	corsConfig.MaxAge = 5 * time.Minute
	s.engine.Use(cors.New(corsConfig))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.GetServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	s.logger.WithField("addr", s.server.Addr).Info("starting admin HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.engine.Use(RequestID())
	s.engine.Use(Logger(s.logger))
	s.engine.Use(Recovery(s.logger))
	s.engine.Use(Metrics())

	s.engine.GET("/health", s.health.Check)
	s.engine.GET("/health/ready", s.health.Ready)
	s.engine.GET("/health/live", s.health.Live)

	if s.config.IsDevelopment() {
		s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerfiles.Handler))
	}

	v1 := s.engine.Group("/api/v1")
	{
		v1.POST("/publish", s.publish.Publish)

		subs := v1.Group("/subscriptions")
		{
			subs.GET("", s.subscription.List)
			subs.GET("/:id", s.subscription.Get)
			subs.POST("/:id/pause", s.subscription.Pause)
			subs.POST("/:id/resume", s.subscription.Resume)
			subs.DELETE("/:id", s.subscription.Unsubscribe)
		}

		dlq := v1.Group("/dlq")
		{
			dlq.GET("/stats", s.dlq.Stats)
			dlq.GET("/messages", s.dlq.Messages)
			dlq.POST("/cleanup", s.dlq.Cleanup)
			dlq.DELETE("", s.dlq.Clear)
			dlq.PUT("/config", s.dlq.UpdateConfig)
			dlq.POST("/requeue", s.dlq.Requeue)
		}
	}

	s.engine.GET("/ws/tail", s.ws.Handle)
}

// Shutdown stops accepting new connections and waits for in-flight requests
// to complete, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the address the server is configured to listen on, useful
// for logging before Start has bound the socket.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
}
