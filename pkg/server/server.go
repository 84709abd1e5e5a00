// Package server exposes the chronograph client over HTTP with gin.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/chronograph"
	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/server/handlers"
)

// Server is the HTTP front end.
type Server struct {
	config *config.Config
	router *gin.Engine
	client *chronograph.Client
	logger *slog.Logger
	server *http.Server
}

// New creates a server over the given client.
func New(cfg *config.Config, client *chronograph.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{config: cfg, client: client, logger: logger}
}

// Setup builds the router and the underlying http.Server.
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())
	s.router.Use(requestLogMiddleware(s.logger))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.config.Server.Addr(),
		Handler: s.router,
	}
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.client)
	ingestHandler := handlers.NewIngestHandler(s.client)
	retrieveHandler := handlers.NewRetrieveHandler(s.client)
	mutateHandler := handlers.NewMutateHandler(s.client)

	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/live", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	s.router.GET("/health/detailed", healthHandler.DetailedHealthCheck)

	v1 := s.router.Group("/api/v1")
	{
		ingest := v1.Group("/ingest")
		{
			ingest.POST("", ingestHandler.AddEpisode)
			ingest.POST("/messages", ingestHandler.AddMessages)
		}
		v1.DELETE("/clear/:group_id", ingestHandler.ClearData)

		v1.POST("/search", retrieveHandler.Search)
		v1.GET("/episodes/:group_id", retrieveHandler.GetEpisodes)
		v1.GET("/entity-edge/:uuid/citations", retrieveHandler.GetEdgeCitations)
		v1.GET("/stats/queue", retrieveHandler.QueueStats)
		v1.GET("/stats/graph/:group_id", retrieveHandler.GraphStats)

		v1.PUT("/entity-edge/:uuid", mutateHandler.UpdateEdge)
		v1.DELETE("/episode/:uuid", mutateHandler.DeleteEpisode)
	}
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds permissive CORS headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogMiddleware logs one line per request through the service logger.
func requestLogMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}
