// Package api is the read-only collaborator surface: registry and
// time-series queries, provider status, and the sync audit log. Collaborators
// never reach a provider transport through here; the only provider mutations
// are the manual status transitions.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundsync/internal/config"
	"fundsync/internal/logger"
	"fundsync/internal/provider"
)

// Server is the collaborator HTTP server.
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	handlers   *Handlers
}

// Handlers groups the route handlers by concern.
type Handlers struct {
	Assets    *AssetHandler
	Series    *SeriesHandler
	Providers *ProviderHandler
	Sync      *SyncHandler
}

// Deps carries the stores and provider clients the server queries.
type Deps struct {
	Assets    AssetStore
	Series    SeriesStore
	SyncLog   SyncStore
	Providers []*provider.Client
	States    *provider.StateStore
}

// NewServer creates the API server and registers all routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config: cfg,
		router: gin.New(),
		handlers: &Handlers{
			Assets:    NewAssetHandler(deps.Assets),
			Series:    NewSeriesHandler(deps.Series),
			Providers: NewProviderHandler(deps.Providers, deps.States),
			Sync:      NewSyncHandler(deps.SyncLog),
		},
	}
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestLogger())

	if s.config.Monitoring.PrometheusEnabled {
		path := s.config.Monitoring.PrometheusPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(promhttp.Handler()))
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	})

	v1 := s.router.Group("/api/v1")
	{
		assets := v1.Group("/assets")
		{
			assets.GET("", s.handlers.Assets.List)
			assets.POST("", s.handlers.Assets.Create)
			assets.GET("/:ticker", s.handlers.Assets.Get)
			assets.GET("/:ticker/ohlcv", s.handlers.Series.OHLCVRange)
			assets.GET("/:ticker/trades", s.handlers.Series.TradeRange)
		}

		providers := v1.Group("/providers")
		{
			providers.GET("", s.handlers.Providers.List)
			providers.GET("/:name", s.handlers.Providers.Get)
			providers.POST("/:name/reactivate", s.handlers.Providers.Reactivate)
			providers.POST("/:name/maintenance", s.handlers.Providers.SetMaintenance)
		}

		v1.GET("/sync-records", s.handlers.Sync.Recent)
	}
}

// Router exposes the handler tree, used by tests.
func (s *Server) Router() http.Handler { return s.router }

// Start runs the HTTP server until Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.API.ReadTimeout,
		WriteTimeout: s.config.API.WriteTimeout,
	}

	logger.Infof("starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("API server stopped")
	return nil
}

// requestLogger logs one structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}
