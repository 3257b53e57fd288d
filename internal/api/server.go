// Package api exposes prompt resolution and tenant prompt configuration
// over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/promptsync/internal/prompts"
)

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	addr     string
	resolver *prompts.Resolver
	admin    *prompts.Admin
}

// NewServer creates a new API server. gatherer may be nil to disable /metrics.
func NewServer(addr string, resolver *prompts.Resolver, admin *prompts.Admin, gatherer prometheus.Gatherer) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: newRequestID}))
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:     e,
		addr:     addr,
		resolver: resolver,
		admin:    admin,
	}

	// Setup routes
	server.setupRoutes(gatherer)

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	// Resolution endpoints
	v1.POST("/prompts/resolve", s.resolvePrompt)
	v1.GET("/prompts/defaults", s.listDefaults)
	v1.GET("/prompts/cache/stats", s.cacheStats)
	v1.DELETE("/prompts/cache", s.clearCache)
	v1.DELETE("/tenants/:tenant/cache", s.invalidateTenantCache)

	// Tenant configuration endpoints
	v1.GET("/tenants/:tenant/prompt-config", s.getTenantConfig)
	v1.PUT("/tenants/:tenant/prompt-config", s.putTenantConfig)
	v1.DELETE("/tenants/:tenant/prompt-config", s.deleteTenantConfig)
	v1.POST("/tenants/:tenant/prompt-config/test", s.testTenantConfig)
	v1.POST("/tenants/:tenant/prompt-config/enabled", s.setTenantConfigEnabled)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("starting prompt API server")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Info().Msg("shutting down prompt API server")
	return s.echo.Shutdown(shutdownCtx)
}
