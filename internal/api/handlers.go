package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/promptsync/internal/prompts"
	"github.com/promptsync/internal/repository"
	"github.com/promptsync/internal/tenantconfig"
	"github.com/promptsync/pkg/models"
)

type resolveRequest struct {
	Tenant  string               `json:"tenant"`
	Context models.PromptContext `json:"context"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors,omitempty"`
}

// POST /api/v1/prompts/resolve
func (s *Server) resolvePrompt(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tenant := strings.TrimSpace(req.Tenant)
	if tenant == "" {
		tenant = strings.TrimSpace(req.Context.GuildID)
	}
	if tenant == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}
	if req.Context.GuildID == "" {
		req.Context.GuildID = tenant
	}

	prompt := s.resolver.ResolveForTenant(c.Request().Context(), tenant, req.Context)
	return c.JSON(http.StatusOK, prompt)
}

// GET /api/v1/prompts/defaults
func (s *Server) listDefaults(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"categories": s.resolver.Defaults().Categories(),
	})
}

// GET /api/v1/prompts/cache/stats
func (s *Server) cacheStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.resolver.CacheStats())
}

// DELETE /api/v1/prompts/cache
func (s *Server) clearCache(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"removed": s.resolver.ClearCache()})
}

// DELETE /api/v1/tenants/:tenant/cache
func (s *Server) invalidateTenantCache(c echo.Context) error {
	removed := s.resolver.InvalidateTenantCache(c.Param("tenant"))
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

// GET /api/v1/tenants/:tenant/prompt-config
func (s *Server) getTenantConfig(c echo.Context) error {
	cfg, err := s.admin.Get(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return s.adminError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// PUT /api/v1/tenants/:tenant/prompt-config
func (s *Server) putTenantConfig(c echo.Context) error {
	var req prompts.ConfigureRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cfg, err := s.admin.Configure(c.Request().Context(), c.Param("tenant"), req)
	if err != nil {
		return s.adminError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// DELETE /api/v1/tenants/:tenant/prompt-config
func (s *Server) deleteTenantConfig(c echo.Context) error {
	existed, err := s.admin.Remove(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return s.adminError(c, err)
	}
	if !existed {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "tenant has no prompt configuration"})
	}
	return c.NoContent(http.StatusNoContent)
}

// POST /api/v1/tenants/:tenant/prompt-config/test
func (s *Server) testTenantConfig(c echo.Context) error {
	res, err := s.admin.Test(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return s.adminError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// POST /api/v1/tenants/:tenant/prompt-config/enabled
func (s *Server) setTenantConfigEnabled(c echo.Context) error {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cfg, err := s.admin.SetEnabled(c.Request().Context(), c.Param("tenant"), body.Enabled)
	if err != nil {
		return s.adminError(c, err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) adminError(c echo.Context, err error) error {
	var vf *prompts.ValidationFailedError
	switch {
	case errors.Is(err, tenantconfig.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "tenant has no prompt configuration"})
	case errors.Is(err, prompts.ErrConfigurationInvalid), errors.Is(err, tenantconfig.ErrInvalidConfig):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &vf):
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "repository validation failed", Errors: vf.Errors})
	case repository.Classify(err) == repository.KindRateLimit:
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: err.Error()})
	case repository.IsTransient(err), repository.Classify(err) == repository.KindTransport:
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		zerolog.Ctx(c.Request().Context()).Error().Err(err).Str("tenant", c.Param("tenant")).Msg("tenant prompt config operation failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
