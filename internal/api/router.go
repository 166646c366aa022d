package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterOptions carries the optional endpoints.
type RouterOptions struct {
	Metrics http.Handler
	Health  map[string]HealthCheck
}

// RegisterRoutes registers all API routes
func RegisterRoutes(r *gin.Engine, h *Handler, m *MiddlewareManager, opts RouterOptions) {
	r.Use(m.Recovery(), m.Trace(), m.Logger())

	r.GET("/healthz", healthz(opts.Health))
	r.GET("/info", h.Info)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	community := r.Group("/api/v1/communities/:community_id")
	community.Use(m.JWTAuth(), m.CommunityAccess())
	{
		community.GET("/links", h.command("list_links"), h.ListLinks)
		community.GET("/console", h.Console)

		mutating := community.Group("")
		mutating.Use(m.RateLimit())
		{
			mutating.POST("/links", h.command("add_link"), h.AddLink)
			mutating.DELETE("/links/:invite", h.command("remove_link"), h.RemoveLink)
			mutating.DELETE("/links", h.command("remove_link"), h.RemoveLink)
			mutating.PUT("/enabled", h.command("set_enabled"), h.SetEnabled)
		}
	}
}

// NewRouter builds the engine in the given gin mode.
func NewRouter(mode string, h *Handler, m *MiddlewareManager, opts RouterOptions) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	r := gin.New()
	RegisterRoutes(r, h, m, opts)
	return r
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(c.Request.Context()); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": results})
	}
}
