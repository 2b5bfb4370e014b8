// Package api assembles the HTTP surface: the single catch-all rewrite
// route plus health and metrics endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ddevcap/sso-adapter/api/handler"
	"github.com/ddevcap/sso-adapter/api/middleware"
	"github.com/ddevcap/sso-adapter/audit"
	"github.com/ddevcap/sso-adapter/config"
	"github.com/ddevcap/sso-adapter/forward"
)

// NewRouter builds the proxy's http.Handler: recovery, request-ID, request
// logging, permissive CORS (needed because SSE streams are frequently
// consumed directly by browser-based clients), then the catch-all rewrite
// route plus /health, /ready, and /metrics.
func NewRouter(settings config.AppSettings, rules func() config.RuleSet, fwd *forward.Forwarder, auditLog *audit.Log) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), corsMiddleware())

	proxy := handler.New(settings, rules, fwd, auditLog)

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ready"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.NoRoute(proxy.Handle)
	r.NoMethod(proxy.Handle)

	return r
}

// NewMetricsHandler builds the standalone Prometheus handler used when
// AppSettings.MetricsAddr names a separate listener from the main proxy
// port, keeping the operator-facing /metrics surface reachable even if the
// proxy's own listener is saturated.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// corsMiddleware is deliberately permissive: the proxy fronts an arbitrary,
// rule-configured set of upstream paths, not a fixed API surface, so there
// is no origin allowlist to build.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:   []string{"Content-Length", "Content-Type", "Location"},
		MaxAge:          24 * time.Hour,
	})
}
