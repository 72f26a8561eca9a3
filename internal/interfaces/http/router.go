// Package http wires the entitlement API routes.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/daybrief/daybrief/internal/interfaces/http/handlers"
	"github.com/daybrief/daybrief/internal/interfaces/http/middleware"
	sharedConfig "github.com/daybrief/daybrief/internal/shared/config"
	"github.com/daybrief/daybrief/internal/shared/logger"
)

// RateLimiter abstracts the rate limiting middleware so tests can run
// without Redis.
type RateLimiter interface {
	Limit() gin.HandlerFunc
}

// NewRouter builds the gin engine with the full middleware chain and the
// entitlement routes mounted under /api.
func NewRouter(
	serverCfg sharedConfig.ServerConfig,
	identity *middleware.IdentityMiddleware,
	rateLimiter RateLimiter,
	entitlementHandler *handlers.EntitlementHandler,
	log logger.Interface,
) *gin.Engine {
	if serverCfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidations()

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(serverCfg.AllowedOrigins))
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.Use(identity.Resolve())
	if rateLimiter != nil {
		api.Use(rateLimiter.Limit())
	}
	{
		api.GET("/entitlement", entitlementHandler.GetEntitlement)
		api.GET("/entitlement/status", entitlementHandler.GetStatus)
		api.POST("/entitlement/revoke", entitlementHandler.Revoke)
		api.POST("/purchase", entitlementHandler.Purchase)
		api.POST("/purchase/restore", entitlementHandler.Restore)
	}

	return router
}
