package api

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewRouter builds the gin engine with logging, recovery, and all routes.
func NewRouter(h *Handlers, logger *zap.Logger, mode string) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))

	router.GET("/healthz", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.POST("/assess", h.Assess)
		v1.POST("/fingerprint", h.Fingerprint)
		v1.POST("/fingerprint/validate", h.ValidateFingerprint)
		v1.GET("/statistics", h.Statistics)
		v1.DELETE("/blocks/:identifier", h.ReleaseBlock)
	}

	return router
}
