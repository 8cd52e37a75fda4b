package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	InternalToken string
	AdminToken    string
	// Gatherer backs /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
}

func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), Correlation(), RequestLogger(logger))

	r.GET("/health", h.Health)
	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/orders/:id/status", h.Status)
	r.POST("/provider/callback", h.Callback)

	internal := r.Group("/internal", InternalAuth(cfg.InternalToken))
	internal.POST("/orders/:id/fulfill", h.Fulfill)

	admin := r.Group("/admin", AdminAuth(cfg.AdminToken))
	admin.POST("/orders/:id/retry", h.Retry)

	return r
}
