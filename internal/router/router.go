package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jwalitptl/dorm-notify/internal/handler/billing"
	"github.com/jwalitptl/dorm-notify/internal/handler/health"
	"github.com/jwalitptl/dorm-notify/internal/handler/intent"
	"github.com/jwalitptl/dorm-notify/internal/handler/webhook"
	"github.com/jwalitptl/dorm-notify/internal/middleware"
	"github.com/jwalitptl/dorm-notify/pkg/auth"
	"github.com/jwalitptl/dorm-notify/pkg/logger"
)

type Router struct {
	engine *gin.Engine
}

func NewRouter(
	intentH *intent.Handler,
	billingH *billing.Handler,
	webhookH *webhook.Handler,
	healthH *health.Handler,
	tokens *auth.SessionTokenService,
	log *logger.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger(log))
	engine.Use(middleware.Recovery(log))

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	healthH.RegisterRoutes(api)
	billingH.RegisterRoutes(api)
	webhookH.RegisterRoutes(api)
	intentH.RegisterRoutes(api, middleware.SessionAuth(tokens))

	return &Router{engine: engine}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
