package router

import (
	"context"
	"net/http"
	"time"

	"github.com/aihub/policy-assistant/app/controllers"
	"github.com/aihub/policy-assistant/app/middleware"
	"github.com/aihub/policy-assistant/internal/di"
	"github.com/beego/beego/v2/server/web"
)

// Init 注册过滤器与路由，需在知识库服务创建之后调用
func Init(ctx context.Context, svc *di.Services) {
	web.BConfig.CopyRequestBody = true

	web.InsertFilter("/*", web.BeforeRouter, middleware.RequestStart)
	web.InsertFilter("/*", web.BeforeRouter,
		middleware.CORS(middleware.DefaultAllowedOrigins, svc.Config.Server.Env == "production"))
	web.InsertFilter("/*", web.FinishRouter,
		middleware.RequestLogger(svc.Logger, svc.Metrics), web.WithReturnOnOutput(false))

	if limit := svc.Config.Server.RateLimit; limit > 0 {
		limiter := middleware.NewRateLimiter(limit, time.Minute)
		go limiter.Run(ctx)
		web.InsertFilter("/api/chat", web.BeforeRouter, middleware.RateLimit(limiter, http.MethodPost))
	}

	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{KnowledgeBase: svc.KnowledgeBase}, "get:Health")

	chatController := controllers.NewChatController(svc.Sessions, svc.Logger)
	web.Router("/api/chat", chatController, "post:Ask")
	web.Router("/api/chat/:session_id/history", chatController, "get:History;delete:ClearHistory")

	// 具体路由在前
	knowledgeController := controllers.NewKnowledgeController(svc.KnowledgeBase, svc.Logger)
	web.Router("/api/knowledge/status", knowledgeController, "get:Status")
	web.Router("/api/knowledge/rebuild", knowledgeController, "post:Rebuild")

	searchController := controllers.NewSearchController(svc.KnowledgeBase, svc.Engine, svc.Logger)
	web.Router("/api/knowledge/search", searchController, "get:Search")

	if svc.Config.Prometheus.Enabled && svc.Metrics != nil {
		path := svc.Config.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		web.Handler(path, svc.Metrics.Handler())
	}
}
