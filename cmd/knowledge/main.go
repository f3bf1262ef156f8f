package main

import (
	"log"
	"strconv"

	"github.com/aihub/policy-assistant/app/bootstrap"
	"github.com/aihub/policy-assistant/app/router"
	"github.com/aihub/policy-assistant/internal/logger"
	"github.com/aihub/policy-assistant/internal/services"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	cfg := app.Services.Config
	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		logger.Fatal("Invalid server port", zap.String("port", cfg.Server.Port), zap.Error(err))
	}

	// 先注册路由，知识库就绪前 /health 返回503
	router.Init(app.Context(), app.Services)

	web.BConfig.AppName = "Policy Assistant"
	web.BConfig.Listen.HTTPPort = port
	web.BConfig.RunMode = web.DEV
	if cfg.Server.Env == "production" {
		web.BConfig.RunMode = web.PROD
	}

	go loadKnowledgeBase(app)

	logger.Info("Starting Policy Assistant", zap.Int("port", port))
	web.Run()
}

func loadKnowledgeBase(app *bootstrap.App) {
	if err := app.LoadKnowledgeBase(); err != nil {
		logger.Fatal("Failed to load knowledge base", zap.Error(err))
	}
	status := app.Services.KnowledgeBase.Status()
	if status.Source == services.SourceDegraded {
		logger.Warn("Serving stale index, documents unavailable", zap.Int("chunks", status.Chunks))
		return
	}
	logger.Info("Knowledge base ready",
		zap.String("source", status.Source),
		zap.String("index_kind", status.IndexKind),
		zap.Int("chunks", status.Chunks))
}
