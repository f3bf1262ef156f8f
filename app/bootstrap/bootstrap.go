package bootstrap

import (
	"context"
	"log"
	"time"

	"github.com/aihub/policy-assistant/internal/config"
	"github.com/aihub/policy-assistant/internal/di"
	"github.com/aihub/policy-assistant/internal/logger"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const minJanitorInterval = time.Minute

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Services *di.Services

	ctx          context.Context
	cancel       context.CancelFunc
	cleanupTasks []func() error
}

// Context 应用生命周期上下文，Shutdown时取消
func (a *App) Context() context.Context {
	return a.ctx
}

// Init loads configuration and the logger and wires services. The knowledge
// base is not loaded yet; call LoadKnowledgeBase once routes are registered.
func Init() (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}
	if err := config.LoadConfig(); err != nil {
		return nil, err
	}
	return Prepare(config.AppConfig, logger.GetLogger())
}

// Start 按给定配置装配服务并初始化知识库
func Start(cfg *config.Config, zapLogger *zap.Logger) (*App, error) {
	app, err := Prepare(cfg, zapLogger)
	if err != nil {
		return nil, err
	}
	if err := app.LoadKnowledgeBase(); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

// Prepare 装配服务并启动会话清理，不加载知识库
func Prepare(cfg *config.Config, zapLogger *zap.Logger) (*App, error) {
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}
	svc, err := di.Build(cfg, zapLogger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{Services: svc, ctx: ctx, cancel: cancel}

	err = di.Invoke(func(client *redis.Client) {
		if client != nil {
			app.cleanupTasks = append(app.cleanupTasks, client.Close)
		}
	})
	if err != nil {
		zapLogger.Warn("Redis client not registered for cleanup", zap.Error(err))
	}

	if ttl := cfg.Server.SessionIdleTTL; ttl > 0 {
		interval := ttl / 4
		if interval < minJanitorInterval {
			interval = minJanitorInterval
		}
		svc.Sessions.StartJanitor(ctx, interval)
	}

	return app, nil
}

// LoadKnowledgeBase 加载或构建知识库，文档或索引故障时返回错误
func (a *App) LoadKnowledgeBase() error {
	svc := a.Services
	cfg := svc.Config
	if _, err := svc.KnowledgeBase.BuildOrLoadKnowledgeBase(a.ctx, cfg.Knowledge.DocumentPath); err != nil {
		return err
	}

	if cfg.Knowledge.WatchDocuments {
		if err := svc.KnowledgeBase.Watch(a.ctx); err != nil {
			svc.Logger.Warn("Document watcher not started", zap.Error(err))
		}
	}
	return nil
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	a.cancel()

	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			logger.Error("Cleanup error", zap.Error(err))
		}
	}

	logger.Sync()
}
