package di

import (
	"github.com/aihub/policy-assistant/internal/config"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Container 是依赖注入容器的全局实例
var Container *dig.Container

// InitContainer 初始化依赖注入容器
func InitContainer() *dig.Container {
	Container = dig.New()
	return Container
}

// Invoke 封装dig.Invoke
func Invoke(function interface{}, opts ...dig.InvokeOption) error {
	return Container.Invoke(function, opts...)
}

// Build 创建容器、注册提供者并解析服务
func Build(cfg *config.Config, logger *zap.Logger) (*Services, error) {
	container := InitContainer()
	if err := RegisterProviders(container, cfg, logger); err != nil {
		return nil, err
	}

	var resolved *Services
	err := container.Invoke(func(s Services) {
		resolved = &s
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}
