package controllers

import (
	"net/http"

	"github.com/aihub/policy-assistant/internal/services"
)

// RootController 根控制器
type RootController struct {
	BaseController
}

func (c *RootController) Index() {
	c.JSONSuccess(map[string]string{"message": "Policy Assistant API"})
}

// HealthController 健康检查，知识库就绪前返回503
type HealthController struct {
	BaseController
	KnowledgeBase *services.KnowledgeBaseService
}

func (c *HealthController) Health() {
	status := c.KnowledgeBase.Status()
	if !status.Ready {
		c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"success": false,
			"data":    map[string]interface{}{"status": "initializing", "knowledge_base": status},
		})
		return
	}
	c.JSONSuccess(map[string]interface{}{"status": "healthy", "knowledge_base": status})
}
