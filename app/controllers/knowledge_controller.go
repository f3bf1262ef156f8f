package controllers

import (
	"errors"
	"net/http"

	"github.com/aihub/policy-assistant/internal/services"
	"go.uber.org/zap"
)

// KnowledgeController 知识库管理接口
type KnowledgeController struct {
	BaseController
	KnowledgeBase *services.KnowledgeBaseService
}

// NewKnowledgeController 创建知识库控制器
func NewKnowledgeController(kb *services.KnowledgeBaseService, logger *zap.Logger) *KnowledgeController {
	return &KnowledgeController{
		BaseController: BaseController{Logger: logger},
		KnowledgeBase:  kb,
	}
}

// Status GET /api/knowledge/status
func (c *KnowledgeController) Status() {
	c.JSONSuccess(c.KnowledgeBase.Status())
}

// Rebuild POST /api/knowledge/rebuild
func (c *KnowledgeController) Rebuild() {
	if _, err := c.KnowledgeBase.Rebuild(c.Ctx.Request.Context()); err != nil {
		if errors.Is(err, services.ErrBuildInProgress) {
			c.JSONError(http.StatusConflict, err.Error())
			return
		}
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(c.KnowledgeBase.Status())
}
