package controllers

import (
	"github.com/aihub/policy-assistant/internal/models"
	"github.com/aihub/policy-assistant/internal/services"
	"go.uber.org/zap"
)

// ChatRequest 提问请求
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Question  string `json:"question" validate:"required,max=2000"`
}

// ChatResponse 提问响应
type ChatResponse struct {
	SessionID       string          `json:"session_id"`
	Answer          string          `json:"answer"`
	Confidence      float64         `json:"confidence"`
	ConfidenceLevel string          `json:"confidence_level"`
	Sources         []models.Source `json:"sources"`
}

// ChatController 对话接口
type ChatController struct {
	BaseController
	Sessions *services.SessionManager
}

// NewChatController 创建对话控制器
func NewChatController(sessions *services.SessionManager, logger *zap.Logger) *ChatController {
	return &ChatController{
		BaseController: BaseController{Logger: logger},
		Sessions:       sessions,
	}
}

// Ask POST /api/chat
func (c *ChatController) Ask() {
	var req ChatRequest
	if !c.bindJSON(&req) {
		return
	}

	session := c.Sessions.GetOrCreate(req.SessionID)
	answer, err := session.Ask(c.Ctx.Request.Context(), req.Question)
	if err != nil {
		c.JSONAppError(err)
		return
	}

	c.log().Debug("chat answered",
		zap.String("session_id", session.ID),
		zap.String("client_ip", c.getClientIP()),
		zap.Float64("confidence", answer.Confidence))

	sources := answer.Sources
	if sources == nil {
		sources = []models.Source{}
	}
	c.JSONSuccess(ChatResponse{
		SessionID:       session.ID,
		Answer:          answer.Text,
		Confidence:      answer.Confidence,
		ConfidenceLevel: models.ConfidenceLevel(answer.Confidence),
		Sources:         sources,
	})
}

// History GET /api/chat/:session_id/history
func (c *ChatController) History() {
	id := c.Ctx.Input.Param(":session_id")
	session, ok := c.Sessions.Get(id)
	if !ok {
		c.JSONSuccess(map[string]interface{}{"session_id": id, "turns": []models.ConversationTurn{}})
		return
	}
	c.JSONSuccess(map[string]interface{}{"session_id": id, "turns": session.History()})
}

// ClearHistory DELETE /api/chat/:session_id/history
func (c *ChatController) ClearHistory() {
	id := c.Ctx.Input.Param(":session_id")
	if err := c.Sessions.ClearHistory(id); err != nil {
		c.JSONAppError(err)
		return
	}
	c.JSONSuccess(map[string]interface{}{"session_id": id, "cleared": true})
}
