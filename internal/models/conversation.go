package models

import (
	"time"
)

// Role 对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn 一轮对话消息，Confidence 仅助手消息有
type ConversationTurn struct {
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Confidence *float64  `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserTurn 创建用户消息
func UserTurn(content string) ConversationTurn {
	return ConversationTurn{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// AssistantTurn 创建助手消息
func AssistantTurn(content string, confidence float64) ConversationTurn {
	return ConversationTurn{Role: RoleAssistant, Content: content, Confidence: &confidence, CreatedAt: time.Now()}
}

// Source 回答引用的chunk
type Source struct {
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
}

// Answer 一次问答的结果
type Answer struct {
	Text       string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
}

// ConfidenceLevel 置信度展示档位
func ConfidenceLevel(confidence float64) string {
	switch {
	case confidence < 0.5:
		return "low"
	case confidence < 0.7:
		return "medium"
	default:
		return "high"
	}
}
