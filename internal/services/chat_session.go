package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aihub/policy-assistant/internal/conversation"
	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"github.com/aihub/policy-assistant/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ApologyMessage 检索或生成失败时的回复
const ApologyMessage = "I'm sorry, I encountered an error processing your question. Please try again."

// ChatSession 单个对话会话。同一会话内的问题串行处理
type ChatSession struct {
	ID string

	history      *conversation.History
	kb           *KnowledgeBaseService
	orchestrator *ResponseOrchestrator
	logger       *zap.Logger

	mu sync.Mutex
	// lastActive 最近活动时间（UnixNano），清理时无需等待进行中的提问
	lastActive atomic.Int64
}

// NewChatSession 创建会话
func NewChatSession(id string, kb *KnowledgeBaseService, orchestrator *ResponseOrchestrator, logger *zap.Logger) *ChatSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ChatSession{
		ID:           id,
		history:      conversation.NewHistory(),
		kb:           kb,
		orchestrator: orchestrator,
		logger:       logger.With(zap.String("session_id", id)),
	}
	s.touch(time.Now())
	return s
}

// Ask 回答问题并记录到历史。检索和生成失败被转换为置信度0的致歉回复，
// 只有知识库未就绪时返回错误
func (s *ChatSession) Ask(ctx context.Context, question string) (models.Answer, error) {
	kb := s.kb.Current()
	if kb == nil {
		return models.Answer{}, apperrors.NotReady()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(time.Now())

	s.history.Append(models.UserTurn(question))
	answer, err := s.orchestrator.Answer(ctx, question, kb.Index, kb.Chunks, s.history.Turns())
	if err != nil {
		appErr := apperrors.GetAppError(err)
		s.logger.Error("failed to answer question",
			zap.String("code", string(appErr.Code)),
			zap.String("kind", appErr.Kind),
			zap.Error(err))
		answer = models.Answer{Text: ApologyMessage, Confidence: 0, Sources: []models.Source{}}
	}
	s.history.Append(models.AssistantTurn(answer.Text, answer.Confidence))
	return answer, nil
}

// ClearHistory 清空对话历史
func (s *ChatSession) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history.Clear()
	s.touch(time.Now())
}

// History 返回历史副本
func (s *ChatSession) History() []models.ConversationTurn {
	return s.history.Turns()
}

func (s *ChatSession) touch(t time.Time) {
	s.lastActive.Store(t.UnixNano())
}

func (s *ChatSession) idleSince() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// SessionManager 按ID管理对话会话，空闲超时的会话会被清理
type SessionManager struct {
	kb           *KnowledgeBaseService
	orchestrator *ResponseOrchestrator
	idleTTL      time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*ChatSession
}

// NewSessionManager 创建会话管理器，idleTTL<=0 表示不过期
func NewSessionManager(kb *KnowledgeBaseService, orchestrator *ResponseOrchestrator, idleTTL time.Duration, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		kb:           kb,
		orchestrator: orchestrator,
		idleTTL:      idleTTL,
		logger:       logger,
		sessions:     make(map[string]*ChatSession),
	}
}

// Get 按ID获取会话
func (m *SessionManager) Get(id string) (*ChatSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate 获取会话，不存在时创建。id为空或不是合法UUID时分配新ID
func (m *SessionManager) GetOrCreate(id string) *ChatSession {
	if s, ok := m.Get(id); ok {
		return s
	}
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := NewChatSession(id, m.kb, m.orchestrator, m.logger)
	m.sessions[id] = s
	m.logger.Debug("session created", zap.String("session_id", id))
	return s
}

// ClearHistory 清空指定会话的历史
func (m *SessionManager) ClearHistory(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return apperrors.NewBusinessError(apperrors.ErrCodeNotFound, "session not found")
	}
	s.ClearHistory()
	return nil
}

// Count 当前会话数
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Prune 移除空闲超过idleTTL的会话，返回移除数量
func (m *SessionManager) Prune(now time.Time) int {
	if m.idleTTL <= 0 {
		return 0
	}
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if now.Sub(s.idleSince()) > m.idleTTL {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()
	if len(stale) == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, id := range stale {
		// 复查，期间可能有新的提问
		if s, ok := m.sessions[id]; ok && now.Sub(s.idleSince()) > m.idleTTL {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info("idle sessions pruned", zap.Int("removed", removed), zap.Int("remaining", len(m.sessions)))
	}
	return removed
}

// StartJanitor 定期清理空闲会话，直到ctx结束
func (m *SessionManager) StartJanitor(ctx context.Context, interval time.Duration) {
	if m.idleTTL <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.Prune(now)
			}
		}
	}()
}
