package conversation

import (
	"strings"
	"sync"

	"github.com/aihub/policy-assistant/internal/models"
)

// MaxContextTurns 提示词中保留的最近消息数（3轮问答）
const MaxContextTurns = 6

// Format 渲染最近的对话历史。末尾未回答的用户消息不计入，
// 保留最多6条，按时间顺序输出 "User: ..." / "Assistant: ..."
func Format(history []models.ConversationTurn) string {
	turns := history
	if n := len(turns); n > 0 && turns[n-1].Role == models.RoleUser {
		turns = turns[:n-1]
	}
	if len(turns) > MaxContextTurns {
		turns = turns[len(turns)-MaxContextTurns:]
	}
	if len(turns) == 0 {
		return ""
	}

	lines := make([]string, len(turns))
	for i, turn := range turns {
		lines[i] = label(turn.Role) + ": " + turn.Content
	}
	return strings.Join(lines, "\n")
}

func label(role models.Role) string {
	if role == models.RoleUser {
		return "User"
	}
	return "Assistant"
}

// History 单个会话的消息列表，可并发访问
type History struct {
	mu    sync.RWMutex
	turns []models.ConversationTurn
}

// NewHistory 创建空历史
func NewHistory() *History {
	return &History{}
}

// Append 追加消息
func (h *History) Append(turn models.ConversationTurn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turn)
}

// Turns 返回历史副本
func (h *History) Turns() []models.ConversationTurn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.ConversationTurn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len 消息数
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Clear 清空历史
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = nil
}
