package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"github.com/aihub/policy-assistant/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func readyKnowledgeBase(t *testing.T) *KnowledgeBaseService {
	t.Helper()
	svc := newTestKnowledgeBase(t, writeDoc(t, t.TempDir(), "policy.txt", policyText), t.TempDir())
	_, err := svc.BuildOrLoadKnowledgeBase(context.Background(), "")
	require.NoError(t, err)
	return svc
}

func TestChatSession_NotReady(t *testing.T) {
	kb := newTestKnowledgeBase(t, "unused.pdf", t.TempDir())
	session := NewChatSession("s1", kb, newTestOrchestrator(&mockGenerator{}, time.Second, nil), nil)

	_, err := session.Ask(context.Background(), "Is water damage covered?")

	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotReady))
	assert.Empty(t, session.History())
}

func TestChatSession_RecordsTurnsAndFeedsHistory(t *testing.T) {
	gen := &mockGenerator{}
	var prompts []string
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { prompts = append(prompts, args.String(1)) }).
		Return("Burst pipes are covered.", nil)
	session := NewChatSession("s1", readyKnowledgeBase(t), newTestOrchestrator(gen, time.Second, nil), nil)

	first, err := session.Ask(context.Background(), "does my policy cover water damage?")
	require.NoError(t, err)
	_, err = session.Ask(context.Background(), "What about theft of property?")
	require.NoError(t, err)

	history := session.History()
	require.Len(t, history, 4)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, first.Text, history[1].Content)
	require.NotNil(t, history[1].Confidence)
	assert.Equal(t, first.Confidence, *history[1].Confidence)

	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "Previous conversation:\n\n")
	assert.Contains(t, prompts[1], "User: does my policy cover water damage?\nAssistant: "+first.Text)
	assert.NotContains(t, prompts[1], "User: What about theft")
}

func TestChatSession_FailureBecomesApology(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("upstream down"))
	session := NewChatSession("s1", readyKnowledgeBase(t), newTestOrchestrator(gen, time.Second, nil), nil)

	answer, err := session.Ask(context.Background(), "Is water damage covered?")

	require.NoError(t, err)
	assert.Equal(t, ApologyMessage, answer.Text)
	assert.Zero(t, answer.Confidence)
	assert.Empty(t, answer.Sources)

	history := session.History()
	require.Len(t, history, 2)
	assert.Equal(t, ApologyMessage, history[1].Content)
	assert.Zero(t, *history[1].Confidence)
}

func TestChatSession_ShortQuestion(t *testing.T) {
	gen := &mockGenerator{}
	session := NewChatSession("s1", readyKnowledgeBase(t), newTestOrchestrator(gen, time.Second, nil), nil)

	answer, err := session.Ask(context.Background(), "ok")

	require.NoError(t, err)
	assert.Equal(t, DetailedQuestionMessage, answer.Text)
	assert.Len(t, session.History(), 2)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestChatSession_ClearHistory(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("Yes.", nil)
	session := NewChatSession("s1", readyKnowledgeBase(t), newTestOrchestrator(gen, time.Second, nil), nil)
	_, err := session.Ask(context.Background(), "Is water damage covered?")
	require.NoError(t, err)

	session.ClearHistory()

	assert.Empty(t, session.History())
}

func TestSessionManager(t *testing.T) {
	kb := readyKnowledgeBase(t)
	m := NewSessionManager(kb, newTestOrchestrator(&mockGenerator{}, time.Second, nil), time.Minute, nil)

	created := m.GetOrCreate("")
	_, err := uuid.Parse(created.ID)
	require.NoError(t, err)
	assert.Same(t, created, m.GetOrCreate(created.ID))

	known := uuid.NewString()
	assert.Equal(t, known, m.GetOrCreate(known).ID)

	replaced := m.GetOrCreate("not-a-uuid")
	assert.False(t, strings.EqualFold(replaced.ID, "not-a-uuid"))
	assert.Equal(t, 3, m.Count())

	assert.NoError(t, m.ClearHistory(created.ID))
	assert.True(t, apperrors.Is(m.ClearHistory(uuid.NewString()), apperrors.ErrCodeNotFound))
}

func TestSessionManager_Prune(t *testing.T) {
	m := NewSessionManager(readyKnowledgeBase(t), nil, time.Minute, nil)
	stale := m.GetOrCreate("")
	fresh := m.GetOrCreate("")
	stale.touch(time.Now().Add(-2 * time.Minute))

	removed := m.Prune(time.Now())

	assert.Equal(t, 1, removed)
	_, ok := m.Get(stale.ID)
	assert.False(t, ok)
	_, ok = m.Get(fresh.ID)
	assert.True(t, ok)

	assert.Zero(t, NewSessionManager(nil, nil, 0, nil).Prune(time.Now()))
}

func TestSessionManager_BusySessionDoesNotBlockOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("Burst pipes are covered.", nil).Once()
	m := NewSessionManager(readyKnowledgeBase(t), newTestOrchestrator(gen, 5*time.Second, nil), time.Minute, nil)

	busy := m.GetOrCreate("")
	asked := make(chan struct{})
	go func() {
		defer close(asked)
		_, _ = busy.Ask(context.Background(), "Is water damage covered?")
	}()
	<-started
	defer func() {
		close(release)
		<-asked
	}()

	pruned := make(chan int, 1)
	go func() { pruned <- m.Prune(time.Now()) }()

	select {
	case n := <-pruned:
		assert.Zero(t, n)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Prune waited for an in-flight question")
	}

	created := make(chan *ChatSession, 1)
	go func() { created <- m.GetOrCreate("") }()
	select {
	case s := <-created:
		assert.NotEqual(t, busy.ID, s.ID)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("GetOrCreate blocked behind a busy session")
	}
}
