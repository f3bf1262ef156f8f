package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"strings"
	"testing"

	"github.com/aihub/policy-assistant/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSession struct {
	mock.Mock
}

func (m *mockSession) Ask(ctx context.Context, question string) (models.Answer, error) {
	args := m.Called(ctx, question)
	return args.Get(0).(models.Answer), args.Error(1)
}

func (m *mockSession) ClearHistory() {
	m.Called()
}

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags(newFlagSet(io.Discard), []string{"-docs", "data/policies", "-sources=false"})
	require.NoError(t, err)
	assert.Equal(t, "data/policies", opts.docs)
	assert.False(t, opts.showSources)
	assert.Empty(t, opts.indexPath)

	_, err = parseFlags(newFlagSet(io.Discard), []string{"-docs", "   "})
	assert.Error(t, err)

	_, err = parseFlags(newFlagSet(io.Discard), []string{"stray"})
	assert.Error(t, err)

	_, err = parseFlags(newFlagSet(io.Discard), []string{"-unknown"})
	assert.Error(t, err)
}

func TestFlagExitCode(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags(newFlagSet(io.Discard), []string{"-docs", "   "})
	require.Error(t, err)
	assert.Equal(t, 2, flagExitCode(&stderr, err))
	assert.Equal(t, "Error: -docs must not be blank\n", stderr.String())

	stderr.Reset()
	_, err = parseFlags(newFlagSet(io.Discard), []string{"-h"})
	require.ErrorIs(t, err, flag.ErrHelp)
	assert.Equal(t, 0, flagExitCode(&stderr, err))
	assert.Empty(t, stderr.String())
}

func TestREPL_AsksAndPrints(t *testing.T) {
	session := &mockSession{}
	session.On("Ask", mock.Anything, "Is water damage covered?").Return(models.Answer{
		Text:       "Yes, burst pipes are covered.",
		Confidence: 0.82,
		Sources:    []models.Source{{Ordinal: 2, Text: "This policy covers water damage from burst pipes."}},
	}, nil)

	var out bytes.Buffer
	err := repl(context.Background(), strings.NewReader("Is water damage covered?\n/quit\n"), &out, session, true)

	require.NoError(t, err)
	session.AssertExpectations(t)
	assert.Contains(t, out.String(), "Assistant: Yes, burst pipes are covered.")
	assert.Contains(t, out.String(), "[High confidence response (0.82)]")
	assert.Contains(t, out.String(), "1. This policy covers water damage from burst pipes.")
}

func TestREPL_Commands(t *testing.T) {
	session := &mockSession{}
	session.On("ClearHistory").Once()

	var out bytes.Buffer
	err := repl(context.Background(), strings.NewReader("\n/clear\n/quit\nnever asked\n"), &out, session, true)

	require.NoError(t, err)
	session.AssertExpectations(t)
	session.AssertNotCalled(t, "Ask", mock.Anything, mock.Anything)
	assert.Contains(t, out.String(), "Conversation cleared.")
}

func TestREPL_ErrorKeepsGoing(t *testing.T) {
	session := &mockSession{}
	session.On("Ask", mock.Anything, "first question").Return(models.Answer{}, errors.New("knowledge base is not ready")).Once()
	session.On("Ask", mock.Anything, "second question").Return(models.Answer{Text: "ok", Confidence: 0.4}, nil).Once()

	var out bytes.Buffer
	err := repl(context.Background(), strings.NewReader("first question\nsecond question\n"), &out, session, false)

	require.NoError(t, err)
	session.AssertExpectations(t)
	assert.Contains(t, out.String(), "Error: knowledge base is not ready")
	assert.Contains(t, out.String(), "[Low confidence response (0.40)]")
	assert.NotContains(t, out.String(), "Sources:")
}
