package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aihub/policy-assistant/internal/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.txt")
	require.NoError(t, os.WriteFile(path, []byte(
		"Fire damage to the dwelling is covered up to the policy limit.\n\nThis policy covers water damage from burst pipes."), 0o644))

	loader := knowledge.NewDocumentLoader(knowledge.NewFileParserManager(), zap.NewNop())
	var out bytes.Buffer
	err := inspect(context.Background(), &out, loader, knowledge.NewChunker(80, 0), path, true)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "文档数: 1")
	assert.Contains(t, out.String(), "分块数量: 2")
	assert.Contains(t, out.String(), "This policy covers water damage from burst pipes.")
	assert.NotContains(t, out.String(), "未在句末断开")
}

func TestInspect_MissingDocument(t *testing.T) {
	loader := knowledge.NewDocumentLoader(knowledge.NewFileParserManager(), zap.NewNop())

	err := inspect(context.Background(), &bytes.Buffer{}, loader, knowledge.NewChunker(80, 0),
		filepath.Join(t.TempDir(), "missing.pdf"), false)

	assert.Error(t, err)
}

func TestEndsSentence(t *testing.T) {
	assert.True(t, endsSentence("Covered up to the limit. "))
	assert.True(t, endsSentence("保险责任。"))
	assert.False(t, endsSentence("covered up to the"))
}
