package knowledge

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func TestChunkText_Empty(t *testing.T) {
	assert.Empty(t, ChunkText("", 300, 50))
	assert.Empty(t, ChunkText("  \n\n \t ", 300, 50))
	assert.Nil(t, NewChunker(300, 50).Split(""))
}

func TestChunkText_MergesParagraphsGreedily(t *testing.T) {
	assert.Equal(t, []string{"alpha beta gamma"}, ChunkText("alpha   beta\n\ngamma", 100, 0))
	assert.Equal(t, []string{"aaa", "bbb"}, ChunkText("aaa\n\nbbb", 5, 0))
	assert.Equal(t, []string{"a b c"}, ChunkText("a \t b\n c", 100, 0))
}

func TestChunkText_OverlapChunksInterleaved(t *testing.T) {
	text := strings.Join([]string{words("a", 10), words("b", 10), words("c", 10)}, "\n\n")

	chunks := ChunkText(text, 30, 3)

	require.Len(t, chunks, 5)
	assert.Equal(t, words("a", 10), chunks[0])
	assert.Equal(t, "a7 a8 a9 b0 b1 b2", chunks[1])
	assert.Equal(t, words("b", 10), chunks[2])
	assert.Equal(t, "b7 b8 b9 c0 c1 c2", chunks[3])
	assert.Equal(t, words("c", 10), chunks[4])
	for _, i := range []int{1, 3} {
		assert.Len(t, strings.Fields(chunks[i]), 6)
	}
}

func TestChunkText_OverlapRequiresEnoughWordsOnBothSides(t *testing.T) {
	text := words("a", 10) + "\n\nshort"

	assert.Equal(t, []string{words("a", 10), "short"}, ChunkText(text, 30, 3))
}

func TestChunkText_OverlapExactlyAtThreshold(t *testing.T) {
	text := "one two three\n\nfour five six"

	chunks := ChunkText(text, 13, 3)

	require.Len(t, chunks, 3)
	assert.Equal(t, "one two three four five six", chunks[1])
}

func TestChunkText_ZeroOverlapReturnsBaseChunks(t *testing.T) {
	text := strings.Join([]string{words("a", 10), words("b", 10)}, "\n\n")

	assert.Equal(t, []string{words("a", 10), words("b", 10)}, ChunkText(text, 30, 0))
}

func TestChunkText_LongParagraphSplitsOnSentences(t *testing.T) {
	text := "One two three. Four five six! Seven eight nine?"

	assert.Equal(t,
		[]string{"One two three.", "Four five six!", "Seven eight nine?"},
		ChunkText(text, 20, 0))
}

func TestChunkText_OversizedSentenceIsOwnChunk(t *testing.T) {
	long := "This sentence is definitely longer than twenty characters."
	text := "Short one. " + long + " End."

	assert.Equal(t, []string{"Short one.", long, "End."}, ChunkText(text, 20, 0))
}

func TestChunkText_BaseChunksRespectSize(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 12; i++ {
		var sentences []string
		for j := 0; j <= i; j++ {
			sentences = append(sentences, fmt.Sprintf("Clause %d of section %d covers item %d.", j, i, i*j))
		}
		paragraphs = append(paragraphs, strings.Join(sentences, " "))
	}
	text := strings.Join(paragraphs, "\n\n")

	for _, chunk := range ChunkText(text, 120, 0) {
		if utf8.RuneCountInString(chunk) > 120 {
			assert.Len(t, splitSentences(chunk), 1, "oversized chunk must be a single sentence: %q", chunk)
		}
	}
}

func TestChunkText_Deterministic(t *testing.T) {
	text := strings.Repeat("Water damage from burst pipes is covered. Flood is excluded.\n\n", 20)

	assert.Equal(t, ChunkText(text, 80, 5), ChunkText(text, 80, 5))
}

func TestChunker_SplitAssignsOrdinals(t *testing.T) {
	text := strings.Join([]string{words("a", 10), words("b", 10), words("c", 10)}, "\n\n")

	chunks := NewChunker(30, 3).Split(text)

	require.Len(t, chunks, 5)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
	}
}
