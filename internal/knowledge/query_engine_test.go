package knowledge

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubIndex struct {
	FlatIndex
	hits []Neighbor
	err  error
}

func (s *stubIndex) Len() int { return 10 }

func (s *stubIndex) Search(query []float32, k int) ([]Neighbor, error) {
	return s.hits, s.err
}

type failingEmbedder struct{ countingEmbedder }

func (f *failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func TestConfidenceFromDistance(t *testing.T) {
	assert.Equal(t, 1.0, ConfidenceFromDistance(0))
	assert.InDelta(t, 0.5, ConfidenceFromDistance(1), 1e-9)
	assert.Equal(t, 0.0, ConfidenceFromDistance(2))
	assert.Equal(t, 0.0, ConfidenceFromDistance(3.5))
	assert.Equal(t, 1.0, ConfidenceFromDistance(-0.1))

	prev := ConfidenceFromDistance(0)
	for d := float32(0.05); d < 4; d += 0.05 {
		c := ConfidenceFromDistance(d)
		assert.LessOrEqual(t, c, prev)
		assert.GreaterOrEqual(t, c, 0.0)
		prev = c
	}
}

func TestValidQuery(t *testing.T) {
	assert.False(t, ValidQuery(""))
	assert.False(t, ValidQuery("ok"))
	assert.False(t, ValidQuery(" a  b "))
	assert.True(t, ValidQuery("abc"))
	assert.True(t, ValidQuery(" a b c "))
}

func TestQuery_ShortQueryDoesNotEmbed(t *testing.T) {
	e := &countingEmbedder{dims: 16}
	idx, chunks := buildFlat(t, "alpha")

	result, err := NewQueryEngine(e, nil).Query(context.Background(), "ok", idx, chunks, 5)

	assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidQuery))
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.Context)
	assert.Empty(t, e.calls)
}

func TestQuery_RanksContextAndSources(t *testing.T) {
	idx, chunks := buildFlatDim(t, DefaultHashDimensions,
		"Premiums are billed monthly by direct debit.",
		"Your policy covers water damage from burst pipes.",
		"Theft of bicycles is excluded unless locked.",
		"Claims must be filed within thirty days.",
		"Fire damage to outbuildings is covered up to the limit.",
	)
	engine := NewQueryEngine(NewHashEmbedder(DefaultHashDimensions), nil)

	result, err := engine.Query(context.Background(), "Does my policy cover water damage?", idx, chunks, 5)

	require.NoError(t, err)
	require.Len(t, result.Sources, MaxSources)
	require.Len(t, result.Neighbors, 5)
	assert.Equal(t, 1, result.Sources[0].Ordinal)
	assert.InDelta(t, ConfidenceFromDistance(result.Neighbors[0].Distance), result.Confidence, 1e-9)
	for i := 1; i < len(result.Neighbors); i++ {
		assert.LessOrEqual(t, result.Neighbors[i-1].Distance, result.Neighbors[i].Distance)
	}
	assert.Contains(t, result.Context, "water damage")
}

func TestQuery_DropsOutOfRangeOrdinals(t *testing.T) {
	chunks := []Chunk{{Ordinal: 0, Text: "zero"}, {Ordinal: 1, Text: "one"}}
	idx := &stubIndex{FlatIndex: FlatIndex{dim: 16}, hits: []Neighbor{
		{Ordinal: -1, Distance: 0.1},
		{Ordinal: 1, Distance: 0.4},
		{Ordinal: 7, Distance: 0.5},
		{Ordinal: 0, Distance: 0.9},
	}}

	result, err := NewQueryEngine(NewHashEmbedder(16), nil).Query(context.Background(), "anything", idx, chunks, 5)

	require.NoError(t, err)
	assert.Equal(t, "one\nzero", result.Context)
	assert.InDelta(t, 0.8, result.Confidence, 1e-6)
	assert.Equal(t, []Chunk{chunks[1], chunks[0]}, result.Sources)
}

func TestQuery_NoValidMatchesIsZeroConfidence(t *testing.T) {
	idx := &stubIndex{FlatIndex: FlatIndex{dim: 16}, hits: []Neighbor{{Ordinal: 99, Distance: 0}}}

	result, err := NewQueryEngine(NewHashEmbedder(16), nil).Query(context.Background(), "anything", idx, []Chunk{{Text: "x"}}, 5)

	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, result.Context)
	assert.Empty(t, result.Sources)
}

func TestQuery_EmptyKnowledgeBase(t *testing.T) {
	e := &countingEmbedder{dims: 16}

	result, err := NewQueryEngine(e, nil).Query(context.Background(), "water damage", NewFlatIndex(16), nil, 5)

	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Empty(t, e.calls)
}

func TestQuery_Failures(t *testing.T) {
	idx, chunks := buildFlat(t, "alpha beta")

	_, err := NewQueryEngine(&failingEmbedder{}, nil).Query(context.Background(), "alpha", idx, chunks, 5)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRetrievalFailure))

	broken := &stubIndex{FlatIndex: FlatIndex{dim: 16}, err: errors.New("index unavailable")}
	_, err = NewQueryEngine(NewHashEmbedder(16), nil).Query(context.Background(), "alpha", broken, chunks, 5)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeRetrievalFailure))

	untrained := &stubIndex{FlatIndex: FlatIndex{dim: 16}, err: ErrIndexNotTrained}
	_, err = NewQueryEngine(NewHashEmbedder(16), nil).Query(context.Background(), "alpha", untrained, chunks, 5)
	assert.ErrorIs(t, err, ErrIndexNotTrained)
}

func TestQuery_OverlapChunksAreNotDeduplicated(t *testing.T) {
	text := "water damage from burst pipes is covered in full\n\nwater damage from flooding is excluded entirely"
	texts := ChunkText(text, 50, 3)
	require.Len(t, texts, 3)
	idx, chunks := buildFlat(t, texts...)

	result, err := NewQueryEngine(NewHashEmbedder(16), nil).Query(context.Background(), "water damage", idx, chunks, 5)

	require.NoError(t, err)
	assert.Len(t, result.Neighbors, 3)
	assert.Len(t, result.Sources, 3)
}
