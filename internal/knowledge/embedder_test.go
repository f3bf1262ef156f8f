package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func TestHashEmbedder_UnitVectorsAndDeterminism(t *testing.T) {
	e := NewHashEmbedder(0)
	require.Equal(t, DefaultHashDimensions, e.Dimensions())

	first, err := e.Embed(context.Background(), []string{"Water damage is covered", "?"})
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), []string{"Water damage is covered", "?"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first[0], DefaultHashDimensions)
	assert.InDelta(t, 1.0, norm(first[0]), 1e-5)
	assert.InDelta(t, 1.0, norm(first[1]), 1e-5)
}

func TestHashEmbedder_RelatedTextsAreCloser(t *testing.T) {
	e := NewHashEmbedder(DefaultHashDimensions)
	vecs, err := e.Embed(context.Background(), []string{
		"Does my policy cover water damage?",
		"Your policy covers water damage from burst pipes.",
		"Premiums are billed monthly by direct debit.",
	})
	require.NoError(t, err)

	near := squaredL2(vecs[0], vecs[1])
	far := squaredL2(vecs[0], vecs[2])
	assert.Less(t, near, far)
	assert.Less(t, near, float32(1.0))
}

type countingEmbedder struct {
	mu     sync.Mutex
	calls  [][]string
	dims   int
	failAt int
	short  bool
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append([]string(nil), texts...))
	if c.failAt > 0 && len(c.calls) == c.failAt {
		return nil, errors.New("backend unavailable")
	}
	n := len(texts)
	if c.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, c.dims)
		out[i][0] = 1
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return c.dims }
func (c *countingEmbedder) Model() string   { return "counting" }
func (c *countingEmbedder) Ready() bool     { return true }

func TestEmbedAll_Batches(t *testing.T) {
	texts := make([]string, 70)
	for i := range texts {
		texts[i] = "text"
	}
	e := &countingEmbedder{dims: 4}
	var progress []int

	vectors, err := EmbedAll(context.Background(), e, texts, 32, func(done, total int) {
		assert.Equal(t, 70, total)
		progress = append(progress, done)
	})

	require.NoError(t, err)
	assert.Len(t, vectors, 70)
	require.Len(t, e.calls, 3)
	assert.Len(t, e.calls[0], 32)
	assert.Len(t, e.calls[2], 6)
	assert.Equal(t, []int{32, 64, 70}, progress)
}

func TestEmbedAll_Failures(t *testing.T) {
	texts := []string{"a", "b", "c"}

	_, err := EmbedAll(context.Background(), &countingEmbedder{dims: 2, failAt: 1}, texts, 2, nil)
	assert.ErrorContains(t, err, "backend unavailable")

	_, err = EmbedAll(context.Background(), &countingEmbedder{dims: 2, short: true}, texts, 2, nil)
	assert.ErrorContains(t, err, "got 1 vectors")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EmbedAll(ctx, &countingEmbedder{dims: 2}, texts, 2, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type memoryCache struct {
	data   map[string][]float32
	getErr error
}

func (m *memoryCache) Get(ctx context.Context, key string) ([]float32, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryCache) Set(ctx context.Context, key string, vector []float32) error {
	m.data[key] = vector
	return nil
}

func TestCachedEmbedder_OnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{dims: 3}
	cache := &memoryCache{data: map[string][]float32{}}
	e := NewCachedEmbedder(inner, cache, nil)

	_, err := e.Embed(context.Background(), []string{"flood"})
	require.NoError(t, err)
	vecs, err := e.Embed(context.Background(), []string{"flood", "fire"})
	require.NoError(t, err)

	require.Len(t, vecs, 2)
	require.Len(t, inner.calls, 2)
	assert.Equal(t, []string{"fire"}, inner.calls[1])
	assert.Len(t, cache.data, 2)
	assert.Equal(t, 3, e.Dimensions())
}

func TestCachedEmbedder_CacheErrorsFallThrough(t *testing.T) {
	inner := &countingEmbedder{dims: 3}
	e := NewCachedEmbedder(inner, &memoryCache{data: map[string][]float32{}, getErr: errors.New("redis down")}, nil)

	vecs, err := e.Embed(context.Background(), []string{"theft"})

	require.NoError(t, err)
	assert.Len(t, vecs, 1)
	assert.Len(t, inner.calls, 1)
}

func TestOpenAIEmbedder_WithoutKeyIsNoop(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIEmbedderOptions{})
	assert.False(t, e.Ready())
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.Error(t, err)
}

func TestOpenAIEmbedder_OrdersAndNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.EqualValues(t, 2, req["dimensions"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,2]},
			{"object":"embedding","index":0,"embedding":[3,4]}
		]}`))
	}))
	defer server.Close()

	e := NewOpenAIEmbedder(OpenAIEmbedderOptions{APIKey: "sk-test", BaseURL: server.URL + "/v1", Dimensions: 2})
	vecs, err := e.Embed(context.Background(), []string{"first", "second"})

	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vecs[0], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1}, vecs[1], 1e-6)
}
