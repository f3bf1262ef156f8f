package knowledge

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"go.uber.org/zap"
)

const (
	// DefaultTopK 默认检索条数
	DefaultTopK = 5
	// MaxSources 返回给调用方的来源条数
	MaxSources = 3
	// MinQueryChars 有效问题的最少非空白字符数
	MinQueryChars = 3

	distanceScale = 2.0
)

// QueryResult 检索结果，Sources 按距离升序
type QueryResult struct {
	Confidence float64
	Context    string
	Sources    []Chunk
	Neighbors  []Neighbor
}

// QueryEngine 问题向量化、近邻检索与置信度换算
type QueryEngine struct {
	embedder Embedder
	logger   *zap.Logger
}

// NewQueryEngine 创建检索引擎
func NewQueryEngine(embedder Embedder, logger *zap.Logger) *QueryEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryEngine{embedder: embedder, logger: logger}
}

// ValidQuery 问题至少包含3个非空白字符
func ValidQuery(text string) bool {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
			if n >= MinQueryChars {
				return true
			}
		}
	}
	return false
}

// ConfidenceFromDistance 将平方L2距离换算为[0,1]置信度，距离越小置信度越高
func ConfidenceFromDistance(distance float32) float64 {
	c := 1 - float64(distance)/distanceScale
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Query 检索与问题最相近的chunk。问题过短时返回零结果和InvalidQuery，
// 不调用Embedder；向量化或检索失败返回RetrievalFailure
func (q *QueryEngine) Query(ctx context.Context, text string, index SimilarityIndex, chunks []Chunk, k int) (QueryResult, error) {
	if !ValidQuery(text) {
		return QueryResult{}, apperrors.InvalidQuery()
	}
	if k <= 0 {
		k = DefaultTopK
	}
	if index == nil || index.Len() == 0 || len(chunks) == 0 {
		q.logger.Debug("query against empty knowledge base")
		return QueryResult{}, nil
	}

	vectors, err := q.embedder.Embed(ctx, []string{text})
	if err != nil {
		return QueryResult{}, apperrors.RetrievalFailure(fmt.Errorf("embed query: %w", err))
	}
	if len(vectors) != 1 {
		return QueryResult{}, apperrors.RetrievalFailure(fmt.Errorf("embed query: got %d vectors", len(vectors)))
	}

	neighbors, err := index.Search(vectors[0], k)
	if err != nil {
		return QueryResult{}, apperrors.RetrievalFailure(fmt.Errorf("search index: %w", err))
	}

	// 丢弃越界ID
	valid := neighbors[:0]
	for _, n := range neighbors {
		if n.Ordinal >= 0 && n.Ordinal < len(chunks) {
			valid = append(valid, n)
		}
	}
	if len(valid) == 0 {
		return QueryResult{}, nil
	}

	texts := make([]string, len(valid))
	sources := make([]Chunk, 0, MaxSources)
	for i, n := range valid {
		texts[i] = chunks[n.Ordinal].Text
		if len(sources) < MaxSources {
			sources = append(sources, chunks[n.Ordinal])
		}
	}

	result := QueryResult{
		Confidence: ConfidenceFromDistance(valid[0].Distance),
		Context:    strings.Join(texts, "\n"),
		Sources:    sources,
		Neighbors:  valid,
	}

	q.logger.Debug("query answered",
		zap.Int("hits", len(valid)),
		zap.Float32("best_distance", valid[0].Distance),
		zap.Float64("confidence", result.Confidence))

	return result, nil
}
