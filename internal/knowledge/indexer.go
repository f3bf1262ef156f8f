package knowledge

import (
	"context"
	"fmt"

	apperrors "github.com/aihub/policy-assistant/internal/errors"
	"go.uber.org/zap"
)

// IndexerOptions 索引选择策略参数
type IndexerOptions struct {
	FlatThreshold   int
	MaxClusters     int
	TrainIterations int
	NProbe          int
}

// DefaultIndexerOptions 默认策略：少于1000块用精确索引，否则min(100, n/10)个聚类
func DefaultIndexerOptions() IndexerOptions {
	return IndexerOptions{
		FlatThreshold:   1000,
		MaxClusters:     100,
		TrainIterations: 20,
		NProbe:          1,
	}
}

// Indexer 根据语料规模选择并构建索引
type Indexer struct {
	opts   IndexerOptions
	logger *zap.Logger
}

// NewIndexer 创建索引构建器
func NewIndexer(opts IndexerOptions, logger *zap.Logger) *Indexer {
	defaults := DefaultIndexerOptions()
	if opts.FlatThreshold <= 0 {
		opts.FlatThreshold = defaults.FlatThreshold
	}
	if opts.MaxClusters <= 0 {
		opts.MaxClusters = defaults.MaxClusters
	}
	if opts.TrainIterations <= 0 {
		opts.TrainIterations = defaults.TrainIterations
	}
	if opts.NProbe <= 0 {
		opts.NProbe = defaults.NProbe
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{opts: opts, logger: logger}
}

// Plan 返回n个向量应使用的索引类型和聚类数
func (ix *Indexer) Plan(n int) (IndexKind, int, error) {
	if n < ix.opts.FlatThreshold {
		return IndexKindFlat, 0, nil
	}
	nlist := n / 10
	if nlist > ix.opts.MaxClusters {
		nlist = ix.opts.MaxClusters
	}
	if nlist < 1 {
		return "", 0, apperrors.IndexBuildInvalid(fmt.Sprintf("cluster count %d for %d vectors", nlist, n))
	}
	return IndexKindIVF, nlist, nil
}

// Build 用全部向量训练（如需要）并添加，向量ID与chunk序号一致
func (ix *Indexer) Build(ctx context.Context, chunks []Chunk, embeddings [][]float32) (SimilarityIndex, error) {
	if len(chunks) != len(embeddings) {
		return nil, apperrors.IndexBuildInvalid(fmt.Sprintf("%d chunks but %d embeddings", len(chunks), len(embeddings)))
	}
	if len(embeddings) == 0 {
		return nil, apperrors.IndexBuildInvalid("no chunks to index")
	}
	for i, c := range chunks {
		if c.Ordinal != i {
			return nil, apperrors.IndexBuildInvalid(fmt.Sprintf("chunk at position %d has ordinal %d", i, c.Ordinal))
		}
	}
	dim := len(embeddings[0])
	if dim == 0 {
		return nil, apperrors.IndexBuildInvalid("empty embedding vectors")
	}
	if err := checkDimensions(dim, embeddings); err != nil {
		return nil, apperrors.IndexBuildInvalid(err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind, nlist, err := ix.Plan(len(embeddings))
	if err != nil {
		return nil, err
	}

	var index SimilarityIndex
	switch kind {
	case IndexKindIVF:
		ivf, err := NewIVFIndex(dim, nlist, IVFOptions{Iterations: ix.opts.TrainIterations, NProbe: ix.opts.NProbe})
		if err != nil {
			return nil, apperrors.IndexBuildInvalid(err.Error())
		}
		index = ivf
	default:
		index = NewFlatIndex(dim)
	}

	if err := index.Train(embeddings); err != nil {
		return nil, apperrors.IndexBuildInvalid(err.Error()).WithCause(err)
	}
	if err := index.Add(embeddings); err != nil {
		return nil, apperrors.IndexBuildInvalid(err.Error()).WithCause(err)
	}

	ix.logger.Info("similarity index built",
		zap.String("kind", string(kind)),
		zap.Int("vectors", index.Len()),
		zap.Int("dimension", dim),
		zap.Int("nlist", nlist))

	return index, nil
}
