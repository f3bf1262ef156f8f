package knowledge

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sort"
)

// IndexKind 索引类型
type IndexKind string

const (
	IndexKindFlat IndexKind = "flat"
	IndexKindIVF  IndexKind = "ivf"
)

// ErrIndexNotTrained 聚类索引在训练前被写入或查询
var ErrIndexNotTrained = errors.New("clustered index is not trained")

// Neighbor 检索命中，Distance 为平方L2距离
type Neighbor struct {
	Ordinal  int
	Distance float32
}

// SimilarityIndex 向量相似度索引，向量ID即添加顺序
type SimilarityIndex interface {
	Kind() IndexKind
	Dimension() int
	Len() int
	Trained() bool
	Train(vectors [][]float32) error
	Add(vectors [][]float32) error
	Search(query []float32, k int) ([]Neighbor, error)
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func checkDimensions(dim int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}

// sortNeighbors 按距离升序，距离相同按序号
func sortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].Distance == neighbors[j].Distance {
			return neighbors[i].Ordinal < neighbors[j].Ordinal
		}
		return neighbors[i].Distance < neighbors[j].Distance
	})
}

func topK(neighbors []Neighbor, k int) []Neighbor {
	sortNeighbors(neighbors)
	if len(neighbors) > k {
		neighbors = neighbors[:k]
	}
	return neighbors
}

// indexSnapshot 索引的持久化形态
type indexSnapshot struct {
	Kind      IndexKind
	Dim       int
	Vectors   [][]float32
	Centroids [][]float32
	Lists     [][]int
	NProbe    int
	Trained   bool
}

// EncodeIndex 以gob编码索引
func EncodeIndex(w io.Writer, index SimilarityIndex) error {
	var snap indexSnapshot
	switch idx := index.(type) {
	case *FlatIndex:
		snap = indexSnapshot{Kind: IndexKindFlat, Dim: idx.dim, Vectors: idx.vectors, Trained: true}
	case *IVFIndex:
		snap = indexSnapshot{
			Kind:      IndexKindIVF,
			Dim:       idx.dim,
			Vectors:   idx.vectors,
			Centroids: idx.centroids,
			Lists:     idx.lists,
			NProbe:    idx.nprobe,
			Trained:   idx.trained,
		}
	default:
		return fmt.Errorf("unsupported index type %T", index)
	}
	return gob.NewEncoder(w).Encode(&snap)
}

// DecodeIndex 解码并校验gob索引
func DecodeIndex(r io.Reader) (SimilarityIndex, error) {
	var snap indexSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	if snap.Dim <= 0 {
		return nil, fmt.Errorf("decode index: invalid dimension %d", snap.Dim)
	}
	if err := checkDimensions(snap.Dim, snap.Vectors); err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}

	switch snap.Kind {
	case IndexKindFlat:
		return &FlatIndex{dim: snap.Dim, vectors: snap.Vectors}, nil
	case IndexKindIVF:
		if !snap.Trained || len(snap.Centroids) == 0 {
			return nil, errors.New("decode index: clustered index is not trained")
		}
		if err := checkDimensions(snap.Dim, snap.Centroids); err != nil {
			return nil, fmt.Errorf("decode index: centroids: %w", err)
		}
		if len(snap.Lists) != len(snap.Centroids) {
			return nil, fmt.Errorf("decode index: %d lists for %d centroids", len(snap.Lists), len(snap.Centroids))
		}
		seen := 0
		for _, list := range snap.Lists {
			for _, id := range list {
				if id < 0 || id >= len(snap.Vectors) {
					return nil, fmt.Errorf("decode index: list entry %d out of range", id)
				}
			}
			seen += len(list)
		}
		if seen != len(snap.Vectors) {
			return nil, fmt.Errorf("decode index: lists hold %d of %d vectors", seen, len(snap.Vectors))
		}
		return &IVFIndex{
			dim:       snap.Dim,
			nlist:     len(snap.Centroids),
			nprobe:    snap.NProbe,
			centroids: snap.Centroids,
			lists:     snap.Lists,
			vectors:   snap.Vectors,
			trained:   true,
		}, nil
	default:
		return nil, fmt.Errorf("decode index: unknown kind %q", snap.Kind)
	}
}
