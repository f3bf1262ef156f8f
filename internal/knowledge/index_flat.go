package knowledge

import "fmt"

// FlatIndex 精确暴力检索索引
type FlatIndex struct {
	dim     int
	vectors [][]float32
}

// NewFlatIndex 创建空的精确索引
func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

func (f *FlatIndex) Kind() IndexKind { return IndexKindFlat }
func (f *FlatIndex) Dimension() int  { return f.dim }
func (f *FlatIndex) Len() int        { return len(f.vectors) }
func (f *FlatIndex) Trained() bool   { return true }

// Train 精确索引无需训练
func (f *FlatIndex) Train(vectors [][]float32) error {
	return checkDimensions(f.dim, vectors)
}

func (f *FlatIndex) Add(vectors [][]float32) error {
	if err := checkDimensions(f.dim, vectors); err != nil {
		return err
	}
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dim {
		return nil, fmt.Errorf("query has dimension %d, want %d", len(query), f.dim)
	}
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	neighbors := make([]Neighbor, len(f.vectors))
	for i, v := range f.vectors {
		neighbors[i] = Neighbor{Ordinal: i, Distance: squaredL2(query, v)}
	}
	return topK(neighbors, k), nil
}
