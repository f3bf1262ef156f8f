package knowledge

import (
	"fmt"
	"math"
)

// IVFOptions 聚类索引参数
type IVFOptions struct {
	Iterations int
	NProbe     int
}

// IVFIndex 倒排聚类索引：k-means粗量化器加倒排列表，
// 必须先Train再Add/Search
type IVFIndex struct {
	dim        int
	nlist      int
	nprobe     int
	iterations int
	centroids  [][]float32
	lists      [][]int
	vectors    [][]float32
	trained    bool
}

// NewIVFIndex 创建未训练的聚类索引
func NewIVFIndex(dim, nlist int, opts IVFOptions) (*IVFIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dimension %d", dim)
	}
	if nlist < 1 {
		return nil, fmt.Errorf("invalid cluster count %d", nlist)
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 20
	}
	if opts.NProbe <= 0 {
		opts.NProbe = 1
	}
	return &IVFIndex{
		dim:        dim,
		nlist:      nlist,
		nprobe:     opts.NProbe,
		iterations: opts.Iterations,
	}, nil
}

func (x *IVFIndex) Kind() IndexKind { return IndexKindIVF }
func (x *IVFIndex) Dimension() int  { return x.dim }
func (x *IVFIndex) Len() int        { return len(x.vectors) }
func (x *IVFIndex) Trained() bool   { return x.trained }

// NList 聚类数
func (x *IVFIndex) NList() int { return x.nlist }

// Train 在训练集上运行k-means得到聚类中心
func (x *IVFIndex) Train(vectors [][]float32) error {
	if err := checkDimensions(x.dim, vectors); err != nil {
		return err
	}
	if len(vectors) < x.nlist {
		return fmt.Errorf("need at least %d training vectors, got %d", x.nlist, len(vectors))
	}

	// 等距取初始中心，保证结果可复现
	centroids := make([][]float32, x.nlist)
	for j := range centroids {
		src := vectors[j*len(vectors)/x.nlist]
		centroids[j] = append([]float32(nil), src...)
	}

	assign := make([]int, len(vectors))
	for i := range assign {
		assign[i] = -1
	}
	sums := make([][]float64, x.nlist)
	for j := range sums {
		sums[j] = make([]float64, x.dim)
	}
	counts := make([]int, x.nlist)

	for iter := 0; iter < x.iterations; iter++ {
		changed := false
		for i, v := range vectors {
			c := nearestCentroid(centroids, v)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		for j := range sums {
			for d := range sums[j] {
				sums[j][d] = 0
			}
			counts[j] = 0
		}
		for i, v := range vectors {
			c := assign[i]
			counts[c]++
			for d, val := range v {
				sums[c][d] += float64(val)
			}
		}
		for j := range centroids {
			// 空簇保留原中心
			if counts[j] == 0 {
				continue
			}
			for d := range centroids[j] {
				centroids[j][d] = float32(sums[j][d] / float64(counts[j]))
			}
		}
	}

	x.centroids = centroids
	x.lists = make([][]int, x.nlist)
	x.vectors = nil
	x.trained = true
	return nil
}

func (x *IVFIndex) Add(vectors [][]float32) error {
	if !x.trained {
		return ErrIndexNotTrained
	}
	if err := checkDimensions(x.dim, vectors); err != nil {
		return err
	}
	for _, v := range vectors {
		id := len(x.vectors)
		x.vectors = append(x.vectors, v)
		c := nearestCentroid(x.centroids, v)
		x.lists[c] = append(x.lists[c], id)
	}
	return nil
}

func (x *IVFIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if !x.trained {
		return nil, ErrIndexNotTrained
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("query has dimension %d, want %d", len(query), x.dim)
	}
	if k <= 0 || len(x.vectors) == 0 {
		return nil, nil
	}

	probes := make([]Neighbor, len(x.centroids))
	for j, c := range x.centroids {
		probes[j] = Neighbor{Ordinal: j, Distance: squaredL2(query, c)}
	}
	probes = topK(probes, x.nprobe)

	var candidates []Neighbor
	for _, p := range probes {
		for _, id := range x.lists[p.Ordinal] {
			candidates = append(candidates, Neighbor{Ordinal: id, Distance: squaredL2(query, x.vectors[id])})
		}
	}
	return topK(candidates, k), nil
}

func nearestCentroid(centroids [][]float32, v []float32) int {
	best := 0
	bestDist := float32(math.MaxFloat32)
	for j, c := range centroids {
		if d := squaredL2(v, c); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}
