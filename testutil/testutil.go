// Package testutil provides deterministic vector generation and exact-search
// ground truth for tests.
package testutil

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"github.com/hupe1980/annserve/metric"
)

// Neighbor is one exact-search result.
type Neighbor struct {
	Pos      uint32
	Distance float32
}

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVectors generates L2-normalized random vectors on the hypersphere.
// Gaussian components give a uniform direction distribution, which matters
// for angular-metric tests.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := range num {
		vectors[i] = r.fillUnitLocked(data[i*dim : (i+1)*dim])
	}

	return vectors
}

// UnitVector generates a single L2-normalized random vector.
func (r *RNG) UnitVector(dim int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fillUnitLocked(make([]float32, dim))
}

func (r *RNG) fillUnitLocked(vec []float32) []float32 {
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		norm = 1
	}
	invNorm := float32(1.0 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= invNorm
	}
	return vec
}

// IDs generates num sequential string ids starting at 1.
func IDs(num int) []string {
	ids := make([]string, num)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids
}

// BruteForceNearest performs exact nearest-neighbor search for ground truth.
// Ties break on position, matching the serving backend's ordering.
func BruteForceNearest(m metric.Metric, vectors [][]float32, query []float32, k int) []Neighbor {
	dist := metric.FuncFor(m)

	results := make([]Neighbor, len(vectors))
	for i, v := range vectors {
		results[i] = Neighbor{Pos: uint32(i), Distance: dist(query, v)}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Pos < results[j].Pos
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Recall computes recall@k of approximate results against ground truth.
func Recall(groundTruth, approximate []Neighbor) float64 {
	if len(groundTruth) == 0 || len(approximate) == 0 {
		if len(groundTruth) == 0 && len(approximate) == 0 {
			return 1.0
		}
		return 0.0
	}

	k := min(len(approximate), len(groundTruth))

	truthSet := make(map[uint32]struct{}, k)
	for i := range k {
		truthSet[groundTruth[i].Pos] = struct{}{}
	}

	hits := 0
	for _, n := range approximate {
		if _, ok := truthSet[n.Pos]; ok {
			hits++
		}
	}

	return float64(hits) / float64(k)
}
