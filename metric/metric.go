// Package metric defines the distance metrics used by ANN index artifacts
// and the corresponding distance functions.
package metric

import (
	"fmt"
	"math"
	"strings"

	"github.com/viterin/vek/vek32"
)

// Metric identifies the distance semantics of an index's vector space.
type Metric int

const (
	// Angular is the angular distance, sqrt(2*(1-cos(u,v))), in range [0, 2].
	Angular Metric = iota
	// Euclidean is the L2 distance.
	Euclidean
	// Dot is the negated dot product (larger dot product = closer).
	Dot
	// Hamming counts differing components. Hamming artifacts store their
	// bits as 0/1 float32 components.
	Hamming
)

// String returns the lower-case metric name as used in artifact metadata.
func (m Metric) String() string {
	switch m {
	case Angular:
		return "angular"
	case Euclidean:
		return "euclidean"
	case Dot:
		return "dot"
	case Hamming:
		return "hamming"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Parse resolves a metric name from artifact metadata.
func Parse(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "angular":
		return Angular, nil
	case "euclidean", "l2":
		return Euclidean, nil
	case "dot":
		return Dot, nil
	case "hamming":
		return Hamming, nil
	default:
		return 0, fmt.Errorf("unknown metric %q", s)
	}
}

// Func computes the distance between two equal-length vectors.
// Smaller is closer for every Metric, including Dot (which is negated).
type Func func(a, b []float32) float32

// FuncFor returns the distance function for the given metric.
func FuncFor(m Metric) Func {
	switch m {
	case Angular:
		return AngularDistance
	case Euclidean:
		return EuclideanDistance
	case Dot:
		return DotDistance
	case Hamming:
		return HammingDistance
	default:
		return nil
	}
}

// AngularDistance computes sqrt(2*(1-cos(a,b))).
// The result lies in [0, 2]; see Score for the derived similarity.
func AngularDistance(a, b []float32) float32 {
	cos := vek32.CosineSimilarity(a, b)
	// Clamp against floating point drift before the sqrt.
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return float32(math.Sqrt(float64(2 * (1 - cos))))
}

// EuclideanDistance computes the L2 distance between a and b.
func EuclideanDistance(a, b []float32) float32 {
	return vek32.Distance(a, b)
}

// DotDistance computes the negated dot product so that smaller means closer.
func DotDistance(a, b []float32) float32 {
	return -vek32.Dot(a, b)
}

// HammingDistance counts components that differ between a and b.
func HammingDistance(a, b []float32) float32 {
	var n float32
	for i := range a {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

// Score converts an angular distance (range [0, 2]) into a similarity score
// in [0, 1] where higher is better. It is meaningful for Angular only; for
// other metrics the caller should not surface a score.
func Score(dist float32) float32 {
	return 1 - dist/2
}
