package metric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Metric
		wantErr bool
	}{
		{name: "angular", input: "angular", want: Angular},
		{name: "euclidean", input: "euclidean", want: Euclidean},
		{name: "l2 alias", input: "L2", want: Euclidean},
		{name: "dot", input: "dot", want: Dot},
		{name: "hamming", input: "hamming", want: Hamming},
		{name: "whitespace", input: " Angular ", want: Angular},
		{name: "unknown", input: "manhattan", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, m := range []Metric{Angular, Euclidean, Dot, Hamming} {
		got, err := Parse(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestAngularDistance(t *testing.T) {
	t.Run("Identical", func(t *testing.T) {
		v := []float32{1, 2, 3}
		assert.InDelta(t, 0, AngularDistance(v, v), 1e-3)
	})

	t.Run("Orthogonal", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		assert.InDelta(t, math.Sqrt2, AngularDistance(a, b), 1e-3)
	})

	t.Run("Opposite", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{-1, 0}
		assert.InDelta(t, 2, AngularDistance(a, b), 1e-3)
	})
}

func TestEuclideanDistance(t *testing.T) {
	a := []float32{0, 0}
	b := []float32{3, 4}
	assert.InDelta(t, 5, EuclideanDistance(a, b), 1e-5)
}

func TestDotDistanceOrdering(t *testing.T) {
	q := []float32{1, 1}
	near := []float32{2, 2}
	far := []float32{0.1, 0.1}
	// A larger dot product must produce a smaller distance.
	assert.Less(t, DotDistance(q, near), DotDistance(q, far))
}

func TestHammingDistance(t *testing.T) {
	a := []float32{0, 1, 1, 0}
	b := []float32{0, 0, 1, 1}
	assert.Equal(t, float32(2), HammingDistance(a, b))
}

func TestScore(t *testing.T) {
	assert.Equal(t, float32(1), Score(0))
	assert.Equal(t, float32(0), Score(2))
	assert.InDelta(t, 0.9, Score(0.2), 1e-6)
}

func TestFuncFor(t *testing.T) {
	for _, m := range []Metric{Angular, Euclidean, Dot, Hamming} {
		require.NotNil(t, FuncFor(m), m.String())
	}
	assert.Nil(t, FuncFor(Metric(99)))
}
