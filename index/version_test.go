package index

import (
	"testing"
	"time"

	"github.com/hupe1980/annserve/backend/flat"
	"github.com/hupe1980/annserve/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, n int) *flat.Flat {
	t.Helper()
	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = []float32{float32(i), 0}
	}
	b, err := flat.New(metric.Angular, 2, vecs)
	require.NoError(t, err)
	return b
}

func TestNewVersion(t *testing.T) {
	b := newTestBackend(t, 3)
	meta := Meta{VecSrc: "emb-pipeline", Metric: metric.Angular, NDim: 2, BuiltAt: time.Now().UTC()}

	v, err := NewVersion("INDEX-0", b, meta, []string{"123", "456", "789"}, "s3://bucket/idx0.tar.gz")
	require.NoError(t, err)

	assert.Equal(t, "INDEX-0", v.Name())
	assert.Equal(t, meta, v.Meta())
	assert.Equal(t, 3, v.NumIDs())
	assert.Equal(t, "s3://bucket/idx0.tar.gz", v.SourceURI())
	assert.WithinDuration(t, time.Now(), v.LoadedAt(), time.Minute)

	pos, ok := v.Position("456")
	require.True(t, ok)
	assert.Equal(t, uint32(1), pos)

	_, ok = v.Position("nope")
	assert.False(t, ok)

	id, err := v.IDAt(2)
	require.NoError(t, err)
	assert.Equal(t, "789", id)

	_, err = v.IDAt(99)
	assert.ErrorIs(t, err, ErrUnknownID)
}

func TestNewVersionValidation(t *testing.T) {
	b := newTestBackend(t, 2)
	meta := Meta{Metric: metric.Angular, NDim: 2}

	t.Run("EmptyName", func(t *testing.T) {
		_, err := NewVersion("", b, meta, []string{"a", "b"}, "")
		assert.Error(t, err)
	})

	t.Run("NilBackend", func(t *testing.T) {
		_, err := NewVersion("X", nil, meta, []string{"a", "b"}, "")
		assert.Error(t, err)
	})

	t.Run("DimMismatch", func(t *testing.T) {
		_, err := NewVersion("X", b, Meta{Metric: metric.Angular, NDim: 5}, []string{"a", "b"}, "")
		assert.Error(t, err)
	})

	t.Run("IDCountMismatch", func(t *testing.T) {
		_, err := NewVersion("X", b, meta, []string{"a"}, "")
		assert.Error(t, err)
	})
}

func TestDuplicateAndEmptyIDs(t *testing.T) {
	b := newTestBackend(t, 4)
	meta := Meta{Metric: metric.Angular, NDim: 2}

	v, err := NewVersion("X", b, meta, []string{"a", "", "a", "b"}, "")
	require.NoError(t, err)

	// First occurrence wins; empty ids are not addressable.
	pos, ok := v.Position("a")
	require.True(t, ok)
	assert.Equal(t, uint32(0), pos)

	_, ok = v.Position("")
	assert.False(t, ok)
}

func TestHead(t *testing.T) {
	b := newTestBackend(t, 3)
	v, err := NewVersion("X", b, Meta{Metric: metric.Angular, NDim: 2}, []string{"1", "2", "3"}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, v.Head(2))
	assert.Equal(t, []string{"1", "2", "3"}, v.Head(10))
}

func TestSummary(t *testing.T) {
	b := newTestBackend(t, 3)
	builtAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	meta := Meta{VecSrc: "emb-pipeline", Metric: metric.Angular, NDim: 2, BuiltAt: builtAt}

	v, err := NewVersion("INDEX-0", b, meta, []string{"123", "456", "789"}, "s3://bucket/idx0.tar.gz")
	require.NoError(t, err)

	s := v.Summary()
	assert.Equal(t, "s3://bucket/idx0.tar.gz", s.PathTar)
	assert.Equal(t, "emb-pipeline", s.AnnMeta.VecSrc)
	assert.Equal(t, "angular", s.AnnMeta.Metric)
	assert.Equal(t, 2, s.AnnMeta.NDim)
	assert.Equal(t, "2024-05-01T12:00:00Z", s.AnnMeta.TimestampUTC)
	assert.Equal(t, 3, s.NIDs)
	assert.Equal(t, []string{"123", "456", "789"}, s.Head5IDs)
	assert.NotEmpty(t, s.TsRead)
}
