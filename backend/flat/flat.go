// Package flat provides an exact-scan nearest-neighbor backend over an
// immutable, memory-mapped vector table. It trades search speed for perfect
// recall, which is the right default for the index sizes this service hosts;
// alternative backends can be swapped in behind the backend.Backend
// interface without touching the registry or query engine.
package flat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/annserve/backend"
	"github.com/hupe1980/annserve/internal/mmap"
	"github.com/hupe1980/annserve/metric"
)

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("flat: k must be positive")

// checkCancelEvery bounds how many rows are scanned between context checks.
const checkCancelEvery = 4096

// Compile time check to ensure Flat satisfies the backend interface.
var _ backend.Backend = (*Flat)(nil)

// Flat is an exact-scan backend. All fields are frozen after construction;
// it is safe for any number of concurrent readers.
type Flat struct {
	metric metric.Metric
	dist   metric.Func
	dim    int
	count  int
	data   []float32 // row-major, count*dim entries
	mask   *roaring.Bitmap
	m      *mmap.File // nil when constructed in memory
	closed atomic.Bool
}

// Option configures Open and New.
type Option func(*Flat)

// WithMask restricts search to the rows present in mask. Rows outside the
// mask are invisible to Nearest but still addressable via VectorOf. The
// loader uses this to hide rows whose entity ids were rejected.
func WithMask(mask *roaring.Bitmap) Option {
	return func(f *Flat) {
		f.mask = mask
	}
}

// Open memory-maps the vector table at path.
//
// The mapped data is interpreted in place, so Open assumes a little-endian
// host, which matches every platform this service is deployed on.
func Open(path string, optFns ...Option) (*Flat, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	hdr, err := parseHeader(m.Data)
	if err != nil {
		m.Close()
		return nil, err
	}

	f := &Flat{
		metric: hdr.metric,
		dist:   metric.FuncFor(hdr.metric),
		dim:    hdr.dim,
		count:  hdr.count,
		m:      m,
	}
	if hdr.count > 0 {
		raw := m.Data[headerSize:]
		f.data = unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), hdr.count*hdr.dim)
	}

	for _, fn := range optFns {
		fn(f)
	}

	return f, nil
}

// New builds an in-memory backend from vectors. Primarily useful for tests
// and for callers that already hold the vector table in memory.
func New(m metric.Metric, dim int, vectors [][]float32, optFns ...Option) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("flat: invalid dimension %d", dim)
	}
	if metric.FuncFor(m) == nil {
		return nil, fmt.Errorf("flat: unknown metric %v", m)
	}

	data := make([]float32, 0, len(vectors)*dim)
	for i, vec := range vectors {
		if len(vec) != dim {
			return nil, &backend.DimensionError{Expected: dim, Actual: len(vec), Context: fmt.Sprintf("vector %d", i)}
		}
		data = append(data, vec...)
	}

	f := &Flat{
		metric: m,
		dist:   metric.FuncFor(m),
		dim:    dim,
		count:  len(vectors),
		data:   data,
	}

	for _, fn := range optFns {
		fn(f)
	}

	return f, nil
}

// Metric implements backend.Backend.
func (f *Flat) Metric() metric.Metric { return f.metric }

// Dim implements backend.Backend.
func (f *Flat) Dim() int { return f.dim }

// Len implements backend.Backend.
func (f *Flat) Len() int { return f.count }

// VectorOf implements backend.Backend. The returned slice is a copy.
func (f *Flat) VectorOf(pos uint32) ([]float32, error) {
	if f.closed.Load() {
		return nil, backend.ErrClosed
	}
	if int(pos) >= f.count {
		return nil, backend.ErrPositionOutOfRange
	}
	return slices.Clone(f.row(pos)), nil
}

// Nearest implements backend.Backend with a full scan over unmasked rows.
func (f *Flat) Nearest(ctx context.Context, query []float32, k int, opts backend.SearchOptions) ([]backend.Neighbor, error) {
	if f.closed.Load() {
		return nil, backend.ErrClosed
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) != f.dim {
		return nil, &backend.DimensionError{Expected: f.dim, Actual: len(query), Context: "query vector"}
	}

	admit := func(pos uint32) bool { return true }
	if f.mask != nil {
		admit = f.mask.Contains
	}

	var top topK
	scanned := 0
	for pos := uint32(0); int(pos) < f.count; pos++ {
		if scanned%checkCancelEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		scanned++

		if !admit(pos) {
			continue
		}
		if opts.Filter != nil && !opts.Filter(pos) {
			continue
		}

		top.push(backend.Neighbor{Pos: pos, Distance: f.dist(query, f.row(pos))}, k)
	}

	return top.sorted(), nil
}

// Close unmaps the backing file, if any.
func (f *Flat) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.data = nil
	if f.m != nil {
		return f.m.Close()
	}
	return nil
}

func (f *Flat) row(pos uint32) []float32 {
	off := int(pos) * f.dim
	return f.data[off : off+f.dim]
}
