package flat

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/hupe1980/annserve/metric"
)

// Artifact vector tables use a fixed little-endian layout:
//
//	offset  size  field
//	0       4     magic "FANN"
//	4       1     format version (currently 1)
//	5       1     metric
//	6       2     reserved (zero)
//	8       4     dimension (uint32)
//	12      8     row count (uint64)
//	20      ...   row-major float32 vectors, count*dim entries
const (
	formatVersion = 1
	headerSize    = 20
)

var magic = [4]byte{'F', 'A', 'N', 'N'}

type header struct {
	metric metric.Metric
	dim    int
	count  int
}

func parseHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, fmt.Errorf("flat: short header: %d bytes", len(b))
	}
	if [4]byte(b[:4]) != magic {
		return header{}, fmt.Errorf("flat: bad magic %q", b[:4])
	}
	if v := b[4]; v != formatVersion {
		return header{}, fmt.Errorf("flat: unsupported format version %d", v)
	}
	m := metric.Metric(b[5])
	if metric.FuncFor(m) == nil {
		return header{}, fmt.Errorf("flat: unknown metric byte %d", b[5])
	}

	dim := binary.LittleEndian.Uint32(b[8:12])
	count := binary.LittleEndian.Uint64(b[12:20])
	if dim == 0 {
		return header{}, fmt.Errorf("flat: zero dimension")
	}
	if count > math.MaxUint32 {
		return header{}, fmt.Errorf("flat: row count %d exceeds limit", count)
	}

	want := uint64(headerSize) + count*uint64(dim)*4
	if uint64(len(b)) != want {
		return header{}, fmt.Errorf("flat: file size %d does not match header (want %d)", len(b), want)
	}

	return header{metric: m, dim: int(dim), count: int(count)}, nil
}

// Write serializes vectors in the artifact table format. Every vector must
// have exactly dim components.
func Write(w io.Writer, m metric.Metric, dim int, vectors [][]float32) error {
	if dim <= 0 {
		return fmt.Errorf("flat: invalid dimension %d", dim)
	}

	var hdr [headerSize]byte
	copy(hdr[:4], magic[:])
	hdr[4] = formatVersion
	hdr[5] = byte(m)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(dim))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(len(vectors)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	row := make([]byte, dim*4)
	for i, vec := range vectors {
		if len(vec) != dim {
			return fmt.Errorf("flat: vector %d has %d components, want %d", i, len(vec), dim)
		}
		for j, f := range vec {
			binary.LittleEndian.PutUint32(row[j*4:], math.Float32bits(f))
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}

	return nil
}
