package flat

import (
	"container/heap"
	"sort"

	"github.com/hupe1980/annserve/backend"
)

// Compile time check to ensure topK satisfies the heap interface.
var _ heap.Interface = (*topK)(nil)

// topK is a bounded max-heap keeping the k smallest distances seen so far.
// Value-based storage, no pointer indirection.
type topK struct {
	items []backend.Neighbor
}

func (t *topK) Len() int { return len(t.items) }

func (t *topK) Less(i, j int) bool {
	// Max-heap on distance; ties break on position so eviction order is
	// deterministic and result prefixes are stable across k.
	if t.items[i].Distance != t.items[j].Distance {
		return t.items[i].Distance > t.items[j].Distance
	}
	return t.items[i].Pos > t.items[j].Pos
}

func (t *topK) Swap(i, j int) { t.items[i], t.items[j] = t.items[j], t.items[i] }

func (t *topK) Push(x any) { t.items = append(t.items, x.(backend.Neighbor)) }

func (t *topK) Pop() any {
	old := t.items
	n := len(old)
	item := old[n-1]
	t.items = old[:n-1]
	return item
}

// push inserts n, keeping at most k items. When full, the worst item is
// replaced only if n is strictly better under the Less ordering.
func (t *topK) push(n backend.Neighbor, k int) {
	if len(t.items) < k {
		heap.Push(t, n)
		return
	}

	worst := t.items[0]
	better := n.Distance < worst.Distance ||
		(n.Distance == worst.Distance && n.Pos < worst.Pos)
	if better {
		t.items[0] = n
		heap.Fix(t, 0)
	}
}

// sorted drains the heap into a nearest-first slice.
func (t *topK) sorted() []backend.Neighbor {
	out := t.items
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Pos < out[j].Pos
	})
	t.items = nil
	return out
}
