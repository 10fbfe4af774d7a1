// Package index models immutable snapshots of a named ANN index.
//
// A Version is frozen at construction: backend handle, metadata and the id
// universe never change afterwards. A refresh produces a brand-new Version
// and the registry swaps the reference; readers that acquired the old
// Version keep a fully consistent view until they drop it.
package index

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/hupe1980/annserve/backend"
	"github.com/hupe1980/annserve/metric"
)

// ErrUnknownID is returned when an entity id is not part of a version's id
// universe.
var ErrUnknownID = errors.New("index: unknown entity id")

// Meta describes the provenance of a version's underlying data, as recorded
// by the upstream build pipeline in the artifact's metadata.json.
type Meta struct {
	// VecSrc names where the vectors originated. Informational only.
	VecSrc string

	// Metric is the distance semantics of the vector space.
	Metric metric.Metric

	// NDim is the dimensionality of every vector in the version.
	NDim int

	// BuiltAt is when the artifact was produced upstream (UTC).
	BuiltAt time.Time
}

// Version is an immutable snapshot of one named index.
type Version struct {
	name      string
	backend   backend.Backend
	meta      Meta
	loadedAt  time.Time
	sourceURI string
	ids       []string
	pos       map[string]uint32
	cleanup   runtime.Cleanup
}

// NewVersion constructs a Version. ids holds one entity id per backend row,
// in row order. Duplicate or empty ids keep their row but are excluded from
// id lookup; the loader masks such rows out of search as well.
func NewVersion(name string, b backend.Backend, meta Meta, ids []string, sourceURI string) (*Version, error) {
	if name == "" {
		return nil, errors.New("index: empty version name")
	}
	if b == nil {
		return nil, errors.New("index: nil backend")
	}
	if meta.NDim != b.Dim() {
		return nil, fmt.Errorf("index: metadata dimension %d does not match backend dimension %d", meta.NDim, b.Dim())
	}
	if len(ids) != b.Len() {
		return nil, fmt.Errorf("index: %d ids for %d backend rows", len(ids), b.Len())
	}

	pos := make(map[string]uint32, len(ids))
	for i, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := pos[id]; dup {
			continue
		}
		pos[id] = uint32(i)
	}

	v := &Version{
		name:      name,
		backend:   b,
		meta:      meta,
		loadedAt:  time.Now().UTC(),
		sourceURI: sourceURI,
		ids:       ids,
		pos:       pos,
	}

	// Superseded versions are simply dropped by the registry. The cleanup
	// closes the backend (unmapping its vector table and releasing the file
	// descriptor) once the collector proves no reader can still hold the
	// version, so a refresh never leaks the mapping it replaced.
	v.cleanup = runtime.AddCleanup(v, func(b backend.Backend) { _ = b.Close() }, b)

	return v, nil
}

// Name returns the index name, stable across versions.
func (v *Version) Name() string { return v.name }

// Backend returns the version's ANN backend handle.
func (v *Version) Backend() backend.Backend { return v.backend }

// Meta returns the version's artifact metadata.
func (v *Version) Meta() Meta { return v.meta }

// LoadedAt returns when this process finished loading the version.
func (v *Version) LoadedAt() time.Time { return v.loadedAt }

// SourceURI returns the artifact location the version was loaded from.
func (v *Version) SourceURI() string { return v.sourceURI }

// NumIDs returns the size of the id universe.
func (v *Version) NumIDs() int { return len(v.ids) }

// Head returns up to n leading ids, for diagnostics.
func (v *Version) Head(n int) []string {
	if n > len(v.ids) {
		n = len(v.ids)
	}
	out := make([]string, n)
	copy(out, v.ids[:n])
	return out
}

// Position resolves an entity id to its backend row position.
func (v *Version) Position(id string) (uint32, bool) {
	p, ok := v.pos[id]
	return p, ok
}

// IDAt resolves a backend row position back to its entity id.
func (v *Version) IDAt(pos uint32) (string, error) {
	if int(pos) >= len(v.ids) {
		return "", ErrUnknownID
	}
	return v.ids[pos], nil
}

// Close releases the version's backend immediately. It is only needed for
// deterministic teardown (registry shutdown, versions that were never
// installed); a version that is merely dropped is reclaimed by its cleanup
// once the last reader reference is gone.
func (v *Version) Close() error {
	v.cleanup.Stop()
	return v.backend.Close()
}
