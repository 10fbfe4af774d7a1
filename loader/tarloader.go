package loader

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/annserve/backend"
	"github.com/hupe1980/annserve/backend/flat"
	"github.com/hupe1980/annserve/blobstore"
	"github.com/hupe1980/annserve/index"
	"github.com/hupe1980/annserve/metric"
	"github.com/hupe1980/annserve/resource"
	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Archive member names, fixed by the upstream build pipeline.
const (
	indexMember = "index.ann"
	idsMember   = "ids.txt"
	metaMember  = "metadata.json"

	// timestampFile is written locally after extraction; it is not an
	// archive member.
	timestampFile = "timestamp.txt"
)

// DefaultScratchDir is where archives are extracted unless overridden.
const DefaultScratchDir = "/tmp/ann"

// maxMemberSize caps a single extracted archive member.
const maxMemberSize = 8 << 30

// Compile time check to ensure TarLoader satisfies the Loader interface.
var _ Loader = (*TarLoader)(nil)

// TarLoader loads index versions from tar artifacts in a blob store.
// It is safe for concurrent Load calls on distinct names.
type TarLoader struct {
	store   blobstore.Store
	sources map[string]string // index name -> artifact key
	scratch string
	ctrl    *resource.Controller
	logger  *slog.Logger
}

// TarLoaderOption configures a TarLoader.
type TarLoaderOption func(*TarLoader)

// WithScratchDir overrides the extraction directory.
func WithScratchDir(dir string) TarLoaderOption {
	return func(l *TarLoader) { l.scratch = dir }
}

// WithController attaches a resource controller that rate-limits artifact
// downloads.
func WithController(ctrl *resource.Controller) TarLoaderOption {
	return func(l *TarLoader) { l.ctrl = ctrl }
}

// WithLogger sets the loader's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) TarLoaderOption {
	return func(l *TarLoader) { l.logger = logger }
}

// NewTarLoader creates a TarLoader resolving index names through sources.
func NewTarLoader(store blobstore.Store, sources map[string]string, optFns ...TarLoaderOption) *TarLoader {
	l := &TarLoader{
		store:   store,
		sources: sources,
		scratch: DefaultScratchDir,
		logger:  slog.Default(),
	}
	for _, fn := range optFns {
		fn(l)
	}
	return l
}

// ArtifactKey reports the configured artifact key for an index name.
func (l *TarLoader) ArtifactKey(name string) (string, bool) {
	key, ok := l.sources[name]
	return key, ok
}

// ScratchDir returns the extraction root.
func (l *TarLoader) ScratchDir() string { return l.scratch }

// Load implements Loader. The expensive fetch/extract phase holds no locks;
// the registry serializes per-name refreshes above this layer.
func (l *TarLoader) Load(ctx context.Context, name string) (*index.Version, error) {
	key, ok := l.sources[name]
	if !ok {
		return nil, &FetchError{Key: name, Err: fmt.Errorf("no artifact configured for index %q", name)}
	}

	dir := filepath.Join(l.scratch, name)

	if l.fresh(ctx, key, dir) {
		v, err := l.build(name, key, dir)
		if err == nil {
			l.logger.Info("reusing extracted artifact", "index", name, "dir", dir)
			return v, nil
		}
		l.logger.Warn("extracted artifact unusable, refetching", "index", name, "error", err)
	}

	start := time.Now()
	l.logger.Info("loading artifact", "index", name, "key", key)

	if err := l.extract(ctx, key, dir); err != nil {
		return nil, err
	}

	v, err := l.build(name, key, dir)
	if err != nil {
		return nil, err
	}

	l.logger.Info("artifact loaded",
		"index", name,
		"n_ids", v.NumIDs(),
		"n_dim", v.Meta().NDim,
		"elapsed", time.Since(start),
	)

	return v, nil
}

// fresh reports whether the extracted copy in dir is at least as new as the
// remote artifact. When the remote cannot be statted, an existing local copy
// is trusted so a flaky store does not take a refresh down.
func (l *TarLoader) fresh(ctx context.Context, key, dir string) bool {
	raw, err := os.ReadFile(filepath.Join(dir, timestampFile))
	if err != nil {
		return false
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return false
	}
	extractedAt := time.Unix(sec, 0)

	remote, err := l.store.ModTime(ctx, key)
	if err != nil {
		l.logger.Warn("cannot stat artifact, trusting extracted copy", "key", key, "error", err)
		return true
	}

	return !remote.After(extractedAt)
}

// extract fetches and unpacks the archive, replacing dir atomically.
func (l *TarLoader) extract(ctx context.Context, key, dir string) error {
	// Stores may spool their download through the scratch dir, so it has to
	// exist before the fetch starts.
	if err := os.MkdirAll(l.scratch, 0o755); err != nil {
		return &UnpackError{Key: key, Err: err}
	}

	rc, err := l.store.Fetch(ctx, key)
	if err != nil {
		return &FetchError{Key: key, Err: err}
	}
	defer rc.Close()

	var r io.Reader = resource.NewRateLimitedReader(ctx, rc, l.ctrl)

	switch {
	case strings.HasSuffix(key, ".tar.gz"), strings.HasSuffix(key, ".tgz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return &UnpackError{Key: key, Err: err}
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(key, ".tar.lz4"):
		r = lz4.NewReader(r)
	case strings.HasSuffix(key, ".tar"):
		// Uncompressed.
	default:
		return &UnpackError{Key: key, Err: fmt.Errorf("unsupported archive extension")}
	}

	tmp, err := os.MkdirTemp(l.scratch, filepath.Base(dir)+".extract-*")
	if err != nil {
		return &UnpackError{Key: key, Err: err}
	}
	defer os.RemoveAll(tmp)

	if err := untar(r, tmp); err != nil {
		return &UnpackError{Key: key, Err: err}
	}

	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(filepath.Join(tmp, timestampFile), []byte(stamp), 0o644); err != nil {
		return &UnpackError{Key: key, Err: err}
	}

	// Swap the extraction into place. Versions built from the previous copy
	// stay valid: their vector table is mapped and survives the unlink.
	if err := os.RemoveAll(dir); err != nil {
		return &UnpackError{Key: key, Err: err}
	}
	if err := os.Rename(tmp, dir); err != nil {
		return &UnpackError{Key: key, Err: err}
	}

	return nil
}

// untar writes the known archive members into dir. Unknown members are
// skipped; member names are flattened to their base name so a hostile
// archive cannot escape dir.
func untar(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	seen := map[string]bool{}

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		base := filepath.Base(hdr.Name)
		switch base {
		case indexMember, idsMember, metaMember:
		default:
			continue
		}

		f, err := os.OpenFile(filepath.Join(dir, base), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, io.LimitReader(tr, maxMemberSize)); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		seen[base] = true
	}

	for _, want := range []string{indexMember, idsMember, metaMember} {
		if !seen[want] {
			return fmt.Errorf("archive is missing member %q", want)
		}
	}

	return nil
}

// artifactMeta is the wire shape of metadata.json.
type artifactMeta struct {
	VecSrc       string `json:"vec_src"`
	Metric       string `json:"metric"`
	NDim         int    `json:"n_dim"`
	TimestampUTC string `json:"timestamp_utc"`
}

// build assembles an immutable version from an extracted directory.
// All construction failures are caught here; the registry never observes a
// partially built version.
func (l *TarLoader) build(name, key, dir string) (*index.Version, error) {
	meta, err := readMeta(filepath.Join(dir, metaMember))
	if err != nil {
		return nil, err
	}

	ids, mask, err := readIDs(filepath.Join(dir, idsMember))
	if err != nil {
		return nil, err
	}

	b, err := flat.Open(filepath.Join(dir, indexMember), flat.WithMask(mask))
	if err != nil {
		return nil, &ParseError{Member: indexMember, Err: err}
	}

	if b.Dim() != meta.NDim {
		b.Close()
		return nil, &backend.DimensionError{
			Expected: meta.NDim,
			Actual:   b.Dim(),
			Context:  "vector table vs metadata",
		}
	}
	if b.Len() != len(ids) {
		b.Close()
		return nil, &ParseError{
			Member: idsMember,
			Err:    fmt.Errorf("%d ids for %d vector rows", len(ids), b.Len()),
		}
	}
	if b.Metric() != meta.Metric {
		b.Close()
		return nil, &ParseError{
			Member: metaMember,
			Err:    fmt.Errorf("metric %q does not match vector table metric %q", meta.Metric, b.Metric()),
		}
	}

	v, err := index.NewVersion(name, b, meta, ids, key)
	if err != nil {
		b.Close()
		return nil, &ParseError{Member: indexMember, Err: err}
	}

	return v, nil
}

func readMeta(path string) (index.Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return index.Meta{}, &ParseError{Member: metaMember, Err: err}
	}

	var am artifactMeta
	if err := json.Unmarshal(raw, &am); err != nil {
		return index.Meta{}, &ParseError{Member: metaMember, Err: err}
	}

	m, err := metric.Parse(am.Metric)
	if err != nil {
		return index.Meta{}, &ParseError{Member: metaMember, Err: err}
	}
	if am.NDim <= 0 {
		return index.Meta{}, &ParseError{Member: metaMember, Err: fmt.Errorf("invalid n_dim %d", am.NDim)}
	}

	builtAt, err := parseTimestamp(am.TimestampUTC)
	if err != nil {
		return index.Meta{}, &ParseError{Member: metaMember, Err: err}
	}

	return index.Meta{
		VecSrc:  am.VecSrc,
		Metric:  m,
		NDim:    am.NDim,
		BuiltAt: builtAt,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	// Some pipelines emit naive timestamps; treat them as UTC.
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparsable timestamp_utc %q", s)
}

// readIDs parses ids.txt and returns the id list plus a bitmap of rows
// eligible for search. Blank and duplicate ids keep their row (positions
// must line up with the vector table) but are masked out.
func readIDs(path string) ([]string, *roaring.Bitmap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &ParseError{Member: idsMember, Err: err}
	}

	text := strings.TrimRight(string(raw), "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	mask := roaring.New()
	seen := make(map[string]bool, len(lines))
	ids := make([]string, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line)
		ids[i] = id
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		mask.Add(uint32(i))
	}

	return ids, mask, nil
}
