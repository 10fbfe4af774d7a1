package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/annserve"
	"github.com/hupe1980/annserve/backend/flat"
	"github.com/hupe1980/annserve/index"
	"github.com/hupe1980/annserve/metric"
	"github.com/hupe1980/annserve/vectorsource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLoader builds versions from in-memory fixtures.
type fakeLoader struct {
	mu       sync.Mutex
	fixtures map[string]fixture
	fail     map[string]error
	gate     chan struct{}
}

type fixture struct {
	ids     []string
	vectors [][]float32
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		fixtures: make(map[string]fixture),
		fail:     make(map[string]error),
	}
}

func (l *fakeLoader) Load(ctx context.Context, name string) (*index.Version, error) {
	l.mu.Lock()
	gate := l.gate
	failErr := l.fail[name]
	fx, ok := l.fixtures[name]
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if !ok {
		return nil, fmt.Errorf("no artifact for %q", name)
	}

	b, err := flat.New(metric.Angular, len(fx.vectors[0]), fx.vectors)
	if err != nil {
		return nil, err
	}
	return index.NewVersion(name, b, index.Meta{
		VecSrc:  "test",
		Metric:  metric.Angular,
		NDim:    len(fx.vectors[0]),
		BuiltAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}, fx.ids, "s3://bucket/"+name+".tar.gz")
}

func newTestServer(t *testing.T, engineOpts ...annserve.Option) (*Server, *fakeLoader) {
	t.Helper()

	l := newFakeLoader()
	l.fixtures["INDEX-0"] = fixture{
		ids: []string{"123", "456", "789"},
		vectors: [][]float32{
			{1, 0},
			{0.9, 0.1},
			{0, 1},
		},
	}
	l.fixtures["INDEX-1"] = fixture{
		ids: []string{"a", "b"},
		vectors: [][]float32{
			{1, 0},
			{0, 1},
		},
	}
	l.fixtures["INDEX-3D"] = fixture{
		ids: []string{"x"},
		vectors: [][]float32{
			{1, 0, 0},
		},
	}

	registry := annserve.NewRegistry(l, annserve.WithLogger(annserve.NoopLogger()))
	for _, name := range []string{"INDEX-0", "INDEX-1", "INDEX-3D"} {
		require.NoError(t, registry.Add(context.Background(), name))
	}
	opts := append([]annserve.Option{annserve.WithLogger(annserve.NoopLogger())}, engineOpts...)
	engine := annserve.NewEngine(registry, opts...)

	return New(registry, engine,
		WithLogger(annserve.NoopLogger()),
		WithScratchDir(t.TempDir()),
	), l
}

func doJSON(t *testing.T, h http.Handler, method, target string, body any) (*httptest.ResponseRecorder, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, rec.Body.Bytes()
}

func TestServerList(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	// Idempotent sorted listing.
	for range 3 {
		rec, body := doJSON(t, h, http.MethodGet, "/", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var names []string
		require.NoError(t, json.Unmarshal(body, &names))
		assert.Equal(t, []string{"INDEX-0", "INDEX-1", "INDEX-3D"}, names)
	}
}

func TestServerSummary(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec, body := doJSON(t, h, http.MethodGet, "/ann/INDEX-0", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary struct {
		PathTar string `json:"path_tar"`
		AnnMeta struct {
			VecSrc       string `json:"vec_src"`
			Metric       string `json:"metric"`
			NDim         int    `json:"n_dim"`
			TimestampUTC string `json:"timestamp_utc"`
		} `json:"ann_meta"`
		TsRead   string   `json:"ts_read"`
		NIDs     int      `json:"n_ids"`
		Head5IDs []string `json:"head5_ids"`
	}
	require.NoError(t, json.Unmarshal(body, &summary))

	assert.Equal(t, "s3://bucket/INDEX-0.tar.gz", summary.PathTar)
	assert.Equal(t, "angular", summary.AnnMeta.Metric)
	assert.Equal(t, 2, summary.AnnMeta.NDim)
	assert.Equal(t, "2024-05-01T12:00:00Z", summary.AnnMeta.TimestampUTC)
	assert.Equal(t, 3, summary.NIDs)
	assert.Equal(t, []string{"123", "456", "789"}, summary.Head5IDs)
	_, err := time.Parse(time.RFC3339, summary.TsRead)
	assert.NoError(t, err)

	rec, _ = doJSON(t, h, http.MethodGet, "/ann/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerQuery(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	t.Run("by id", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/ann/INDEX-0/query",
			map[string]any{"id": "123", "k": 2})
		require.Equal(t, http.StatusOK, rec.Code)

		var ids []string
		require.NoError(t, json.Unmarshal(body, &ids))
		assert.Equal(t, []string{"456", "789"}, ids)
	})

	t.Run("with distances", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/ann/INDEX-0/query",
			map[string]any{"id": "123", "k": 2, "incl_dist": true})
		require.Equal(t, http.StatusOK, rec.Code)

		var pairs [][2]any
		require.NoError(t, json.Unmarshal(body, &pairs))
		require.Len(t, pairs, 2)
		assert.Equal(t, "456", pairs[0][0])
		assert.Equal(t, "789", pairs[1][0])
		assert.Less(t, pairs[0][1].(float64), pairs[1][1].(float64))
	})

	t.Run("by embedding", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/ann/INDEX-0/query",
			map[string]any{"emb": []float32{0, 1}, "k": 1})
		require.Equal(t, http.StatusOK, rec.Code)

		var ids []string
		require.NoError(t, json.Unmarshal(body, &ids))
		assert.Equal(t, []string{"789"}, ids)
	})

	t.Run("search_k accepted but inert", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodPost, "/ann/INDEX-0/query",
			map[string]any{"id": "123", "k": 2, "search_k": 10000})
		require.Equal(t, http.StatusOK, rec.Code)

		var ids []string
		require.NoError(t, json.Unmarshal(body, &ids))
		assert.Equal(t, []string{"456", "789"}, ids)
	})

	t.Run("bad requests", func(t *testing.T) {
		tests := []struct {
			name   string
			target string
			body   any
			status int
		}{
			{"unknown index", "/ann/NOPE/query", map[string]any{"id": "123", "k": 2}, http.StatusNotFound},
			{"unknown id", "/ann/INDEX-0/query", map[string]any{"id": "999", "k": 2}, http.StatusNotFound},
			{"zero k", "/ann/INDEX-0/query", map[string]any{"id": "123", "k": 0}, http.StatusBadRequest},
			{"neither id nor emb", "/ann/INDEX-0/query", map[string]any{"k": 2}, http.StatusBadRequest},
			{"both id and emb", "/ann/INDEX-0/query", map[string]any{"id": "123", "emb": []float32{1, 0}, "k": 2}, http.StatusBadRequest},
			{"malformed body", "/ann/INDEX-0/query", "not json", http.StatusBadRequest},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var rec *httptest.ResponseRecorder
				if s, ok := tt.body.(string); ok {
					req := httptest.NewRequest(http.MethodPost, tt.target, bytes.NewBufferString(s))
					rec = httptest.NewRecorder()
					h.ServeHTTP(rec, req)
				} else {
					rec, _ = doJSON(t, h, http.MethodPost, tt.target, tt.body)
				}
				assert.Equal(t, tt.status, rec.Code)
			})
		}
	})
}

func TestServerQueryOutOfIndexBadVector(t *testing.T) {
	// The out-of-index source holds a vector that does not fit the index's
	// dimensionality; that is a caller-visible data problem, not a server
	// failure.
	src := vectorsource.StaticSource{
		"999": {1, 0, 0},
	}
	s, _ := newTestServer(t, annserve.WithVectorSource(src))
	h := s.Handler()

	rec, _ := doJSON(t, h, http.MethodPost, "/ann/INDEX-0/query", map[string]any{
		"id": "999",
		"k":  2,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerCrossQuery(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	t.Run("ids only", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet,
			"/crossq?q_name=INDEX-1&q_id=a&catalog_name=INDEX-0&k=2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var ids []string
		require.NoError(t, json.Unmarshal(body, &ids))
		assert.Equal(t, []string{"123", "456"}, ids)
	})

	t.Run("with distances", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet,
			"/crossq?q_name=INDEX-1&q_id=a&catalog_name=INDEX-0&k=2&incl_dist=true", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var pairs [][2]any
		require.NoError(t, json.Unmarshal(body, &pairs))
		require.Len(t, pairs, 2)
		assert.Equal(t, "123", pairs[0][0])
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet,
			"/crossq?q_name=INDEX-3D&q_id=x&catalog_name=INDEX-0&k=2", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing params", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/crossq?q_name=INDEX-1&k=2", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-integer k", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet,
			"/crossq?q_name=INDEX-1&q_id=a&catalog_name=INDEX-0&k=two", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown source id", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet,
			"/crossq?q_name=INDEX-1&q_id=zzz&catalog_name=INDEX-0&k=2", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServerRefresh(t *testing.T) {
	s, l := newTestServer(t)
	h := s.Handler()

	t.Run("success", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/ann/INDEX-0/refresh", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("unknown index", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodPost, "/ann/NOPE/refresh", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("loader failure", func(t *testing.T) {
		l.mu.Lock()
		l.fail["INDEX-1"] = fmt.Errorf("artifact store down")
		l.mu.Unlock()

		rec, _ := doJSON(t, h, http.MethodPost, "/ann/INDEX-1/refresh", nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		// The index keeps serving its previous version.
		rec, _ = doJSON(t, h, http.MethodGet, "/ann/INDEX-1", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("refresh in progress", func(t *testing.T) {
		gate := make(chan struct{})
		l.mu.Lock()
		l.gate = gate
		l.mu.Unlock()

		started := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			close(started)
			rec, _ := doJSON(t, h, http.MethodPost, "/ann/INDEX-0/refresh", nil)
			assert.Equal(t, http.StatusNoContent, rec.Code)
		}()
		<-started
		time.Sleep(50 * time.Millisecond) // let the first refresh reach the loader

		rec, _ := doJSON(t, h, http.MethodPost, "/ann/INDEX-0/refresh", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)

		l.mu.Lock()
		l.gate = nil
		l.mu.Unlock()
		close(gate)
		<-done
	})
}

func TestServerUtilityEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	t.Run("scratch listing", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/tmp", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Dir     string   `json:"dir"`
			Entries []string `json:"entries"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.Equal(t, s.scratchDir, resp.Dir)
		assert.Empty(t, resp.Entries)
	})

	t.Run("sleep", func(t *testing.T) {
		rec, body := doJSON(t, h, http.MethodGet, "/sleep?s=0", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"slept":0}`, string(body))

		rec, _ = doJSON(t, h, http.MethodGet, "/sleep?s=abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec, _ = doJSON(t, h, http.MethodGet, "/sleep?s=-1", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("request id header", func(t *testing.T) {
		rec, _ := doJSON(t, h, http.MethodGet, "/", nil)
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", "fixed-id")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, "fixed-id", rr.Header().Get("X-Request-ID"))
	})
}
