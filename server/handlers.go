package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hupe1980/annserve"
	"github.com/hupe1980/annserve/vectorsource"
)

// queryRequest is the body of POST /ann/{indexName}/query. Exactly one of
// id and emb must be set. search_k is accepted for compatibility and has no
// effect.
type queryRequest struct {
	ID          string    `json:"id,omitempty"`
	Emb         []float32 `json:"emb,omitempty"`
	K           int       `json:"k"`
	InclDist    bool      `json:"incl_dist,omitempty"`
	InclScore   bool      `json:"incl_score,omitempty"`
	ThreshScore *float32  `json:"thresh_score,omitempty"`
	SearchK     int       `json:"search_k,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(chi.URLParam(r, "indexName"))
	if err != nil {
		s.respondProblem(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, v.Summary())
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "indexName")

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if (req.ID == "") == (len(req.Emb) == 0) {
		s.respondError(w, http.StatusBadRequest, "exactly one of id and emb is required")
		return
	}

	opts := annserve.QueryOptions{
		IncludeDistances: req.InclDist,
		IncludeScores:    req.InclScore,
		ThresholdScore:   req.ThreshScore,
		SearchK:          req.SearchK,
	}

	var (
		recs []annserve.Rec
		err  error
	)
	if req.ID != "" {
		recs, err = s.engine.QuerySingle(r.Context(), name, req.ID, req.K, opts)
	} else {
		recs, err = s.engine.QueryVector(r.Context(), name, req.Emb, req.K, opts)
	}
	if err != nil {
		s.respondProblem(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, encodeRecs(recs))
}

func (s *Server) handleCrossQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	qName := q.Get("q_name")
	qID := q.Get("q_id")
	catalogName := q.Get("catalog_name")
	if qName == "" || qID == "" || catalogName == "" {
		s.respondError(w, http.StatusBadRequest, "q_name, q_id and catalog_name are required")
		return
	}
	k, err := strconv.Atoi(q.Get("k"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "k must be an integer")
		return
	}

	opts := annserve.QueryOptions{
		IncludeDistances: q.Get("incl_dist") == "true",
	}
	recs, err := s.engine.QueryCross(r.Context(), qName, qID, catalogName, k, opts)
	if err != nil {
		s.respondProblem(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, encodeRecs(recs))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "indexName")
	if err := s.registry.Refresh(r.Context(), name); err != nil {
		s.respondProblem(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleScratchListing lists extracted artifact files under the scratch dir.
func (s *Server) handleScratchListing(w http.ResponseWriter, r *http.Request) {
	var entries []string
	err := filepath.WalkDir(s.scratchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == s.scratchDir {
			return nil
		}
		rel, relErr := filepath.Rel(s.scratchDir, path)
		if relErr != nil {
			return nil
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []string{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"dir":     s.scratchDir,
		"entries": entries,
	})
}

func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	seconds, err := strconv.Atoi(r.URL.Query().Get("s"))
	if err != nil || seconds < 0 {
		s.respondError(w, http.StatusBadRequest, "s must be a non-negative integer")
		return
	}
	if seconds > s.maxSleep {
		seconds = s.maxSleep
	}

	select {
	case <-time.After(time.Duration(seconds) * time.Second):
	case <-r.Context().Done():
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"slept": seconds})
}

// encodeRecs shapes results for the wire: plain id strings, or [id, dist]
// pairs when distances were requested, with the score appended last when
// scores were requested.
func encodeRecs(recs []annserve.Rec) []any {
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		if !rec.HasDistance && !rec.HasScore {
			out = append(out, rec.ID)
			continue
		}
		item := []any{rec.ID}
		if rec.HasDistance {
			item = append(item, rec.Distance)
		}
		if rec.HasScore {
			item = append(item, rec.Score)
		}
		out = append(out, item)
	}
	return out
}

// respondProblem maps core errors to HTTP statuses.
func (s *Server) respondProblem(w http.ResponseWriter, r *http.Request, err error) {
	var (
		dimErr     *annserve.DimensionMismatchError
		ooiErr     *annserve.OutOfIndexVectorError
		refreshErr *annserve.RefreshError
	)

	switch {
	case errors.Is(err, annserve.ErrIndexNotFound),
		errors.Is(err, annserve.ErrEntityNotFound),
		errors.Is(err, vectorsource.ErrVectorNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, annserve.ErrInvalidK), errors.As(err, &dimErr), errors.As(err, &ooiErr):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, annserve.ErrRefreshInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &refreshErr):
		s.respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error("request failed",
			"request_id", RequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
