package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/x448/float16"

	"github.com/okanes/descmatch/pkg/core/distance"
	"github.com/okanes/descmatch/pkg/core/hnsw"
	"github.com/okanes/descmatch/pkg/core/matcher"
	"github.com/okanes/descmatch/pkg/core/types"
	"github.com/okanes/descmatch/pkg/metrics"
)

// matcherNameRe bounds matcher names: they double as snapshot file names, so
// nothing that could escape the snapshot directory is allowed.
var matcherNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func (s *Server) handleCreateMatcher(w http.ResponseWriter, r *http.Request) {
	var req createMatcherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if !matcherNameRe.MatchString(req.Name) {
		writeError(w, http.StatusBadRequest, "name must be non-empty and contain only letters, digits, '-' and '_'")
		return
	}
	opts := []matcher.Option{}
	if req.M > 0 {
		opts = append(opts, matcher.WithM(req.M))
	}
	if req.EfConstruction > 0 {
		opts = append(opts, matcher.WithEfConstruction(req.EfConstruction))
	}
	if req.Seed != 0 {
		opts = append(opts, matcher.WithSeed(req.Seed))
	}
	m, err := matcher.New(distance.Metric(req.Metric), distance.Precision(req.Precision), opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.registry.Add(req.Name, m); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info("matcher created", "name", req.Name, "metric", req.Metric, "precision", req.Precision)
	writeJSON(w, http.StatusCreated, m.Info(req.Name))
}

func (s *Server) handleListMatchers(w http.ResponseWriter, _ *http.Request) {
	names := s.registry.Names()
	resp := listMatchersResponse{Matchers: make([]types.MatcherInfo, 0, len(names))}
	for _, name := range names {
		if m, ok := s.registry.Get(name); ok {
			resp.Matchers = append(resp.Matchers, m.Info(name))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMatcher(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("matcher %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, m.Info(name))
}

func (s *Server) handleDeleteMatcher(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.registry.Delete(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("matcher %q not found", name))
		return
	}
	s.logger.Info("matcher deleted", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

// handleBuild starts an asynchronous index build and returns a task id to
// poll.
func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("matcher %q not found", name))
		return
	}
	var req buildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Rows < 1 || req.Dimension < 1 {
		writeError(w, http.StatusBadRequest, "rows and dimension must be positive")
		return
	}

	build, err := buildFunc(m, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taskID := s.tasks.Run(fmt.Sprintf("build %s", name), func() error {
		start := time.Now()
		if err := build(); err != nil {
			s.logger.Error("build failed", "matcher", name, "error", err)
			return err
		}
		metrics.BuildDuration.Observe(time.Since(start).Seconds())
		metrics.IndexedDescriptors.WithLabelValues(name).Set(float64(m.Count()))
		s.logger.Info("build completed", "matcher", name, "rows", req.Rows, "dimension", req.Dimension,
			"duration", time.Since(start))
		return nil
	})
	writeJSON(w, http.StatusAccepted, buildResponse{TaskID: taskID})
}

// buildFunc validates the payload against the matcher's precision and returns
// the deferred build closure. Validation errors surface synchronously; only
// the build itself runs in the task.
func buildFunc(m *matcher.Matcher, req buildRequest) (func() error, error) {
	switch m.Precision() {
	case distance.Binary:
		raw, err := base64.StdEncoding.DecodeString(req.DataBase64)
		if err != nil {
			return nil, fmt.Errorf("invalid data_base64: %w", err)
		}
		if len(raw) != req.Rows*req.Dimension {
			return nil, fmt.Errorf("data has %d bytes, want %d rows of %d", len(raw), req.Rows, req.Dimension)
		}
		return func() error { return m.BuildBinary(raw, req.Rows, req.Dimension) }, nil
	case distance.Float16:
		if len(req.Vectors) != req.Rows*req.Dimension {
			return nil, fmt.Errorf("vectors has %d scalars, want %d rows of %d", len(req.Vectors), req.Rows, req.Dimension)
		}
		data := packFloat16(req.Vectors)
		return func() error { return m.BuildFloat16(data, req.Rows, req.Dimension) }, nil
	case distance.Float32:
		if len(req.Vectors) != req.Rows*req.Dimension {
			return nil, fmt.Errorf("vectors has %d scalars, want %d rows of %d", len(req.Vectors), req.Rows, req.Dimension)
		}
		data := make([]float32, len(req.Vectors))
		for i, v := range req.Vectors {
			data[i] = float32(v)
		}
		return func() error { return m.BuildFloat32(data, req.Rows, req.Dimension) }, nil
	default: // int32
		if len(req.Vectors) != req.Rows*req.Dimension {
			return nil, fmt.Errorf("vectors has %d scalars, want %d rows of %d", len(req.Vectors), req.Rows, req.Dimension)
		}
		data := make([]int32, len(req.Vectors))
		for i, v := range req.Vectors {
			data[i] = int32(v)
		}
		return func() error { return m.BuildInt32(data, req.Rows, req.Dimension) }, nil
	}
}

// packFloat16 converts JSON floats to IEEE 754 half precision bit patterns.
func packFloat16(vals []float64) []uint16 {
	out := make([]uint16, len(vals))
	for i, v := range vals {
		out[i] = float16.Fromfloat32(float32(v)).Bits()
	}
	return out
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("matcher %q not found", name))
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.NbQuery < 1 || req.K < 1 {
		writeError(w, http.StatusBadRequest, "nb_query and k must be positive")
		return
	}

	queries, err := decodeQueries(m, req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := m.SearchNeighbours(queries, req.NbQuery, req.K)
	if err != nil {
		status := http.StatusBadRequest
		if err == matcher.ErrNotBuilt {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	metrics.SearchesTotal.WithLabelValues(name).Add(float64(req.NbQuery))

	// JSON cannot carry +Inf; filler distances go out as null.
	distances := make([]*float64, len(res.Distances))
	for i := range res.Distances {
		if !math.IsInf(res.Distances[i], 1) {
			distances[i] = &res.Distances[i]
		}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		NbQuery:   res.NbQuery,
		K:         res.K,
		Indices:   res.Indices,
		Distances: distances,
	})
}

// decodeQueries converts the request payload into the flat typed buffer the
// matcher expects.
func decodeQueries(m *matcher.Matcher, req searchRequest) (any, error) {
	if m.Precision() == distance.Binary {
		raw, err := base64.StdEncoding.DecodeString(req.QueriesBase64)
		if err != nil {
			return nil, fmt.Errorf("invalid queries_base64: %w", err)
		}
		return raw, nil
	}
	switch m.Precision() {
	case distance.Float16:
		return packFloat16(req.Queries), nil
	case distance.Float32:
		out := make([]float32, len(req.Queries))
		for i, v := range req.Queries {
			out[i] = float32(v)
		}
		return out, nil
	default:
		out := make([]int32, len(req.Queries))
		for i, v := range req.Queries {
			out[i] = int32(v)
		}
		return out, nil
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	task, ok := s.tasks.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// handleSaveSnapshot persists a built matcher's graph to the snapshot
// directory.
func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m, ok := s.registry.Get(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("matcher %q not found", name))
		return
	}
	if !m.Built() {
		writeError(w, http.StatusConflict, fmt.Sprintf("matcher %q is not built", name))
		return
	}
	if err := os.MkdirAll(s.cfg.SnapshotDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	file := filepath.Join(s.cfg.SnapshotDir, name+".snap")
	f, err := os.Create(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()
	if err := m.Index().Snapshot(f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("snapshot saved", "matcher", name, "file", file)
	writeJSON(w, http.StatusOK, snapshotResponse{Name: name, File: file})
}

// handleLoadSnapshot restores a matcher from the snapshot directory and
// registers it under its name.
func (s *Server) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	var req loadSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if !matcherNameRe.MatchString(req.Name) {
		writeError(w, http.StatusBadRequest, "name must be non-empty and contain only letters, digits, '-' and '_'")
		return
	}
	file := filepath.Join(s.cfg.SnapshotDir, req.Name+".snap")
	f, err := os.Open(file)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	defer f.Close()
	index, err := hnsw.Restore(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	m := matcher.FromIndex(index)
	if err := s.registry.Add(req.Name, m); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	metrics.IndexedDescriptors.WithLabelValues(req.Name).Set(float64(m.Count()))
	s.logger.Info("snapshot loaded", "matcher", req.Name, "file", file, "rows", m.Count())
	writeJSON(w, http.StatusOK, snapshotResponse{Name: req.Name, File: file})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
