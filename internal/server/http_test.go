package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// waitForTask polls the task endpoint until the task leaves the pending and
// running states.
func waitForTask(t *testing.T, s *Server, id string) Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, s, http.MethodGet, "/tasks/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("task lookup failed: %d %s", rec.Code, rec.Body.String())
		}
		task := decodeBody[Task](t, rec)
		if task.Status == TaskCompleted || task.Status == TaskFailed {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task did not finish in time")
	return Task{}
}

func createAndBuild(t *testing.T, s *Server, name string) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/matchers", createMatcherRequest{
		Name: name, Metric: "l2", Precision: "float32", Seed: 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, s, http.MethodPost, "/matchers/"+name+"/build", buildRequest{
		Rows: 4, Dimension: 2,
		Vectors: []float64{0, 0, 10, 0, 0, 10, 10, 10},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("build failed: %d %s", rec.Code, rec.Body.String())
	}
	task := waitForTask(t, s, decodeBody[buildResponse](t, rec).TaskID)
	if task.Status != TaskCompleted {
		t.Fatalf("build task failed: %s", task.Error)
	}
}

func TestMatcherLifecycle(t *testing.T) {
	s := newTestServer(t)
	createAndBuild(t, s, "scene1")

	rec := doJSON(t, s, http.MethodGet, "/matchers", nil)
	list := decodeBody[listMatchersResponse](t, rec)
	if len(list.Matchers) != 1 || list.Matchers[0].Name != "scene1" {
		t.Fatalf("unexpected listing: %+v", list)
	}
	if !list.Matchers[0].Built || list.Matchers[0].VectorCount != 4 {
		t.Fatalf("unexpected matcher info: %+v", list.Matchers[0])
	}

	rec = doJSON(t, s, http.MethodDelete, "/matchers/scene1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodGet, "/matchers/scene1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestCreateRejectsInvalidPairing(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/matchers", createMatcherRequest{
		Name: "bad", Metric: "hamming", Precision: "float32",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateRejectsUnsafeNames(t *testing.T) {
	s := newTestServer(t)
	names := []string{
		"",
		"..",
		"../../etc/passwd",
		"a/b",
		`a\b`,
		"with space",
	}
	for _, name := range names {
		rec := doJSON(t, s, http.MethodPost, "/matchers", createMatcherRequest{
			Name: name, Metric: "l2", Precision: "float32",
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("name %q: expected 400, got %d %s", name, rec.Code, rec.Body.String())
		}
	}
}

func TestLoadSnapshotRejectsUnsafeName(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/snapshots/load", loadSnapshotRequest{Name: "../../scene1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for traversal name, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateDuplicateName(t *testing.T) {
	s := newTestServer(t)
	req := createMatcherRequest{Name: "dup", Metric: "l2", Precision: "float32"}
	if rec := doJSON(t, s, http.MethodPost, "/matchers", req); rec.Code != http.StatusCreated {
		t.Fatalf("first create failed: %d", rec.Code)
	}
	if rec := doJSON(t, s, http.MethodPost, "/matchers", req); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate, got %d", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)
	createAndBuild(t, s, "scene1")

	rec := doJSON(t, s, http.MethodPost, "/matchers/scene1/search", searchRequest{
		NbQuery: 1, K: 2, Queries: []float64{9, 1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search failed: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[searchResponse](t, rec)
	if resp.K != 2 || len(resp.Indices) != 2 {
		t.Fatalf("unexpected result shape: %+v", resp)
	}
	if resp.Indices[0] != 1 {
		t.Fatalf("expected neighbour 1 first, got %d", resp.Indices[0])
	}
	if resp.Distances[0] == nil || *resp.Distances[0] != 2 {
		t.Fatalf("expected distance 2, got %v", resp.Distances[0])
	}
}

func TestSearchShortFillEncodesNull(t *testing.T) {
	s := newTestServer(t)
	createAndBuild(t, s, "scene1")

	// k exceeds the four indexed descriptors.
	rec := doJSON(t, s, http.MethodPost, "/matchers/scene1/search", searchRequest{
		NbQuery: 1, K: 6, Queries: []float64{0, 1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search failed: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[searchResponse](t, rec)
	if len(resp.Indices) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(resp.Indices))
	}
	for i := 4; i < 6; i++ {
		if resp.Distances[i] != nil {
			t.Errorf("slot %d: expected null distance, got %v", i, *resp.Distances[i])
		}
	}
}

func TestSearchBeforeBuild(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/matchers", createMatcherRequest{
		Name: "unbuilt", Metric: "l2", Precision: "float32",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/matchers/unbuilt/search", searchRequest{
		NbQuery: 1, K: 1, Queries: []float64{0, 0},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unbuilt matcher, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSnapshotSaveAndLoad(t *testing.T) {
	s := newTestServer(t)
	createAndBuild(t, s, "scene1")

	rec := doJSON(t, s, http.MethodPost, "/matchers/scene1/snapshot", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot save failed: %d %s", rec.Code, rec.Body.String())
	}

	// Drop the matcher and bring it back from disk.
	if rec := doJSON(t, s, http.MethodDelete, "/matchers/scene1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	rec = doJSON(t, s, http.MethodPost, "/snapshots/load", loadSnapshotRequest{Name: "scene1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot load failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/matchers/scene1/search", searchRequest{
		NbQuery: 1, K: 1, Queries: []float64{9, 1},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search after load failed: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[searchResponse](t, rec)
	if resp.Indices[0] != 1 {
		t.Fatalf("expected neighbour 1 after restore, got %d", resp.Indices[0])
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotDir = t.TempDir()
	cfg.APIKey = "secret"
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/matchers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/matchers", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rec.Code)
	}
}

func TestBinaryBuildAndSearch(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s, http.MethodPost, "/matchers", createMatcherRequest{
		Name: "orb", Metric: "hamming", Precision: "binary", Seed: 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
	}

	// Three descriptors of two packed bytes each.
	data := []byte{0x00, 0x00, 0xFF, 0x00, 0xFF, 0xFF}
	rec = doJSON(t, s, http.MethodPost, "/matchers/orb/build", buildRequest{
		Rows: 3, Dimension: 2, DataBase64: base64encode(data),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("build failed: %d %s", rec.Code, rec.Body.String())
	}
	task := waitForTask(t, s, decodeBody[buildResponse](t, rec).TaskID)
	if task.Status != TaskCompleted {
		t.Fatalf("build task failed: %s", task.Error)
	}

	rec = doJSON(t, s, http.MethodPost, "/matchers/orb/search", searchRequest{
		NbQuery: 1, K: 1, QueriesBase64: base64encode([]byte{0xFE, 0x00}),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search failed: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[searchResponse](t, rec)
	if resp.Indices[0] != 1 {
		t.Fatalf("expected neighbour 1, got %d", resp.Indices[0])
	}
	if resp.Distances[0] == nil || *resp.Distances[0] != 1 {
		t.Fatalf("expected distance 1, got %v", resp.Distances[0])
	}
}

func base64encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
