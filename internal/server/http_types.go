package server

import (
	"encoding/json"
	"net/http"

	"github.com/okanes/descmatch/pkg/core/types"
)

type createMatcherRequest struct {
	Name           string `json:"name"`
	Metric         string `json:"metric"`
	Precision      string `json:"precision"`
	M              int    `json:"m,omitempty"`
	EfConstruction int    `json:"ef_construction,omitempty"`
	Seed           int64  `json:"seed,omitempty"`
}

// buildRequest carries a flat row-major descriptor set. Numeric precisions
// send Vectors; binary descriptors send their packed bytes base64 encoded.
type buildRequest struct {
	Rows       int       `json:"rows"`
	Dimension  int       `json:"dimension"`
	Vectors    []float64 `json:"vectors,omitempty"`
	DataBase64 string    `json:"data_base64,omitempty"`
}

type buildResponse struct {
	TaskID string `json:"task_id"`
}

// searchRequest carries a flat batch of query descriptors, in the same
// encoding as buildRequest.
type searchRequest struct {
	NbQuery       int       `json:"nb_query"`
	K             int       `json:"k"`
	Queries       []float64 `json:"queries,omitempty"`
	QueriesBase64 string    `json:"queries_base64,omitempty"`
}

// searchResponse returns the flat result arrays: the answer for query q at
// rank r is at q*k+r. Filler slots hold the NoNeighbour id and +Inf encoded
// as null.
type searchResponse struct {
	NbQuery   int        `json:"nb_query"`
	K         int        `json:"k"`
	Indices   []uint32   `json:"indices"`
	Distances []*float64 `json:"distances"`
}

type listMatchersResponse struct {
	Matchers []types.MatcherInfo `json:"matchers"`
}

type loadSnapshotRequest struct {
	Name string `json:"name"`
}

type snapshotResponse struct {
	Name string `json:"name"`
	File string `json:"file"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
