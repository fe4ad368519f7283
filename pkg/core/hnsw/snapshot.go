package hnsw

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/okanes/descmatch/pkg/core/distance"
)

// snapshotVersion guards against loading a snapshot written by an
// incompatible layout.
const snapshotVersion = 1

// snapshot is the gob image of a built index: the dataset buffer, the per-row
// levels and adjacency, and the tunables needed to recreate the Index.
type snapshot struct {
	Version   int
	Metric    distance.Metric
	Precision distance.Precision
	Dimension int
	Rows      int

	M              int
	EfConstruction int

	MaxLevel     int
	EntrypointID uint32
	Inserted     uint32

	Levels      []int32
	Connections [][][]uint32

	VecF32 []float32
	VecF16 []uint16
	VecI32 []int32
	VecU8  []uint8
}

// Snapshot writes the full index state to w in gob format. The index must not
// be mutated while the snapshot runs.
func (h *Index) Snapshot(w io.Writer) error {
	h.epMu.RLock()
	snap := snapshot{
		Version:        snapshotVersion,
		Metric:         h.metric,
		Precision:      h.precision,
		Dimension:      h.dim,
		Rows:           h.rows,
		M:              h.m,
		EfConstruction: h.efConstruction,
		MaxLevel:       h.maxLevel,
		EntrypointID:   h.entrypointID,
		Inserted:       h.inserted.Load(),
		VecF32:         h.vecF32,
		VecF16:         h.vecF16,
		VecI32:         h.vecI32,
		VecU8:          h.vecU8,
	}
	h.epMu.RUnlock()

	snap.Levels = make([]int32, len(h.nodes))
	snap.Connections = make([][][]uint32, len(h.nodes))
	for i, node := range h.nodes {
		node.lock()
		snap.Levels[i] = int32(node.Level)
		layers := make([][]uint32, len(node.Connections))
		for l, conns := range node.Connections {
			layers[l] = append([]uint32(nil), conns...)
		}
		node.unlock()
		snap.Connections[i] = layers
	}

	if err := gob.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("hnsw: snapshot encode: %w", err)
	}
	return nil
}

// Restore reads a gob snapshot written by Snapshot and reconstructs the
// index, dataset included.
func Restore(r io.Reader) (*Index, error) {
	var snap snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("hnsw: snapshot decode: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("hnsw: unsupported snapshot version %d", snap.Version)
	}
	if len(snap.Levels) != snap.Rows || len(snap.Connections) != snap.Rows {
		return nil, fmt.Errorf("hnsw: corrupt snapshot: %d rows but %d levels", snap.Rows, len(snap.Levels))
	}

	var data any
	switch snap.Precision {
	case distance.Float32:
		data = snap.VecF32
	case distance.Float16:
		data = snap.VecF16
	case distance.Int32:
		data = snap.VecI32
	case distance.Binary:
		data = snap.VecU8
	default:
		return nil, fmt.Errorf("hnsw: corrupt snapshot: unknown precision %q", snap.Precision)
	}

	cfg := Config{
		Metric:         snap.Metric,
		Precision:      snap.Precision,
		Dimension:      snap.Dimension,
		M:              snap.M,
		EfConstruction: snap.EfConstruction,
	}
	h, err := New(cfg, data, snap.Rows)
	if err != nil {
		return nil, err
	}

	for i := range h.nodes {
		level := int(snap.Levels[i])
		if len(snap.Connections[i]) != level+1 {
			return nil, fmt.Errorf("hnsw: corrupt snapshot: row %d has level %d but %d layers", i, level, len(snap.Connections[i]))
		}
		h.nodes[i] = &Node{
			Level:       level,
			Connections: snap.Connections[i],
		}
	}
	if snap.Rows > 0 && int(snap.EntrypointID) >= snap.Rows {
		return nil, fmt.Errorf("hnsw: corrupt snapshot: entry point %d out of range", snap.EntrypointID)
	}
	h.maxLevel = snap.MaxLevel
	h.entrypointID = snap.EntrypointID
	h.inserted.Store(snap.Inserted)
	return h, nil
}
