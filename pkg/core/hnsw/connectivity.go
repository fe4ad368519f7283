package hnsw

import (
	"fmt"

	"github.com/okanes/descmatch/pkg/core/types"
)

// Concurrent construction can, rarely, leave a row whose reciprocal edges
// were all pruned away before anything linked back to it. Such a row is
// silently unreachable from the entry point and will never appear in search
// results. CheckConnectivity finds those rows; RepairConnectivity relinks
// them.

// CheckConnectivity walks layer 0 from the entry point and returns the ids of
// rows that cannot be reached. A nil slice means the graph is fully
// connected. The audit requires a complete build: with rows still missing it
// could not tell an unreachable row from one not inserted yet, so it fails
// instead.
func (h *Index) CheckConnectivity() ([]uint32, error) {
	count := int(h.inserted.Load())
	if count == 0 {
		return nil, nil
	}
	if count != h.rows {
		return nil, fmt.Errorf("hnsw: connectivity audit needs a complete build (%d of %d rows inserted)", count, h.rows)
	}

	h.epMu.RLock()
	ep := h.entrypointID
	h.epMu.RUnlock()

	seen := NewBitSet(uint32(h.rows))
	queue := make([]uint32, 0, count)
	seen.Add(ep)
	queue = append(queue, ep)
	reached := 1

	for len(queue) > 0 {
		curr := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		node := h.nodes[curr]
		node.lock()
		for _, nb := range node.Connections[0] {
			if seen.Has(nb) {
				continue
			}
			seen.Add(nb)
			reached++
			queue = append(queue, nb)
		}
		node.unlock()
	}

	if reached == count {
		return nil, nil
	}
	unreachable := make([]uint32, 0, count-reached)
	for row := 0; row < h.rows; row++ {
		if !seen.Has(uint32(row)) {
			unreachable = append(unreachable, uint32(row))
		}
	}
	return unreachable, nil
}

// RepairConnectivity relinks every unreachable row into the main component at
// layer 0 and returns how many rows were repaired.
func (h *Index) RepairConnectivity() (int, error) {
	unreachable, err := h.CheckConnectivity()
	if err != nil {
		return 0, err
	}
	if len(unreachable) == 0 {
		return 0, nil
	}

	h.epMu.RLock()
	maxLevel, ep := h.maxLevel, h.entrypointID
	h.epMu.RUnlock()

	for _, row := range unreachable {
		distQ, err := h.queryDist(h.rowVector(row))
		if err != nil {
			return 0, err
		}
		curr := ep
		currDist, err := distQ(curr)
		if err != nil {
			return 0, err
		}
		for l := maxLevel; l > 0; l-- {
			if curr, currDist, err = h.greedyStep(distQ, curr, currDist, l); err != nil {
				return 0, err
			}
		}
		candidates, err := h.searchLayer(distQ, types.Candidate{Id: curr, Distance: currDist}, h.efConstruction, 0)
		if err != nil {
			return 0, err
		}
		selected, err := h.selectNeighbors(candidates, h.mMax0)
		if err != nil {
			return 0, err
		}

		node := h.nodes[row]
		node.lock()
		conns := node.Connections[0][:0]
		for _, c := range selected {
			if c.Id == row {
				continue
			}
			conns = append(conns, c.Id)
		}
		node.Connections[0] = conns
		node.unlock()

		for _, c := range selected {
			if c.Id == row {
				continue
			}
			if err := h.link(c.Id, row, 0, h.mMax0); err != nil {
				return 0, err
			}
		}
	}
	return len(unreachable), nil
}
