// Package hnsw implements the Hierarchical Navigable Small World graph used
// for approximate nearest neighbour search over a write-once dataset.
//
// This file defines the Node struct, the per-row building block of the graph.
// Vector data lives in the index's flat buffers; a node only carries its top
// level and its neighbour lists.
package hnsw

import "sync"

// Node is a single row's presence in the graph. A node participates in every
// layer from 0 up to Level; Connections[l] holds its neighbour row ids at
// layer l.
//
// The Connections outer slice is sized once at index construction and never
// reallocated; the inner neighbour lists are mutated during insertion and are
// guarded by mu. Fine-grained per-node locking is what allows many rows to be
// inserted concurrently without a global write lock.
type Node struct {
	mu sync.Mutex

	// Level is the top layer this node participates in, assigned from an
	// exponential distribution when the index is created.
	Level int

	// Connections[l] lists the neighbour row ids at layer l. Bounded by M
	// per layer (2*M at layer 0) after pruning.
	Connections [][]uint32
}

// lock acquires the node's neighbour-list lock.
func (n *Node) lock() { n.mu.Lock() }

// unlock releases the node's neighbour-list lock.
func (n *Node) unlock() { n.mu.Unlock() }
