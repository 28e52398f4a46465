// Package testutil provides deterministic helpers and fact fixtures shared
// by package tests and the scenario harness.
package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates "<prefix>-1", "<prefix>-2", ... so that listener
// ids in traces and golden files are stable across runs.
//
// Safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequentialIDs returns a generator. An empty prefix becomes "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Reset restarts the sequence. The next id ends in 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
