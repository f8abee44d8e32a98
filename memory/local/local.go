// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package local implements an in-process, non-persistent memory.Store as a
// flat brute-force scan. It stands in for the original's HNSW-backed index
// (hora.rs) without the ANN internals, which spec.md explicitly places out
// of scope; a linear scan satisfies the same store/get/clear contract.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type entry struct {
	text      string
	embedding []float32
}

// Store is a brute-force, mutex-guarded flat index. Safe for concurrent use.
type Store struct {
	dimensions int

	mu      sync.Mutex
	entries []entry
}

// New returns an empty Store expecting embeddings of the given
// dimensionality.
func New(dimensions int) *Store {
	return &Store{dimensions: dimensions}
}

func (s *Store) Store(ctx context.Context, text string, embedding []float32) error {
	if len(embedding) != s.dimensions {
		return fmt.Errorf("memory/local: embedding has %d dimensions, want %d", len(embedding), s.dimensions)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	s.entries = append(s.entries, entry{text: text, embedding: cp})
	return nil
}

func (s *Store) Get(ctx context.Context, embedding []float32, topN int) ([]string, error) {
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("memory/local: embedding has %d dimensions, want %d", len(embedding), s.dimensions)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	type scored struct {
		text string
		dist float32
	}
	ranked := make([]scored, len(s.entries))
	for i, e := range s.entries {
		ranked[i] = scored{text: e.text, dist: euclidean(e.embedding, embedding)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	if topN > len(ranked) {
		topN = len(ranked)
	}
	out := make([]string, topN)
	for i := range out {
		out[i] = ranked[i].text
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

func euclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
