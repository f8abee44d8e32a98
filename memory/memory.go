// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package memory defines the vector-memory contract consumed by package
// backend: store text alongside its embedding, recall nearest neighbors by
// Euclidean distance, clear. The ANN index internals are explicitly out of
// scope; implementations (memory/local, memory/qdrant) are free to trade
// index sophistication for correctness.
package memory

import "context"

// Store is implemented independently-atomic per method: concurrent Store
// during Get must not corrupt an implementation's backing index.
type Store interface {
	// Store appends text under embedding. Idempotent re-storage of the same
	// text is allowed to create duplicate entries; callers dedupe upstream
	// if needed.
	Store(ctx context.Context, text string, embedding []float32) error

	// Get returns the topN texts whose stored embeddings are nearest to
	// embedding by Euclidean distance, nearest first.
	Get(ctx context.Context, embedding []float32, topN int) ([]string, error)

	// Clear drops every stored entry.
	Clear(ctx context.Context) error
}
