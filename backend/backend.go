// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/poly-run/llmd/llamacpp"
	"github.com/poly-run/llmd/memory"
	"github.com/poly-run/llmd/memory/local"
	"github.com/poly-run/llmd/memory/qdrant"
	"github.com/poly-run/llmd/modelhost"
	"github.com/poly-run/llmd/modelhost/llamacppsession"
)

// Backend owns every loaded model and memory, the per-task statistics
// table, and the prelude-snapshot cache. It is built once at startup and
// shared read-only across requests; per-request mutation only ever
// touches the prelude cache (via Prelude) and the stats table, both
// independently guarded.
type Backend struct {
	Config Config

	models   map[string]modelhost.Model
	memories map[string]memory.Store
	Stats    *Stats

	preludeMu    sync.RWMutex
	preludeCache map[string][]byte // task name -> session snapshot

	// admission caps the number of completion requests executing against
	// the model at once; excess requests block in Acquire until a slot
	// frees up (spec.md §5's concurrency_cap).
	admission *semaphore.Weighted
}

// New loads every configured model and memory and validates task
// cross-references. Model loading dials the already-running llama-server
// instance named by ModelConfig.BaseURL; it does not spawn the process
// (see cmd/llama-serve for that).
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Backend{
		Config:       cfg,
		models:       map[string]modelhost.Model{},
		memories:     map[string]memory.Store{},
		Stats:        NewStats(),
		preludeCache: map[string][]byte{},
		admission:    semaphore.NewWeighted(int64(cfg.ConcurrencyCap)),
	}
	for name, mc := range cfg.Models {
		client, err := llamacpp.New(mc.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("backend: model %q: %w", name, err)
		}
		if status, err := client.GetHealth(ctx); err != nil || status != "ok" {
			return nil, fmt.Errorf("backend: model %q at %s is not healthy: %v (status=%q)", name, mc.BaseURL, err, status)
		}
		b.models[name] = llamacppsession.NewModel(client, mc.EOTTokenID, mc.BOTTokenID, mc.VocabSize)
		slog.InfoContext(ctx, "backend", "msg", "loaded model", "name", name, "base_url", mc.BaseURL)
	}

	for name, mc := range cfg.Memories {
		switch mc.Store {
		case MemoryStoreLocal:
			b.memories[name] = local.New(mc.Dimensions)
		case MemoryStoreQdrant:
			b.memories[name] = qdrant.New(mc.QdrantURL, mc.QdrantCollection)
		}
		slog.InfoContext(ctx, "backend", "msg", "loaded memory", "name", name, "store", mc.Store)
	}
	return b, nil
}

// Model returns the named model's handle, or ModelNotFoundError.
func (b *Backend) Model(name string) (modelhost.Model, error) {
	m, ok := b.models[name]
	if !ok {
		return nil, &ModelNotFoundError{Model: name}
	}
	return m, nil
}

// Embedding computes the embedding vector for prompt using modelName's
// model.
func (b *Backend) Embedding(ctx context.Context, modelName, prompt string) ([]float32, error) {
	m, err := b.Model(modelName)
	if err != nil {
		return nil, err
	}
	tok := m.Tokenizer()
	ids, err := tok.Tokenize(ctx, prompt, true)
	if err != nil {
		return nil, &TokenizationError{Err: err}
	}
	emb, err := m.Embedding(ctx, ids)
	if err != nil {
		return nil, &InferenceError{Msg: err.Error()}
	}
	return emb, nil
}

// Recall embeds prompt against memoryName's configured embedding model and
// returns the topN nearest stored chunks.
func (b *Backend) Recall(ctx context.Context, memoryName, prompt string, topN int) ([]string, error) {
	mc, ok := b.Config.Memories[memoryName]
	if !ok {
		return nil, &MemoryNotFoundError{Memory: memoryName}
	}
	store, ok := b.memories[memoryName]
	if !ok {
		return nil, &MemoryNotFoundError{Memory: memoryName}
	}
	emb, err := b.Embedding(ctx, mc.EmbeddingModel, prompt)
	if err != nil {
		return nil, err
	}
	out, err := store.Get(ctx, emb, topN)
	if err != nil {
		return nil, &MemoryError{Err: err}
	}
	return out, nil
}

// Memorize embeds text and stores it in memoryName.
func (b *Backend) Memorize(ctx context.Context, memoryName, text string) error {
	mc, ok := b.Config.Memories[memoryName]
	if !ok {
		return &MemoryNotFoundError{Memory: memoryName}
	}
	store, ok := b.memories[memoryName]
	if !ok {
		return &MemoryNotFoundError{Memory: memoryName}
	}
	emb, err := b.Embedding(ctx, mc.EmbeddingModel, text)
	if err != nil {
		return err
	}
	if err := store.Store(ctx, text, emb); err != nil {
		return &MemoryError{Err: err}
	}
	return nil
}

// preludeSnapshot returns the cached session snapshot for task, feeding the
// task's prelude once (on first use) if task has one configured. The cache
// is read-locked on the hot path and write-locked only on first use per
// task; double-feeding on a race is acceptable since the snapshot is
// idempotent (spec.md §5).
func (b *Backend) preludeSnapshot(ctx context.Context, taskName string, tc *TaskConfig, m modelhost.Model) ([]byte, error) {
	if tc.Prelude == "" {
		return nil, nil
	}
	b.preludeMu.RLock()
	snap, ok := b.preludeCache[taskName]
	b.preludeMu.RUnlock()
	if ok {
		return snap, nil
	}

	sess, err := m.StartSession(ctx, b.Config.Models[tc.Model].ContextSize)
	if err != nil {
		return nil, &InferenceError{Msg: err.Error()}
	}
	defer func() { _ = sess.Close() }()

	ids, err := m.Tokenizer().Tokenize(ctx, tc.Prelude, true)
	if err != nil {
		return nil, &TokenizationError{Err: err}
	}
	if err := sess.FeedPrompt(ctx, ids); err != nil {
		return nil, &InferenceError{Msg: err.Error()}
	}
	snap, err = sess.Snapshot()
	if err != nil {
		return nil, &InferenceError{Msg: err.Error()}
	}

	b.preludeMu.Lock()
	b.preludeCache[taskName] = snap
	b.preludeMu.Unlock()
	return snap, nil
}

// Prelude returns task's prelude session snapshot (nil if the task has no
// prelude configured), feeding it once per task per process lifetime. The
// session package calls this when starting a new session for a task.
func (b *Backend) Prelude(ctx context.Context, taskName string) ([]byte, error) {
	tc, err := b.Task(taskName)
	if err != nil {
		return nil, err
	}
	m, err := b.Model(tc.Model)
	if err != nil {
		return nil, err
	}
	return b.preludeSnapshot(ctx, taskName, tc, m)
}

// Task returns the named task's configuration, or TaskNotFoundError.
func (b *Backend) Task(name string) (*TaskConfig, error) {
	tc, ok := b.Config.Tasks[name]
	if !ok {
		return nil, &TaskNotFoundError{Task: name}
	}
	return tc, nil
}

// Acquire blocks until an admission slot is available, or ctx is done.
// Every caller that succeeds must eventually call Release.
func (b *Backend) Acquire(ctx context.Context) error {
	if err := b.admission.Acquire(ctx, 1); err != nil {
		return &AdmissionError{Err: err}
	}
	return nil
}

// Release frees an admission slot acquired by Acquire.
func (b *Backend) Release() { b.admission.Release(1) }
