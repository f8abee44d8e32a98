// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package backend

import (
	"sync"
	"time"
)

// InferenceStats accumulates prompt-feed and prediction timing/counts for
// one completion, in caller-thread time (not yet scaled by n_threads).
type InferenceStats struct {
	FeedPromptDuration time.Duration
	PromptTokens       int
	PredictDuration    time.Duration
	PredictTokens      int
}

// Add accumulates other into s, matching InferenceStatsAdd::add.
func (s *InferenceStats) Add(other InferenceStats) {
	s.FeedPromptDuration += other.FeedPromptDuration
	s.PromptTokens += other.PromptTokens
	s.PredictDuration += other.PredictDuration
	s.PredictTokens += other.PredictTokens
}

// TaskStats is the cumulative counters for one task, including thread-time
// scaled durations (duration * n_threads) alongside the raw wall-clock
// durations, reported at GET /v1/stats.
type TaskStats struct {
	Cycles int `json:"cycles"`

	PredictDuration        time.Duration `json:"predict_duration"`
	PredictDurationThreads time.Duration `json:"predict_duration_threads"`
	PredictTokens          int           `json:"predict_tokens"`

	PromptDuration        time.Duration `json:"prompt_duration"`
	PromptDurationThreads time.Duration `json:"prompt_duration_threads"`
	PromptTokens          int           `json:"prompt_tokens"`
}

// AddCycle folds one completion's stats into the running total.
func (t *TaskStats) AddCycle(stats InferenceStats, nThreads int) {
	t.PredictTokens += stats.PredictTokens
	t.PromptTokens += stats.PromptTokens

	t.PromptDuration += stats.FeedPromptDuration
	t.PromptDurationThreads += stats.FeedPromptDuration * time.Duration(nThreads)

	t.PredictDuration += stats.PredictDuration
	t.PredictDurationThreads += stats.PredictDuration * time.Duration(nThreads)

	t.Cycles++
}

// Stats is the backend-wide per-task counter table, guarded by a single
// mutex with brief critical sections (spec.md §5).
type Stats struct {
	mu   sync.Mutex
	task map[string]*TaskStats
}

// NewStats returns an empty stats table.
func NewStats() *Stats {
	return &Stats{task: map[string]*TaskStats{}}
}

// Add folds one completion's stats into task's running total.
func (s *Stats) Add(task string, stats InferenceStats, nThreads int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.task[task]
	if !ok {
		ts = &TaskStats{}
		s.task[task] = ts
	}
	ts.AddCycle(stats, nThreads)
}

// Snapshot returns a copy of every task's current counters, safe to
// serialize without holding the lock further.
func (s *Stats) Snapshot() map[string]TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TaskStats, len(s.task))
	for k, v := range s.task {
		out[k] = *v
	}
	return out
}
