// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package backend loads task/model/memory configuration, owns the loaded
// model handles and memory stores, and starts per-request sessions.
package backend

import (
	"fmt"

	"github.com/poly-run/llmd/schema"
	"gopkg.in/yaml.v3"
)

// ModelConfig describes one llama-server-backed model.
type ModelConfig struct {
	// BaseURL is the running llama-server instance's address, e.g.
	// "http://localhost:8080". Process supervision (spawning the server
	// itself) is handled by cmd/llama-serve, not here.
	BaseURL string `yaml:"base_url"`

	// ContextSize bounds the KV cache this config's sessions request.
	ContextSize int `yaml:"context_size"`

	// ThreadsPerSession scales the per-task thread-time stats.
	ThreadsPerSession int `yaml:"threads_per_session"`

	// EOTTokenID, BOTTokenID and VocabSize describe the loaded model's
	// tokenizer. llama-server's HTTP API does not expose these reliably
	// across versions (no stable /props field for them), so they are
	// operator-configured rather than queried at load time.
	EOTTokenID int  `yaml:"eot_token_id"`
	BOTTokenID *int `yaml:"bot_token_id,omitempty"`
	VocabSize  int  `yaml:"vocab_size"`

	_ struct{}
}

func (m *ModelConfig) setDefaults() {
	if m.ContextSize == 0 {
		m.ContextSize = 4096
	}
	if m.ThreadsPerSession == 0 {
		m.ThreadsPerSession = 8
	}
}

func (m *ModelConfig) Validate() error {
	if m.BaseURL == "" {
		return fmt.Errorf("backend: model base_url is required")
	}
	if m.VocabSize <= 0 {
		return fmt.Errorf("backend: model vocab_size is required")
	}
	return nil
}

// StandardSamplerConfig mirrors the original's simple named-parameter
// sampler chain (repetition, top-k, top-p, temperature, a final
// random-distribution draw).
type StandardSamplerConfig struct {
	TopK                   int     `yaml:"top_k"`
	TopP                   float64 `yaml:"top_p"`
	RepeatPenalty          float64 `yaml:"repeat_penalty"`
	Temperature            float64 `yaml:"temperature"`
	RepetitionPenaltyLastN int     `yaml:"repetition_penalty_last_n"`

	_ struct{}
}

func (s *StandardSamplerConfig) setDefaults() {
	if s.TopK == 0 {
		s.TopK = 40
	}
	if s.TopP == 0 {
		s.TopP = 0.95
	}
	if s.RepeatPenalty == 0 {
		s.RepeatPenalty = 1.30
	}
	if s.Temperature == 0 {
		s.Temperature = 0.80
	}
	if s.RepetitionPenaltyLastN == 0 {
		s.RepetitionPenaltyLastN = 64
	}
}

// AdvancedSamplerConfig lets an operator spell out the llama.cpp sampler
// chain directly instead of the standard named fields.
type AdvancedSamplerConfig struct {
	Samplers []string `yaml:"samplers"`

	_ struct{}
}

// SamplerConfig is the union of standard and advanced sampler
// configuration; exactly one is populated (Advanced takes precedence when
// its Samplers list is non-empty, matching the original's untagged-enum
// deserialization preferring the first variant that parses).
type SamplerConfig struct {
	Standard StandardSamplerConfig
	Advanced AdvancedSamplerConfig

	_ struct{}
}

// UnmarshalYAML implements custom decoding so that a task's sampler block
// may use either the advanced `samplers: [...]` form or the standard named
// fields, matching the original Rust's serde(untagged) enum.
func (s *SamplerConfig) UnmarshalYAML(value *yaml.Node) error {
	var adv AdvancedSamplerConfig
	if err := value.Decode(&adv); err == nil && len(adv.Samplers) > 0 {
		s.Advanced = adv
		return nil
	}
	var std StandardSamplerConfig
	if err := value.Decode(&std); err != nil {
		return err
	}
	std.setDefaults()
	s.Standard = std
	return nil
}

// BiaserConfig names the one JSON schema a task's biaser enforces, either
// inline or from an external file.
type BiaserConfig struct {
	JSONSchema     *schema.Schema `yaml:"json_schema,omitempty"`
	JSONSchemaFile string         `yaml:"json_schema_file,omitempty"`

	_ struct{}
}

// TaskMemorizationConfig configures retrieval/storage against a named
// memory for one task.
type TaskMemorizationConfig struct {
	Memory       string `yaml:"memory"`
	StorePrompts bool   `yaml:"store_prompts"`
	Retrieve     *int   `yaml:"retrieve,omitempty"`

	_ struct{}
}

// TaskConfig is one named completion endpoint's full configuration.
type TaskConfig struct {
	Model string `yaml:"model"`

	Prelude    string `yaml:"prelude,omitempty"`
	Prefix     string `yaml:"prefix,omitempty"`
	Postfix    string `yaml:"postfix,omitempty"`
	BiasPrompt string `yaml:"bias_prompt,omitempty"`

	PrivateTokens []string `yaml:"private_tokens,omitempty"`
	MaxTokens     *int     `yaml:"max_tokens,omitempty"`

	Biaser        *BiaserConfig           `yaml:"biaser,omitempty"`
	StopSequences []string                `yaml:"stop_sequences,omitempty"`
	Sampler       SamplerConfig           `yaml:"sampler,omitempty"`
	Memorization  *TaskMemorizationConfig `yaml:"memorization,omitempty"`

	_ struct{}
}

func (t *TaskConfig) Validate() error {
	if t.Model == "" {
		return fmt.Errorf("backend: task model is required")
	}
	if t.Biaser != nil && t.Biaser.JSONSchema == nil && t.Biaser.JSONSchemaFile == "" {
		return fmt.Errorf("backend: biaser must set json_schema or json_schema_file")
	}
	if t.Biaser != nil && t.Biaser.JSONSchema != nil {
		if err := t.Biaser.JSONSchema.Validate(); err != nil {
			return fmt.Errorf("backend: task biaser schema: %w", err)
		}
	}
	return nil
}

// MemoryStoreKind selects a memory backend implementation.
type MemoryStoreKind string

const (
	MemoryStoreLocal  MemoryStoreKind = "local"
	MemoryStoreQdrant MemoryStoreKind = "qdrant"
)

// MemoryConfig describes one named vector memory.
type MemoryConfig struct {
	Store MemoryStoreKind `yaml:"store"`

	// Qdrant-only.
	QdrantURL        string `yaml:"qdrant_url,omitempty"`
	QdrantCollection string `yaml:"qdrant_collection,omitempty"`

	Dimensions     int    `yaml:"dimensions"`
	EmbeddingModel string `yaml:"embedding_model"`

	_ struct{}
}

func (m *MemoryConfig) setDefaults() {
	if m.Store == "" {
		m.Store = MemoryStoreLocal
	}
}

func (m *MemoryConfig) Validate() error {
	if m.Dimensions <= 0 {
		return fmt.Errorf("backend: memory dimensions must be positive")
	}
	if m.EmbeddingModel == "" {
		return fmt.Errorf("backend: memory embedding_model is required")
	}
	switch m.Store {
	case MemoryStoreLocal:
	case MemoryStoreQdrant:
		if m.QdrantURL == "" || m.QdrantCollection == "" {
			return fmt.Errorf("backend: qdrant memory requires qdrant_url and qdrant_collection")
		}
	default:
		return fmt.Errorf("backend: unknown memory store kind %q", m.Store)
	}
	return nil
}

// Config is the top-level task/model/memory configuration document, decoded
// from YAML.
type Config struct {
	Models   map[string]*ModelConfig  `yaml:"models"`
	Tasks    map[string]*TaskConfig   `yaml:"tasks"`
	Memories map[string]*MemoryConfig `yaml:"memories"`

	// CachePath is decoded from the configuration document; no package in
	// this module reads it (cmd/llama-serve takes its own -cache flag).
	CachePath string `yaml:"cache_path,omitempty"`

	// ConcurrencyCap bounds simultaneously-executing completion requests;
	// excess requests queue at the HTTP boundary.
	ConcurrencyCap int `yaml:"concurrency_cap,omitempty"`

	_ struct{}
}

// Validate checks every model/task/memory and the cross-references between
// them (a task's model must exist, a task's memorization memory must
// exist, a memory's embedding model must exist).
func (c *Config) Validate() error {
	for name, m := range c.Models {
		m.setDefaults()
		if err := m.Validate(); err != nil {
			return fmt.Errorf("backend: model %q: %w", name, err)
		}
	}
	for name, mem := range c.Memories {
		mem.setDefaults()
		if err := mem.Validate(); err != nil {
			return fmt.Errorf("backend: memory %q: %w", name, err)
		}
		if _, ok := c.Models[mem.EmbeddingModel]; !ok {
			return fmt.Errorf("backend: memory %q: embedding model %q not found", name, mem.EmbeddingModel)
		}
	}
	for name, t := range c.Tasks {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("backend: task %q: %w", name, err)
		}
		if _, ok := c.Models[t.Model]; !ok {
			return fmt.Errorf("backend: task %q: model %q not found", name, t.Model)
		}
		if t.Memorization != nil {
			if _, ok := c.Memories[t.Memorization.Memory]; !ok {
				return fmt.Errorf("backend: task %q: memory %q not found", name, t.Memorization.Memory)
			}
		}
	}
	if c.ConcurrencyCap <= 0 {
		c.ConcurrencyCap = 4
	}
	return nil
}
