// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package modelhost defines the model-library contract the session loop
// consumes: loading a model, starting an inference session against it,
// feeding prompt tokens, and stepping generation one token at a time.
// The concrete adapter llamacppsession implements it against a running
// llama-server.
package modelhost

import (
	"context"

	"github.com/poly-run/llmd/bias"
)

// Tokenizer converts between text and a model's vocabulary ids.
type Tokenizer interface {
	// Tokenize returns the ids text encodes to. If bos is true, a
	// beginning-of-text marker is prefixed.
	Tokenize(ctx context.Context, text string, bos bool) ([]int, error)
	// Detokenize decodes ids back to text.
	Detokenize(ctx context.Context, ids []int) (string, error)
	// Token returns the decoded text of a single vocabulary id.
	Token(id int) string
	// Len returns the vocabulary size.
	Len() int
}

// compile-time assertion that tokenizerAdapter, the wrapper around a
// Tokenizer, satisfies bias.Tokenizer: it exposes the vocabulary-
// introspection surface the bias sweep needs.
var _ bias.Tokenizer = (*tokenizerAdapter)(nil)

// tokenizerAdapter narrows a modelhost.Tokenizer (context-aware) to the
// context-free bias.Tokenizer the vocabulary bridge expects.
type tokenizerAdapter struct {
	ctx context.Context
	t   Tokenizer
}

// AsBiasTokenizer adapts t for use with package bias, binding ctx for the
// lifetime of one biased generation step.
func AsBiasTokenizer(ctx context.Context, t Tokenizer) bias.Tokenizer {
	return &tokenizerAdapter{ctx: ctx, t: t}
}

func (a *tokenizerAdapter) Tokenize(text string) ([]int, error) {
	return a.t.Tokenize(a.ctx, text, false)
}
func (a *tokenizerAdapter) Token(id int) string { return a.t.Token(id) }
func (a *tokenizerAdapter) Len() int            { return a.t.Len() }

// SamplingParams configures how a Session samples an unforced next token.
// It mirrors the task configuration's standard sampler fields plus an
// optional advanced slash-delimited chain override.
type SamplingParams struct {
	TopK                    int
	TopP                    float64
	RepeatPenalty           float64
	Temperature             float64
	RepetitionPenaltyLastN  int
	SamplerChain            []string // advanced form; non-nil overrides the standard fields
	Seed                    int64

	_ struct{}
}

// InferOutcome classifies the result of one InferNextToken call.
type InferOutcome int

const (
	// InferredToken means a token id was produced normally.
	InferredToken InferOutcome = iota
	// InferEndOfText means the model emitted its end-of-text token.
	InferEndOfText
	// InferContextFull means the session's context window is exhausted.
	InferContextFull
	// InferOther is any other inference failure; see the accompanying error.
	InferOther
)

// Model is an immutable, load-once handle shared by reference across
// concurrently-running sessions.
type Model interface {
	// Tokenizer returns the model's tokenizer.
	Tokenizer() Tokenizer
	// EOTTokenID returns the end-of-text vocabulary id.
	EOTTokenID() int
	// BOTTokenID returns the beginning-of-text vocabulary id, if the model
	// has one.
	BOTTokenID() (int, bool)
	// StartSession creates a new, exclusive inference session.
	StartSession(ctx context.Context, contextSize int) (Session, error)
	// Embedding evaluates ids and returns the resulting embedding vector.
	Embedding(ctx context.Context, ids []int) ([]float32, error)
	// Close releases any resources held by the model handle.
	Close() error
}

// Session is exclusive to one in-flight request; never shared across
// goroutines.
type Session interface {
	// Empty reports whether the session's KV cache is still empty: no
	// prompt has been fed and no snapshot has been restored into it yet.
	// The session loop only prefixes a beginning-of-text token while this
	// holds, matching llama.cpp's own n_past == 0 bos rule.
	Empty() bool
	// FeedPrompt evaluates ids, extending the session's context.
	FeedPrompt(ctx context.Context, ids []int) error
	// InferNextToken samples (or, if logitBias is non-empty, forces among)
	// the next token given params.
	InferNextToken(ctx context.Context, params SamplingParams, logitBias []bias.TokenBias) (id int, outcome InferOutcome, err error)
	// Snapshot captures session state (e.g. for the prelude cache).
	Snapshot() ([]byte, error)
	// Restore replaces the session's state with a previously captured
	// snapshot.
	Restore(snap []byte) error
	// Close releases the session's resources.
	Close() error
}
