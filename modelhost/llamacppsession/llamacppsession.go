// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package llamacppsession adapts a running llama-server instance to the
// modelhost.Model/modelhost.Session contract, forcing or sampling one
// token at a time via the server's native completion API.
package llamacppsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poly-run/llmd/bias"
	"github.com/poly-run/llmd/llamacpp"
	"github.com/poly-run/llmd/modelhost"
)

// Model wraps an llamacpp.Client as a modelhost.Model. A single llama-server
// process only ever holds one context slot usable by this adapter, so
// StartSession must not be called concurrently more than once per Model
// without the server itself being configured for multiple slots.
type Model struct {
	Client   *llamacpp.Client
	EOTID    int
	BOTID    *int
	vocabLen int
	toksOnce sync.Once
	toks     map[int]string
}

// NewModel wraps client, with eotID/botID the end- and beginning-of-text
// ids from the model's configuration and vocabLen its vocabulary size.
func NewModel(client *llamacpp.Client, eotID int, botID *int, vocabLen int) *Model {
	return &Model{Client: client, EOTID: eotID, BOTID: botID, vocabLen: vocabLen}
}

func (m *Model) Tokenizer() modelhost.Tokenizer { return &tokenizer{m: m} }
func (m *Model) EOTTokenID() int                { return m.EOTID }
func (m *Model) BOTTokenID() (int, bool) {
	if m.BOTID == nil {
		return 0, false
	}
	return *m.BOTID, true
}

func (m *Model) StartSession(ctx context.Context, contextSize int) (modelhost.Session, error) {
	return &Session{model: m}, nil
}

func (m *Model) Embedding(ctx context.Context, ids []int) ([]float32, error) {
	return nil, fmt.Errorf("llamacppsession: embedding not supported over the native completion API")
}

func (m *Model) Close() error { return nil }

type tokenizer struct{ m *Model }

func (t *tokenizer) Tokenize(ctx context.Context, text string, bos bool) ([]int, error) {
	ids, err := t.m.Client.Tokenize(ctx, text, bos)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out, nil
}

func (t *tokenizer) Detokenize(ctx context.Context, ids []int) (string, error) {
	in := make([]int64, len(ids))
	for i, id := range ids {
		in[i] = int64(id)
	}
	return t.m.Client.Detokenize(ctx, in)
}

func (t *tokenizer) Token(id int) string {
	t.m.toksOnce.Do(func() { t.m.toks = map[int]string{} })
	if s, ok := t.m.toks[id]; ok {
		return s
	}
	s, err := t.m.Client.Detokenize(context.Background(), []int64{int64(id)})
	if err != nil {
		return ""
	}
	t.m.toks[id] = s
	return s
}

func (t *tokenizer) Len() int { return t.m.vocabLen }

// Session is exclusive to one in-flight request.
type Session struct {
	model *Model
	text  string // prompt plus every token generated so far; resent each call
}

// Empty reports whether no text has been fed or restored into this
// session yet: the adapter's stand-in for "KV cache is empty" (see
// Snapshot/Restore).
func (s *Session) Empty() bool { return s.text == "" }

// FeedPrompt decodes ids and appends their text to the session's running
// prompt. The native completion API has no separate evaluate-then-generate
// step: cache_prompt lets the server reuse the KV cache for any text it
// has already seen, so growing and resending the full prompt text is the
// adapter's equivalent of a stateful session.
func (s *Session) FeedPrompt(ctx context.Context, ids []int) error {
	text, err := s.model.Client.Detokenize(ctx, int64Slice(ids))
	if err != nil {
		return fmt.Errorf("llamacppsession: feed_prompt: %w", err)
	}
	s.text += text
	slog.DebugContext(ctx, "llamacppsession", "feed_prompt_tokens", len(ids))
	return nil
}

func (s *Session) InferNextToken(ctx context.Context, params modelhost.SamplingParams, logitBias []bias.TokenBias) (int, modelhost.InferOutcome, error) {
	in := llamacpp.CompletionRequest{
		Prompt:        s.text,
		CachePrompt:   true,
		ReturnTokens:  true,
		NPredict:      1,
		TopK:          int64(params.TopK),
		TopP:          params.TopP,
		RepeatPenalty: params.RepeatPenalty,
		Temperature:   params.Temperature,
		RepeatLastN:   int64(params.RepetitionPenaltyLastN),
		Seed:          params.Seed,
		Samplers:      params.SamplerChain,
	}
	for _, tb := range logitBias {
		in.LogitBias = append(in.LogitBias, []any{tb.ID, tb.Bias})
	}
	out := llamacpp.CompletionResponse{}
	if err := s.model.Client.CompletionRaw(ctx, &in, &out); err != nil {
		return 0, modelhost.InferOther, fmt.Errorf("llamacppsession: completion: %w", err)
	}
	if len(out.Tokens) == 0 {
		return 0, modelhost.InferOther, fmt.Errorf("llamacppsession: server returned no tokens")
	}
	id := int(out.Tokens[0])
	s.text += out.Content
	if id == s.model.EOTID {
		return id, modelhost.InferEndOfText, nil
	}
	if out.Truncated {
		return id, modelhost.InferContextFull, nil
	}
	return id, modelhost.InferredToken, nil
}

func int64Slice(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// Snapshot and Restore stand in for the native completion API's lack of a
// session-handle concept: the "snapshot" is simply the accumulated prompt
// text, and restoring it seeds a fresh session's text so the backend's
// prelude cache can hand it to every session started for the task without
// re-tokenizing the prelude each time. cache_prompt still lets the server
// reuse its own KV cache across calls sharing the same text prefix.
func (s *Session) Snapshot() ([]byte, error) { return []byte(s.text), nil }
func (s *Session) Restore(snap []byte) error { s.text = string(snap); return nil }
func (s *Session) Close() error              { return nil }

var (
	_ modelhost.Model   = (*Model)(nil)
	_ modelhost.Session = (*Session)(nil)
)
