// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package llamacppsession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poly-run/llmd/bias"
	"github.com/poly-run/llmd/llamacpp"
	"github.com/poly-run/llmd/modelhost"
)

// fakeServer answers /tokenize, /detokenize and /completion the way
// llama-server would for a tiny fixed vocabulary, so the adapter can be
// exercised without a real model.
type fakeServer struct {
	lastPrompt string
}

func (f *fakeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/tokenize":
			var in struct {
				Content string `json:"content"`
			}
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(map[string]any{"tokens": []int64{1, 2, 3}})
		case "/detokenize":
			var in struct {
				Tokens []int64 `json:"tokens"`
			}
			_ = json.NewDecoder(r.Body).Decode(&in)
			_ = json.NewEncoder(w).Encode(map[string]any{"content": "hi"})
		case "/completion":
			var in llamacpp.CompletionRequest
			_ = json.NewDecoder(r.Body).Decode(&in)
			f.lastPrompt = in.Prompt
			_ = json.NewEncoder(w).Encode(map[string]any{
				"content": "x",
				"tokens":  []int64{42},
			})
		default:
			http.NotFound(w, r)
		}
	}
}

func newTestModel(t *testing.T) (*Model, *fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler())
	t.Cleanup(srv.Close)
	c, err := llamacpp.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	return NewModel(c, 99, nil, 32000), fs, srv
}

func TestFeedPromptAccumulatesText(t *testing.T) {
	m, _, _ := newTestModel(t)
	sess, err := m.StartSession(context.Background(), 4096)
	if err != nil {
		t.Fatal(err)
	}
	s := sess.(*Session)
	if err := s.FeedPrompt(context.Background(), []int{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if s.text != "hi" {
		t.Fatalf("expected accumulated text %q, got %q", "hi", s.text)
	}
}

func TestEmptyReflectsFeedAndRestore(t *testing.T) {
	m, _, _ := newTestModel(t)
	sess, err := m.StartSession(context.Background(), 4096)
	if err != nil {
		t.Fatal(err)
	}
	s := sess.(*Session)
	if !s.Empty() {
		t.Fatal("expected a freshly started session to be empty")
	}
	if err := s.FeedPrompt(context.Background(), []int{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if s.Empty() {
		t.Fatal("expected session to be non-empty after FeedPrompt")
	}

	restored, err := m.StartSession(context.Background(), 4096)
	if err != nil {
		t.Fatal(err)
	}
	rs := restored.(*Session)
	if !rs.Empty() {
		t.Fatal("expected a freshly started session to be empty before Restore")
	}
	if err := rs.Restore([]byte("previously primed text")); err != nil {
		t.Fatal(err)
	}
	if rs.Empty() {
		t.Fatal("expected session to be non-empty after restoring a non-empty snapshot")
	}
}

func TestInferNextTokenSendsAccumulatedPrompt(t *testing.T) {
	m, fs, _ := newTestModel(t)
	sess, err := m.StartSession(context.Background(), 4096)
	if err != nil {
		t.Fatal(err)
	}
	s := sess.(*Session)
	if err := s.FeedPrompt(context.Background(), []int{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	id, outcome, err := s.InferNextToken(context.Background(), modelhost.SamplingParams{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if fs.lastPrompt != "hi" {
		t.Fatalf("expected prompt sent to server to be %q, got %q", "hi", fs.lastPrompt)
	}
	if id != 42 {
		t.Fatalf("expected token 42, got %d", id)
	}
	if outcome != modelhost.InferredToken {
		t.Fatalf("expected InferredToken, got %v", outcome)
	}
	if s.text != "hix" {
		t.Fatalf("expected running text to grow to %q, got %q", "hix", s.text)
	}
}

func TestInferNextTokenDetectsEndOfText(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.EOTID = 42
	sess, _ := m.StartSession(context.Background(), 4096)
	s := sess.(*Session)
	_, outcome, err := s.InferNextToken(context.Background(), modelhost.SamplingParams{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != modelhost.InferEndOfText {
		t.Fatalf("expected InferEndOfText, got %v", outcome)
	}
}

func TestTokenizerRoundTrip(t *testing.T) {
	m, _, _ := newTestModel(t)
	tok := m.Tokenizer()
	ids, err := tok.Tokenize(context.Background(), "hello", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(ids))
	}
	text, err := tok.Detokenize(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if text != "hi" {
		t.Fatalf("expected %q, got %q", "hi", text)
	}
}

func TestAsBiasTokenizerAdapts(t *testing.T) {
	m, _, _ := newTestModel(t)
	bt := modelhost.AsBiasTokenizer(context.Background(), m.Tokenizer())
	var _ bias.Tokenizer = bt
	ids, err := bt.Tokenize("hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(ids))
	}
	if bt.Len() != 32000 {
		t.Fatalf("expected vocab length 32000, got %d", bt.Len())
	}
}
