// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package llamacpp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/dnaeon/go-vcr.v4/pkg/recorder"

	"github.com/poly-run/llmd/llamacpp"
)

// fakeServer answers /completion, /tokenize, /detokenize and /health the
// way llama-server would, for a small fixed fixture.
type fakeServer struct{}

func (fakeServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/completion":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"index": 0, "content": "hi", "tokens": []int64{42},
			})
		case "/tokenize":
			_ = json.NewEncoder(w).Encode(map[string]any{"tokens": []int64{1, 2, 3}})
		case "/detokenize":
			_ = json.NewEncoder(w).Encode(map[string]any{"content": "hello"})
		case "/health":
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		default:
			http.NotFound(w, r)
		}
	}
}

// newRecordedClient wraps a fake llama-server behind a go-vcr recorder, the
// same cassette-recording plumbing the teacher's provider clients use
// against their own servers (providers/ollama/client_test.go), minus the
// network dependency: every request is both served by the fake server and
// captured to a fresh cassette under t.TempDir().
func newRecordedClient(t *testing.T) *llamacpp.Client {
	t.Helper()
	srv := httptest.NewServer(fakeServer{}.handler())
	t.Cleanup(srv.Close)

	rec, err := recorder.New(filepath.Join(t.TempDir(), "cassette"),
		recorder.WithMode(recorder.ModeRecordOnly),
		recorder.WithRealTransport(http.DefaultTransport),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := rec.Stop(); err != nil {
			t.Error(err)
		}
	})

	c, err := llamacpp.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	c.HTTP.Client = &http.Client{Transport: rec}
	return c
}

func TestClientCompletionRaw(t *testing.T) {
	c := newRecordedClient(t)
	out := llamacpp.CompletionResponse{}
	in := llamacpp.CompletionRequest{Prompt: "hello"}
	if err := c.CompletionRaw(context.Background(), &in, &out); err != nil {
		t.Fatal(err)
	}
	want := llamacpp.CompletionResponse{Content: "hi", Tokens: []int64{42}}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Fatalf("CompletionRaw() mismatch (-want +got):\n%s", diff)
	}
}

func TestClientTokenizeDetokenize(t *testing.T) {
	c := newRecordedClient(t)
	ids, err := c.Tokenize(context.Background(), "hello", true)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int64{1, 2, 3}, ids); diff != "" {
		t.Fatalf("Tokenize() mismatch (-want +got):\n%s", diff)
	}
	text, err := c.Detokenize(context.Background(), ids)
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello" {
		t.Fatalf("Detokenize() = %q, want %q", text, "hello")
	}
}

func TestClientGetHealth(t *testing.T) {
	c := newRecordedClient(t)
	status, err := c.GetHealth(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status != "ok" {
		t.Fatalf("GetHealth() = %q, want %q", status, "ok")
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	if _, err := llamacpp.New(""); err == nil {
		t.Fatal("expected an error for an empty baseURL")
	}
}
