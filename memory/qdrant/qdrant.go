// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package qdrant adapts a remote Qdrant vector database to the memory.Store
// contract over its REST API. No dedicated Qdrant Go client appears
// anywhere in the retrieved example pack, so this uses the teacher's
// httpjson POST/decode idiom (llamacpp.Client.post) directly against
// Qdrant's HTTP surface instead of a fabricated SDK dependency.
package qdrant

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/maruel/httpjson"
	"github.com/poly-run/llmd/memory"
)

// Store talks to one Qdrant collection.
type Store struct {
	baseURL    string
	collection string
}

// New returns a Store against collection at baseURL (e.g.
// "http://localhost:6333"). The collection is assumed to already exist,
// created with the memory's configured dimensionality and Euclidean
// distance metric.
func New(baseURL, collection string) *Store {
	return &Store{baseURL: baseURL, collection: collection}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertRequest struct {
	Points []point `json:"points"`
}

func (s *Store) Store(ctx context.Context, text string, embedding []float32) error {
	in := upsertRequest{Points: []point{{
		ID:      pointID(text),
		Vector:  embedding,
		Payload: map[string]any{"text": text},
	}}}
	return s.put(ctx, fmt.Sprintf("%s/collections/%s/points", s.baseURL, s.collection), &in, &struct{}{})
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResult struct {
	Result []struct {
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

func (s *Store) Get(ctx context.Context, embedding []float32, topN int) ([]string, error) {
	in := searchRequest{Vector: embedding, Limit: topN, WithPayload: true}
	out := searchResult{}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.baseURL, s.collection)
	resp, err := httpjson.DefaultClient.PostRequest(ctx, url, nil, &in)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	if _, err := httpjson.DecodeResponse(resp, &out, &struct{}{}); err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	texts := make([]string, 0, len(out.Result))
	for _, r := range out.Result {
		if t, ok := r.Payload["text"].(string); ok {
			texts = append(texts, t)
		}
	}
	return texts, nil
}

type clearRequest struct {
	Filter struct{} `json:"filter"`
}

func (s *Store) Clear(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s/points/delete", s.baseURL, s.collection)
	resp, err := httpjson.DefaultClient.PostRequest(ctx, url, nil, &clearRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: clear: %w", err)
	}
	if _, err := httpjson.DecodeResponse(resp, &struct{}{}, &struct{}{}); err != nil {
		return fmt.Errorf("qdrant: clear: %w", err)
	}
	return nil
}

// put issues a PUT with a JSON body, for the upsert endpoint Qdrant exposes
// only via PUT (httpjson.Client only wraps GET/POST).
func (s *Store) put(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant: upsert: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// pointID derives a stable UUID-shaped point id from text, standing in for
// the original's UUIDv5-over-namespace derivation (uuid.new_v5) without
// depending on a UUID library absent from the example pack.
func pointID(text string) string {
	sum := sha256.Sum256([]byte(text))
	h := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32])
}

var _ memory.Store = (*Store)(nil)
