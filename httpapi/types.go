// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package httpapi

// statusResponse answers GET /status.
type statusResponse struct {
	Status string `json:"status"`
}

// tasksResponse answers GET /v1/task.
type tasksResponse struct {
	Tasks []string `json:"tasks"`
}

// modelsResponse answers GET /v1/model.
type modelsResponse struct {
	Models []string `json:"models"`
}

// memoriesResponse answers GET /v1/memory.
type memoriesResponse struct {
	Memories []string `json:"memories"`
}

// promptRequest carries a one-shot prompt, as a query parameter on GET or a
// JSON body on POST.
type promptRequest struct {
	Prompt string `json:"prompt" form:"prompt"`
}

// generateResponse answers a completion request.
type generateResponse struct {
	Text string `json:"text"`
}

// embeddingResponse answers a model embedding request.
type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// tokenizationResponse answers a model tokenization request.
type tokenizationResponse struct {
	Tokens []int `json:"tokens"`
}

// recallResponse answers a memory recall request.
type recallResponse struct {
	Chunks []string `json:"chunks"`
}
