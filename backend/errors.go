// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package backend

import "fmt"

// StatusCoder is implemented by every error kind the core surfaces across
// the HTTP boundary, so httpapi can map an error to a status code without a
// type-switch per handler.
type StatusCoder interface {
	error
	StatusCode() int
}

// TaskNotFoundError reports a completion/chat/live request against an
// unconfigured task name.
type TaskNotFoundError struct{ Task string }

func (e *TaskNotFoundError) Error() string  { return fmt.Sprintf("task not found: %s", e.Task) }
func (e *TaskNotFoundError) StatusCode() int { return 404 }

// ModelNotFoundError reports an embedding/tokenization request, or a task
// configuration reference, against an unconfigured model name.
type ModelNotFoundError struct{ Model string }

func (e *ModelNotFoundError) Error() string  { return fmt.Sprintf("model not found: %s", e.Model) }
func (e *ModelNotFoundError) StatusCode() int { return 404 }

// MemoryNotFoundError reports an ingest/recall request against an
// unconfigured memory name.
type MemoryNotFoundError struct{ Memory string }

func (e *MemoryNotFoundError) Error() string  { return fmt.Sprintf("memory not found: %s", e.Memory) }
func (e *MemoryNotFoundError) StatusCode() int { return 404 }

// IllegalTokenError reports that prompt tokenization surfaced a private
// token id, meaning the user attempted to inject an internal signaling
// token.
type IllegalTokenError struct{}

func (e *IllegalTokenError) Error() string  { return "illegal token encountered" }
func (e *IllegalTokenError) StatusCode() int { return 400 }

// TokenizationError wraps a failure tokenizing a prompt segment.
type TokenizationError struct{ Err error }

func (e *TokenizationError) Error() string   { return fmt.Sprintf("tokenization error: %v", e.Err) }
func (e *TokenizationError) Unwrap() error   { return e.Err }
func (e *TokenizationError) StatusCode() int { return 500 }

// InferenceError wraps any model-library failure that is not EndOfText or
// ContextFull (those end the stream cleanly, not as errors).
type InferenceError struct{ Msg string }

func (e *InferenceError) Error() string  { return fmt.Sprintf("inference error: %s", e.Msg) }
func (e *InferenceError) StatusCode() int { return 500 }

// MemoryError wraps a failure from a memory store's store/get/clear.
type MemoryError struct{ Err error }

func (e *MemoryError) Error() string   { return fmt.Sprintf("memory error: %v", e.Err) }
func (e *MemoryError) Unwrap() error   { return e.Err }
func (e *MemoryError) StatusCode() int { return 500 }

// InvalidDocumentError reports a malformed document on the ingest path.
type InvalidDocumentError struct{ Msg string }

func (e *InvalidDocumentError) Error() string  { return fmt.Sprintf("invalid document: %s", e.Msg) }
func (e *InvalidDocumentError) StatusCode() int { return 400 }

// AdmissionError reports that a request could not acquire a concurrency-cap
// slot, generally because ctx was canceled or timed out while queued.
type AdmissionError struct{ Err error }

func (e *AdmissionError) Error() string   { return fmt.Sprintf("admission: %v", e.Err) }
func (e *AdmissionError) Unwrap() error   { return e.Err }
func (e *AdmissionError) StatusCode() int { return 503 }

var (
	_ StatusCoder = (*TaskNotFoundError)(nil)
	_ StatusCoder = (*ModelNotFoundError)(nil)
	_ StatusCoder = (*MemoryNotFoundError)(nil)
	_ StatusCoder = (*IllegalTokenError)(nil)
	_ StatusCoder = (*TokenizationError)(nil)
	_ StatusCoder = (*InferenceError)(nil)
	_ StatusCoder = (*MemoryError)(nil)
	_ StatusCoder = (*InvalidDocumentError)(nil)
	_ StatusCoder = (*AdmissionError)(nil)
)
