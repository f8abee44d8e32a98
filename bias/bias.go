// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package bias bridges the abstract JSON token alphabet produced by
// package schema to a concrete model vocabulary: it turns the set of
// abstract tokens a Biaser currently allows into a sparse list of
// (vocabulary id, bias) pairs a sampler can apply directly as logit bias.
package bias

import (
	"fmt"
	"strings"

	"github.com/poly-run/llmd/schema"
)

// TokenAllowed is the logit bias applied to every vocabulary id this
// package proposes. It must be large enough that, combined with any
// sampler temperature/penalty in use, the proposed ids are always chosen
// over any id the bias left untouched (which is implicitly suppressed by
// the sampler never seeing a legal alternative).
const TokenAllowed = 10000.0

// Tokenizer is the minimal surface Bias needs from a model's vocabulary.
// It mirrors the consumed model-library contract: exact single-token
// lookups for literal grammar pieces, and a way to enumerate every
// vocabulary id's decoded text for the AnyOf/AnyString sweeps.
type Tokenizer interface {
	// Tokenize returns the vocabulary ids text encodes to, without a
	// beginning-of-text marker.
	Tokenize(text string) ([]int, error)
	// Token returns the decoded text of vocabulary id id.
	Token(id int) string
	// Len returns the vocabulary size.
	Len() int
}

// TokenBias is one entry of the sparse bias vector Bias produces.
type TokenBias struct {
	ID   int
	Bias float64
}

// UnrepresentableError is panicked by Bias (never returned) when a literal
// the grammar requires does not tokenize to exactly one vocabulary id.
// This is a deployment mistake — an incompatible model/tokenizer pairing
// for the configured schema — not a runtime condition a caller can
// recover from, so it is surfaced as a panic the way the original design
// treats this class of error.
type UnrepresentableError struct {
	Literal string
	IDs     []int
}

func (e *UnrepresentableError) Error() string {
	return fmt.Sprintf("bias: literal %q tokenizes to %d ids (want exactly 1): %v", e.Literal, len(e.IDs), e.IDs)
}

func literalID(t Tokenizer, text string, cache map[string]int) int {
	if id, ok := cache[text]; ok {
		return id
	}
	ids, err := t.Tokenize(text)
	if err != nil || len(ids) != 1 {
		panic(&UnrepresentableError{Literal: text, IDs: ids})
	}
	cache[text] = ids[0]
	return ids[0]
}

const forbiddenStringChars = "\"\n\t\r\\"

// Bias computes the sparse logit bias vector for the current state of b
// against tokenizer t. eotID is appended whenever b.CanEnd() is true,
// alongside any other valid tokens — not only when no other token is
// valid — so the model always has a path to stop as soon as the value it
// is producing is a legal complete document, even mid-number (package
// session does not cap the biased loop by max_tokens).
//
// Bias panics with *UnrepresentableError if the schema requires a literal
// that does not tokenize to a single vocabulary id under t — a
// misconfigured model/schema pairing, detected the first time it matters
// rather than eagerly, since which literals matter depends on the path
// taken through the schema.
func Bias(b *schema.Biaser, t Tokenizer, eotID int) ([]TokenBias, error) {
	valid := b.NextValidTokens()
	if len(valid) == 0 {
		if !b.CanEnd() {
			return nil, fmt.Errorf("bias: biaser has no valid tokens and cannot end")
		}
		return []TokenBias{{ID: eotID, Bias: TokenAllowed}}, nil
	}

	cache := map[string]int{}
	var out []TokenBias
	for _, tok := range valid {
		switch tok.Kind {
		case schema.TokenAnyOf:
			out = append(out, sweepAnyOf(t, tok.Suffixes)...)
		case schema.TokenAnyString:
			out = append(out, sweepAnyString(t, tok.MaxLength)...)
		default:
			lit, ok := tok.Literal()
			if !ok {
				return nil, fmt.Errorf("bias: token %v has no literal form and is not AnyOf/AnyString", tok)
			}
			id := literalID(t, lit, cache)
			out = append(out, TokenBias{ID: id, Bias: TokenAllowed})
		}
	}
	if b.CanEnd() {
		out = append(out, TokenBias{ID: eotID, Bias: TokenAllowed})
	}
	return out, nil
}

// sweepAnyOf scans the whole vocabulary for ids whose decoded text is a
// non-empty prefix of (or exactly equal to) one of suffixes. This is
// O(vocab) per call; acceptable because AnyOf only occurs while
// completing an enum value or a required object key.
func sweepAnyOf(t Tokenizer, suffixes []string) []TokenBias {
	var out []TokenBias
	for id := 0; id < t.Len(); id++ {
		text := t.Token(id)
		if text == "" || strings.ContainsAny(text, forbiddenStringChars) {
			continue
		}
		for _, suffix := range suffixes {
			if text == suffix || strings.HasPrefix(suffix, text) {
				out = append(out, TokenBias{ID: id, Bias: TokenAllowed})
				break
			}
		}
	}
	return out
}

// sweepAnyString scans the whole vocabulary for ids whose decoded text
// contains none of '"', newline, tab, carriage return, or backslash, and
// whose length does not exceed maxLength (nil means unbounded).
func sweepAnyString(t Tokenizer, maxLength *int) []TokenBias {
	var out []TokenBias
	for id := 0; id < t.Len(); id++ {
		text := t.Token(id)
		if text == "" || strings.ContainsAny(text, forbiddenStringChars) {
			continue
		}
		if maxLength != nil && len(text) > *maxLength {
			continue
		}
		out = append(out, TokenBias{ID: id, Bias: TokenAllowed})
	}
	return out
}
