// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package schema

import (
	"reflect"
	"testing"
)

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }

func containsKind(tokens []Token, k TokenKind) bool {
	for _, t := range tokens {
		if t.Kind == k {
			return true
		}
	}
	return false
}

func mustAdvance(t *testing.T, b *Biaser, tok Token) {
	t.Helper()
	if err := b.Advance(tok); err != nil {
		t.Fatalf("advance(%v): %v", tok, err)
	}
}

// S1: Boolean.
func TestScenarioS1Boolean(t *testing.T) {
	b := New(&Schema{Type: KindBoolean})
	valid := b.NextValidTokens()
	if !containsKind(valid, TokenTrue) || !containsKind(valid, TokenFalse) {
		t.Fatalf("expected {true,false}, got %v", valid)
	}
	if b.CanEnd() {
		t.Fatal("should not be able to end at Start")
	}
	mustAdvance(t, b, True())
	if !b.CanEnd() {
		t.Fatal("expected can_end after true")
	}
	v, ok := b.Value()
	if !ok || v != true {
		t.Fatalf("expected value true, got %v %v", v, ok)
	}
	if len(b.NextValidTokens()) != 0 {
		t.Fatalf("expected no further tokens, got %v", b.NextValidTokens())
	}
}

// S2: String max_length=10.
func TestScenarioS2StringMaxLength(t *testing.T) {
	b := New(&Schema{Type: KindString, MaxLength: i(10)})
	valid := b.NextValidTokens()
	if !containsKind(valid, TokenDoubleQuote) {
		t.Fatalf("expected opening quote, got %v", valid)
	}
	mustAdvance(t, b, DoubleQuote())
	mustAdvance(t, b, StringFragment("hello"))
	mustAdvance(t, b, DoubleQuote())
	v, ok := b.Value()
	if !ok || v != "hello" {
		t.Fatalf("expected \"hello\", got %v %v", v, ok)
	}
	if len(b.NextValidTokens()) != 0 {
		t.Fatalf("expected empty next_valid after close, got %v", b.NextValidTokens())
	}
}

// S3: String enum {foo,bar,baz}.
func TestScenarioS3StringEnum(t *testing.T) {
	b := New(&Schema{Type: KindString, Enum: []string{"foo", "bar", "baz"}})
	mustAdvance(t, b, DoubleQuote())
	valid := b.NextValidTokens()
	if len(valid) != 1 || valid[0].Kind != TokenAnyOf {
		t.Fatalf("expected single AnyOf, got %v", valid)
	}
	got := append([]string{}, valid[0].Suffixes...)
	want := []string{"foo", "bar", "baz"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected suffixes %v, got %v", want, got)
	}
	mustAdvance(t, b, StringFragment("foo"))
	mustAdvance(t, b, DoubleQuote())
	v, ok := b.Value()
	if !ok || v != "foo" {
		t.Fatalf("expected \"foo\", got %v %v", v, ok)
	}
}

// S4: Empty object (no required keys).
func TestScenarioS4EmptyObject(t *testing.T) {
	b := New(&Schema{Type: KindObject})
	mustAdvance(t, b, CurlyOpen())
	valid := b.NextValidTokens()
	if len(valid) != 1 || valid[0].Kind != TokenCurlyClose {
		t.Fatalf("expected only closing brace, got %v", valid)
	}
	mustAdvance(t, b, CurlyClose())
	if !b.CanEnd() {
		t.Fatal("expected can_end after {}")
	}
	v, ok := b.Value()
	if !ok {
		t.Fatal("expected a value")
	}
	obj, ok := v.(map[string]any)
	if !ok || len(obj) != 0 {
		t.Fatalf("expected empty object, got %v", v)
	}
}

// S5: Object with two required string properties.
func TestScenarioS5RequiredObject(t *testing.T) {
	s := &Schema{
		Type:     KindObject,
		Required: []string{"first_name", "last_name"},
		Properties: map[string]*Schema{
			"first_name": {Type: KindString, MaxLength: i(5)},
			"last_name":  {Type: KindString, MaxLength: i(7)},
		},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("schema should validate: %v", err)
	}
	b := New(s)
	mustAdvance(t, b, CurlyOpen())

	valid := b.NextValidTokens()
	if len(valid) != 1 || valid[0].Kind != TokenDoubleQuote {
		t.Fatalf("expected opening quote for first key, got %v", valid)
	}
	mustAdvance(t, b, DoubleQuote())

	valid = b.NextValidTokens()
	if len(valid) != 1 || valid[0].Kind != TokenAnyOf || valid[0].Suffixes[0] != "first_name" {
		t.Fatalf("expected AnyOf([first_name]), got %v", valid)
	}
	mustAdvance(t, b, StringFragment("first_name"))
	mustAdvance(t, b, DoubleQuote())
	mustAdvance(t, b, Colon())
	mustAdvance(t, b, DoubleQuote())
	mustAdvance(t, b, StringFragment("tommy"))
	mustAdvance(t, b, DoubleQuote())

	valid = b.NextValidTokens()
	if !containsKind(valid, TokenComma) || containsKind(valid, TokenCurlyClose) {
		t.Fatalf("expected comma only (one required key left), got %v", valid)
	}
	mustAdvance(t, b, Comma())

	mustAdvance(t, b, DoubleQuote())
	valid = b.NextValidTokens()
	if len(valid) != 1 || valid[0].Kind != TokenAnyOf || valid[0].Suffixes[0] != "last_name" {
		t.Fatalf("expected AnyOf([last_name]), got %v", valid)
	}
	mustAdvance(t, b, StringFragment("last_name"))
	mustAdvance(t, b, DoubleQuote())
	mustAdvance(t, b, Colon())
	mustAdvance(t, b, DoubleQuote())
	mustAdvance(t, b, StringFragment("vorst"))
	mustAdvance(t, b, DoubleQuote())

	valid = b.NextValidTokens()
	if !containsKind(valid, TokenCurlyClose) || containsKind(valid, TokenComma) {
		t.Fatalf("expected closing brace only (no required keys left), got %v", valid)
	}
	mustAdvance(t, b, CurlyClose())

	if !b.CanEnd() {
		t.Fatal("expected can_end")
	}
	v, ok := b.Value()
	if !ok {
		t.Fatal("expected a value")
	}
	want := map[string]any{"first_name": "tommy", "last_name": "vorst"}
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("expected %v, got %v", want, v)
	}
}

// S6: Array<Bool> min_items=2 max_items=3.
func TestScenarioS6ArrayBounds(t *testing.T) {
	s := &Schema{Type: KindArray, Items: &Schema{Type: KindBoolean}, MinItems: i(2), MaxItems: i(3)}
	b := New(s)
	mustAdvance(t, b, BracketOpen())

	valid := b.NextValidTokens()
	if !containsKind(valid, TokenTrue) || !containsKind(valid, TokenFalse) {
		t.Fatalf("expected {true,false}, got %v", valid)
	}
	if containsKind(valid, TokenBracketClose) {
		t.Fatal("must not allow close before min_items")
	}
	mustAdvance(t, b, True())
	mustAdvance(t, b, Comma())

	mustAdvance(t, b, False())
	valid = b.NextValidTokens()
	if !containsKind(valid, TokenComma) || !containsKind(valid, TokenBracketClose) {
		t.Fatalf("expected {,/]} at 2 items (within bounds), got %v", valid)
	}
	mustAdvance(t, b, Comma())

	mustAdvance(t, b, True())
	valid = b.NextValidTokens()
	if containsKind(valid, TokenComma) {
		t.Fatalf("must refuse a 4th element at max_items, got %v", valid)
	}
	if !containsKind(valid, TokenBracketClose) {
		t.Fatalf("expected ] to be available at max_items, got %v", valid)
	}
	mustAdvance(t, b, BracketClose())

	if !b.CanEnd() {
		t.Fatal("expected can_end")
	}
	v, ok := b.Value()
	if !ok {
		t.Fatal("expected a value")
	}
	want := []any{true, false, true}
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("expected %v, got %v", want, v)
	}
}

// Invariant 1: next_valid_tokens() empty iff can_end().
func TestInvariantEmptyIffCanEnd(t *testing.T) {
	b := New(&Schema{Type: KindBoolean})
	if len(b.NextValidTokens()) == 0 && !b.CanEnd() {
		t.Fatal("empty next_valid_tokens but cannot end")
	}
	mustAdvance(t, b, True())
	if len(b.NextValidTokens()) != 0 && b.CanEnd() {
		t.Fatal("non-empty next_valid_tokens but already can_end")
	}
}

// Invariant 2: every proposed token is accepted by advance.
func TestInvariantProposedTokensAdvance(t *testing.T) {
	s := &Schema{Type: KindObject, Required: []string{"a"}, Properties: map[string]*Schema{
		"a": {Type: KindNumber, Min: f(0), Max: f(9)},
	}}
	b := New(s)
	for !b.CanEnd() {
		valid := b.NextValidTokens()
		if len(valid) == 0 {
			t.Fatal("stuck: no valid tokens and cannot end")
		}
		tok := valid[0]
		mustAdvance(t, b, tok)
	}
}

// Invariant 6: Number bounds and max_decimals respected.
func TestInvariantNumberBounds(t *testing.T) {
	s := &Schema{Type: KindNumber, Min: f(-5), Max: f(5), MaxDecimals: i(1)}
	b := New(s)
	mustAdvance(t, b, Minus())
	mustAdvance(t, b, Digit(5))
	if !b.CanEnd() {
		t.Fatal("expected can_end at -5")
	}
	valid := b.NextValidTokens()
	for _, tok := range valid {
		if tok.Kind == TokenDigit {
			t.Fatalf("no further digit should be allowed below min at -5, got %v", tok)
		}
	}
}

// Invariant 7: String enum membership.
func TestInvariantStringEnumMembership(t *testing.T) {
	b := New(&Schema{Type: KindString, Enum: []string{"foo", "bar"}})
	mustAdvance(t, b, DoubleQuote())
	mustAdvance(t, b, StringFragment("bar"))
	mustAdvance(t, b, DoubleQuote())
	v, ok := b.Value()
	if !ok || (v != "foo" && v != "bar") {
		t.Fatalf("expected enum member, got %v", v)
	}
}
