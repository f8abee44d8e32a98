// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package bias

import (
	"fmt"
	"testing"

	"github.com/poly-run/llmd/schema"
)

// fakeTokenizer maps every distinct literal/fragment it is asked to
// tokenize to its own id, in first-seen order; Token(id) inverts that.
type fakeTokenizer struct {
	byText []string
	ids    map[string]int
}

func newFakeTokenizer(vocab ...string) *fakeTokenizer {
	f := &fakeTokenizer{ids: map[string]int{}}
	for _, v := range vocab {
		f.ids[v] = len(f.byText)
		f.byText = append(f.byText, v)
	}
	return f
}

func (f *fakeTokenizer) Tokenize(text string) ([]int, error) {
	id, ok := f.ids[text]
	if !ok {
		return nil, fmt.Errorf("fakeTokenizer: no such token %q", text)
	}
	return []int{id}, nil
}

func (f *fakeTokenizer) Token(id int) string {
	if id < 0 || id >= len(f.byText) {
		return ""
	}
	return f.byText[id]
}

func (f *fakeTokenizer) Len() int { return len(f.byText) }

func TestBiasBooleanStart(t *testing.T) {
	tok := newFakeTokenizer("true", "false", "null", "{", "}")
	b := schema.New(&schema.Schema{Type: schema.KindBoolean})
	out, err := Bias(b, tok, 99)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 biased ids, got %v", out)
	}
	for _, tb := range out {
		if tb.Bias != TokenAllowed {
			t.Fatalf("expected bias %v, got %v", TokenAllowed, tb.Bias)
		}
	}
}

func TestBiasForcesEOTAtEnd(t *testing.T) {
	tok := newFakeTokenizer("true", "false")
	b := schema.New(&schema.Schema{Type: schema.KindBoolean})
	if err := b.Advance(schema.True()); err != nil {
		t.Fatal(err)
	}
	out, err := Bias(b, tok, 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != 42 {
		t.Fatalf("expected forced eot id 42, got %v", out)
	}
}

func TestBiasPanicsOnUnrepresentableLiteral(t *testing.T) {
	tok := newFakeTokenizer() // empty vocab: "true" cannot tokenize
	b := schema.New(&schema.Schema{Type: schema.KindBoolean})
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic for unrepresentable literal")
		}
		if _, ok := r.(*UnrepresentableError); !ok {
			t.Fatalf("expected *UnrepresentableError, got %T: %v", r, r)
		}
	}()
	_, _ = Bias(b, tok, 0)
}

func TestBiasAllowsEOTAlongsideOtherValidTokensWhenCanEnd(t *testing.T) {
	// An unbounded Number can always end after any digit, but can also
	// always continue with another digit: eotID must be offered alongside
	// the digit ids, not only once no digit is valid any more.
	tok := newFakeTokenizer("0", "1", "2", "3", "4", "5", "6", "7", "8", "9", ".")
	b := schema.New(&schema.Schema{Type: schema.KindNumber})
	if err := b.Advance(schema.Digit(5)); err != nil {
		t.Fatal(err)
	}
	if !b.CanEnd() {
		t.Fatal("expected CanEnd after a single digit of an unbounded number")
	}
	out, err := Bias(b, tok, 42)
	if err != nil {
		t.Fatal(err)
	}
	var sawEOT, sawDigit bool
	for _, tb := range out {
		if tb.ID == 42 {
			sawEOT = true
		} else {
			sawDigit = true
		}
	}
	if !sawEOT {
		t.Fatalf("expected eot id 42 among biased ids, got %v", out)
	}
	if !sawDigit {
		t.Fatalf("expected digit ids among biased ids, got %v", out)
	}
}

func TestBiasAnyOfSweepsEnumSuffixes(t *testing.T) {
	tok := newFakeTokenizer("\"", "fo", "o", "bar", "baz", "x")
	b := schema.New(&schema.Schema{Type: schema.KindString, Enum: []string{"foo", "bar", "baz"}})
	if err := b.Advance(schema.DoubleQuote()); err != nil {
		t.Fatal(err)
	}
	out, err := Bias(b, tok, 0)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[int]bool{}
	for _, tb := range out {
		ids[tb.ID] = true
	}
	// "fo" is a prefix of "foo"; "bar","baz" match exactly; "x" matches
	// nothing and must be excluded; "o" is not a prefix of any remaining
	// enum value from the empty accumulator and must be excluded too.
	if !ids[1] || !ids[3] || !ids[4] {
		t.Fatalf("expected fo/bar/baz biased, got %v", out)
	}
	if ids[2] || ids[5] {
		t.Fatalf("expected o/x excluded, got %v", out)
	}
}
