// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stopseq

import "testing"

// TestSequences ports the original implementation's table of assertions
// verbatim, including the leftover-retry quirk: a piece longer than the
// remaining target reports a completed match even though the recursive
// leftover processing's own result is discarded.
func TestSequences(t *testing.T) {
	s := NewSet([]string{"def", "a"})

	if !s.Advance("a") {
		t.Fatal("expected match on \"a\"")
	}
	s.Reset()

	if s.Advance("d") {
		t.Fatal("expected no match yet")
	}
	if s.Advance("e") {
		t.Fatal("expected no match yet")
	}
	if !s.Advance("f") {
		t.Fatal("expected \"def\" to complete")
	}

	s.Reset()
	if !s.Advance("defq") {
		t.Fatal("expected overrun piece to complete the match")
	}

	s.Reset()
	if !s.Advance("defde") {
		t.Fatal("expected overrun piece to complete the match")
	}
	if !s.Advance("f") {
		t.Fatal("expected leftover-retry state to complete on \"f\"")
	}

	s.Reset()
	if !s.Advance("defde") {
		t.Fatal("expected overrun piece to complete the match")
	}
	if !s.Advance("def") {
		t.Fatal("expected retry-from-scratch to complete on \"def\"")
	}

	s.Reset()
	if !s.Advance("defde") {
		t.Fatal("expected overrun piece to complete the match")
	}
	if s.Advance("ef") {
		t.Fatal("expected retry-from-scratch on \"ef\" to fail to complete")
	}
}

func TestEmptySetAlwaysComplete(t *testing.T) {
	s := NewSet(nil)
	if !s.Advance("anything") {
		t.Fatal("expected empty set to always report complete")
	}
}

func TestSingleSequenceExactMatch(t *testing.T) {
	s := NewSequence("stop")
	if s.Advance("st") {
		t.Fatal("expected partial match to not complete")
	}
	if !s.Advance("op") {
		t.Fatal("expected completion after full target fed")
	}
}
