// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package stopseq implements incremental stop-sequence matching: feeding a
// stream of decoded text pieces and detecting when some suffix of the
// concatenated stream matches one of a configured set of literal targets.
package stopseq

import "strings"

// Sequence tracks progress matching one literal target string against a
// stream of text pieces fed one at a time via Advance.
type Sequence struct {
	target string
	state  int
}

// NewSequence creates a Sequence matching target.
func NewSequence(target string) *Sequence {
	return &Sequence{target: target}
}

func (s *Sequence) isComplete() bool {
	return s.state == len(s.target)
}

// Advance feeds piece and reports whether target is now fully matched by
// some suffix of the text fed so far (including this call). It is
// recursive in two cases: when piece overruns the remaining target (the
// leftover is retried as a fresh piece against the reset match), and when
// piece fails to extend a non-zero partial match (the whole piece is
// retried from scratch).
//
// A piece longer than the remaining target always reports true once it
// completes the match, even though the leftover-retry call's own result is
// discarded — only its state update matters; matching the rest of the
// stream to that leftover unconditionally does not retract the match
// piece completed.
func (s *Sequence) Advance(piece string) bool {
	if s.state >= len(s.target) {
		return true
	}
	remainder := s.target[s.state:]
	overlap := len(remainder)
	if len(piece) < overlap {
		overlap = len(piece)
	}
	matches := (len(remainder) == len(piece) && remainder == piece) || strings.HasPrefix(remainder, piece[:overlap])
	if matches {
		s.state += overlap
		if len(piece) > len(remainder) && s.isComplete() {
			s.state = 0
			s.Advance(piece[len(remainder):])
			return true
		}
	} else {
		if s.state != 0 {
			s.state = 0
			return s.Advance(piece)
		}
		s.state = 0
	}
	return s.isComplete()
}

// Reset clears any partial match progress.
func (s *Sequence) Reset() {
	s.state = 0
}

// Set matches a stream of text pieces against a fixed set of target
// literals simultaneously, each with its own independent match progress.
type Set struct {
	sequences []*Sequence
}

// NewSet builds a Set matching any of targets. A nil or empty targets
// results in a Set whose Advance always reports true immediately (no
// stop sequences configured means nothing to wait for).
func NewSet(targets []string) *Set {
	set := &Set{}
	for _, t := range targets {
		set.sequences = append(set.sequences, NewSequence(t))
	}
	return set
}

// Reset clears match progress on every sequence in the set.
func (s *Set) Reset() {
	for _, seq := range s.sequences {
		seq.Reset()
	}
}

// Advance feeds piece to every sequence in the set and reports whether any
// of them is now complete. An empty set always reports true.
func (s *Set) Advance(piece string) bool {
	if len(s.sequences) == 0 {
		return true
	}
	anyComplete := false
	for _, seq := range s.sequences {
		if seq.Advance(piece) {
			anyComplete = true
		}
	}
	return anyComplete
}
