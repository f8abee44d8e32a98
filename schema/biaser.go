// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// InvalidTokenError is returned by Advance when the supplied token is not a
// member of the set NextValidTokens would have proposed. Per the session
// loop's contract this only ever indicates a bug in the caller (it must
// never feed the biaser a token it did not itself propose) and should be
// treated as an internal error, never surfaced to end users.
type InvalidTokenError struct {
	Token Token
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("schema: invalid next token %v", e.Token)
}

func invalidTokenErr(t Token) error { return &InvalidTokenError{Token: t} }

type mode int

const (
	modeStart mode = iota
	modeInObject
	modeInArray
	modeInInteger
	modeInString
	modeEnd
)

type objectPartMode int

const (
	partBeforeKey objectPartMode = iota
	partInKey
	partAfterKey
	partInValue
	partFinished
)

// Biaser is an incremental parser against a Schema: given the abstract
// tokens committed so far, it reports which abstract tokens may legally
// follow (NextValidTokens), consumes the one chosen (Advance), and exposes
// whether and what a terminal value has been reached (CanEnd, Value).
//
// A Biaser owns its active child biaser exclusively (nested Object/Array
// schemas); there is no shared ownership.
type Biaser struct {
	schema *Schema
	mode   mode

	// modeInObject
	objSchema      *Schema
	soFar          map[string]any
	partMode       objectPartMode
	keyAcc         string
	pendingKey     string
	valueKey       string
	valueBiaser    *Biaser

	// modeInArray
	arrItems []any
	arrInner *Biaser

	// modeInInteger
	numAcc string

	// modeInString
	strAcc string

	// modeEnd
	endValue any
}

// New creates a Biaser in the Start state against schema.
func New(s *Schema) *Biaser {
	return &Biaser{schema: s, mode: modeStart}
}

func (b *Biaser) childItemSchema() *Schema {
	switch b.schema.Type {
	case KindArray:
		return b.schema.Items
	case KindObject:
		return b.schema
	default:
		return nil
	}
}

// CanEnd reports whether the current state is a valid terminal: a value
// could be produced right now via Value.
func (b *Biaser) CanEnd() bool {
	switch b.mode {
	case modeInObject:
		return b.partMode == partFinished
	case modeInInteger:
		if b.numAcc == "" || strings.HasSuffix(b.numAcc, ".") {
			return false
		}
		_, err := strconv.ParseFloat(b.numAcc, 64)
		return err == nil
	case modeEnd:
		return true
	default: // modeStart, modeInArray, modeInString
		return false
	}
}

// Value returns the finalized JSON value when CanEnd holds. For a
// composite (object/array) in progress it may still return a partial
// reconstruction when every committed child can itself end.
func (b *Biaser) Value() (any, bool) {
	switch b.mode {
	case modeInString:
		return b.strAcc, true
	case modeInObject:
		obj := make(map[string]any, len(b.soFar))
		for k, v := range b.soFar {
			obj[k] = v
		}
		switch b.partMode {
		case partFinished, partBeforeKey:
			return obj, true
		case partAfterKey, partInKey:
			return nil, false
		case partInValue:
			if !b.valueBiaser.CanEnd() {
				return nil, false
			}
			vv, ok := b.valueBiaser.Value()
			if !ok {
				return nil, false
			}
			obj[b.valueKey] = vv
			return obj, true
		}
		return obj, true
	case modeInArray:
		items := append([]any{}, b.arrItems...)
		if v, ok := b.arrInner.Value(); ok {
			items = append(items, v)
		}
		return items, true
	case modeInInteger:
		f, err := strconv.ParseFloat(b.numAcc, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case modeEnd:
		return b.endValue, true
	default: // modeStart
		return nil, false
	}
}

// NextValidTokens is pure: derived from the current (schema, state).
func (b *Biaser) NextValidTokens() []Token {
	switch b.mode {
	case modeEnd:
		return nil
	case modeInObject:
		return b.objectNextValidTokens()
	case modeInString:
		return b.stringNextValidTokens()
	case modeInArray:
		return b.arrayNextValidTokens()
	case modeInInteger:
		return b.integerNextValidTokens()
	default: // modeStart
		return b.startNextValidTokens()
	}
}

func (b *Biaser) startNextValidTokens() []Token {
	switch b.schema.Type {
	case KindBoolean:
		return []Token{True(), False()}
	case KindNull:
		return []Token{Null()}
	case KindObject:
		return []Token{CurlyOpen()}
	case KindString:
		return []Token{DoubleQuote()}
	case KindArray:
		return []Token{BracketOpen()}
	case KindNumber:
		var digits []Token
		for d := 1; d <= 9; d++ {
			df := float64(d)
			if b.schema.Max != nil && df > *b.schema.Max {
				continue
			}
			if b.schema.Min != nil && df < *b.schema.Min {
				continue
			}
			digits = append(digits, Digit(d))
		}
		minAllowsNeg := b.schema.Min == nil || *b.schema.Min < 0
		maxAllowsNeg := b.schema.Max == nil || *b.schema.Max < 0
		if minAllowsNeg || maxAllowsNeg {
			digits = append(digits, Minus())
		}
		return digits
	default:
		return nil
	}
}

func (b *Biaser) stringNextValidTokens() []Token {
	var maxNext *int
	if b.schema.MaxLength != nil {
		n := *b.schema.MaxLength - len(b.strAcc)
		maxNext = &n
		if n == 0 {
			return []Token{DoubleQuote()}
		}
	}

	if b.schema.Enum != nil {
		hasValid := false
		var remainders []string
		for _, v := range b.schema.Enum {
			if b.schema.MaxLength != nil && len(v) > *b.schema.MaxLength {
				continue
			}
			if v == b.strAcc {
				hasValid = true
				continue
			}
			if strings.HasPrefix(v, b.strAcc) {
				remainders = append(remainders, strings.TrimPrefix(v, b.strAcc))
			}
		}
		var out []Token
		if len(remainders) > 0 {
			out = append(out, AnyOf(remainders))
		}
		if hasValid {
			out = append(out, DoubleQuote())
		}
		return out
	}

	return []Token{DoubleQuote(), AnyString(maxNext)}
}

func (b *Biaser) arrayNextValidTokens() []Token {
	valid := b.arrInner.NextValidTokens()
	if b.arrInner.CanEnd() {
		maxItems := b.schema.MaxItems
		if maxItems == nil || len(b.arrItems)+1 < *maxItems {
			valid = append(valid, Comma())
		}
		minItems := 0
		if b.schema.MinItems != nil {
			minItems = *b.schema.MinItems
		}
		if len(b.arrItems)+1 >= minItems {
			valid = append(valid, BracketClose())
		}
	}
	return valid
}

func (b *Biaser) integerNextValidTokens() []Token {
	maxDecimals := 0
	if b.schema.MaxDecimals != nil {
		maxDecimals = *b.schema.MaxDecimals
	}
	hasDecimal := strings.Contains(b.numAcc, ".")

	if hasDecimal && maxDecimals > 0 {
		decimals := strings.SplitN(b.numAcc, ".", 2)[1]
		if len(decimals) >= maxDecimals {
			return nil
		}
	}

	lowDigit := 0
	if b.numAcc == "-" {
		lowDigit = 1
	}
	var digits []Token
	for d := lowDigit; d <= 9; d++ {
		digits = append(digits, Digit(d))
	}

	if v, err := strconv.ParseFloat(b.numAcc, 64); err == nil {
		if v >= float64(math.MaxUint32) {
			return nil
		}
		if b.schema.Max != nil {
			if v >= *b.schema.Max {
				return nil
			}
			digits = filterDigits(digits, func(d int) bool {
				nv, err := strconv.ParseFloat(b.numAcc+strconv.Itoa(d), 64)
				return err == nil && nv <= *b.schema.Max
			})
		}
		if b.schema.Min != nil {
			if v <= *b.schema.Min {
				return nil
			}
			digits = filterDigits(digits, func(d int) bool {
				nv, err := strconv.ParseFloat(b.numAcc+strconv.Itoa(d), 64)
				return err == nil && nv >= *b.schema.Min
			})
		}
	}

	if !hasDecimal && maxDecimals > 0 {
		digits = append(digits, Decimal())
	}
	return digits
}

func filterDigits(in []Token, keep func(d int) bool) []Token {
	out := in[:0]
	for _, t := range in {
		if keep(t.Digit) {
			out = append(out, t)
		}
	}
	return out
}

func (b *Biaser) remainingRequiredKeys() []string {
	var out []string
	for _, r := range b.objSchema.Required {
		if _, ok := b.soFar[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}

func (b *Biaser) objectNextValidTokens() []Token {
	switch b.partMode {
	case partFinished:
		return nil
	case partBeforeKey:
		if len(b.remainingRequiredKeys()) == 0 {
			return []Token{CurlyClose()}
		}
		return []Token{DoubleQuote()}
	case partInKey:
		rk := b.remainingRequiredKeys()
		nextKey := rk[0]
		remainder := strings.TrimPrefix(nextKey, b.keyAcc)
		if !strings.HasPrefix(nextKey, b.keyAcc) {
			remainder = ""
		}
		if remainder == "" {
			return []Token{DoubleQuote()}
		}
		return []Token{AnyOf([]string{remainder})}
	case partAfterKey:
		return []Token{Colon()}
	case partInValue:
		valid := b.valueBiaser.NextValidTokens()
		if b.valueBiaser.CanEnd() {
			if len(b.remainingRequiredKeys()) == 1 {
				valid = append(valid, CurlyClose())
			} else {
				valid = append(valid, Comma())
			}
		}
		return valid
	}
	return nil
}

// Advance consumes input, transitioning state. It fails with an
// *InvalidTokenError if input is not among NextValidTokens' semantics; this
// only happens on a caller bug (see InvalidTokenError). An AnyOf token, as
// proposed by NextValidTokens, is consumed as its first suffix; an AnyString
// token names no concrete text and is rejected.
func (b *Biaser) Advance(input Token) error {
	if input.Kind == TokenAnyOf && len(input.Suffixes) > 0 {
		input = StringFragment(input.Suffixes[0])
	}
	switch b.mode {
	case modeStart:
		return b.advanceStart(input)
	case modeInString:
		return b.advanceInString(input)
	case modeInInteger:
		return b.advanceInInteger(input)
	case modeInObject:
		return b.advanceInObject(input)
	case modeInArray:
		return b.advanceInArray(input)
	default: // modeEnd
		return invalidTokenErr(input)
	}
}

func (b *Biaser) advanceStart(input Token) error {
	switch input.Kind {
	case TokenTrue:
		b.mode, b.endValue = modeEnd, true
	case TokenFalse:
		b.mode, b.endValue = modeEnd, false
	case TokenNull:
		b.mode, b.endValue = modeEnd, nil
	case TokenCurlyOpen:
		item := b.childItemSchema()
		if item == nil {
			return invalidTokenErr(input)
		}
		b.mode = modeInObject
		b.objSchema = item
		b.soFar = map[string]any{}
		b.partMode = partBeforeKey
	case TokenBracketOpen:
		item := b.childItemSchema()
		if item == nil {
			return invalidTokenErr(input)
		}
		b.mode = modeInArray
		b.arrItems = nil
		b.arrInner = New(item)
	case TokenMinus:
		b.mode, b.numAcc = modeInInteger, "-"
	case TokenDigit:
		b.mode, b.numAcc = modeInInteger, strconv.Itoa(input.Digit)
	case TokenDoubleQuote:
		b.mode, b.strAcc = modeInString, ""
	default:
		return invalidTokenErr(input)
	}
	return nil
}

func (b *Biaser) advanceInString(input Token) error {
	if input.Kind == TokenDoubleQuote {
		b.mode = modeEnd
		b.endValue = b.strAcc
		return nil
	}
	txt, ok := input.Literal()
	if !ok {
		return invalidTokenErr(input)
	}
	b.strAcc += txt
	return nil
}

func (b *Biaser) advanceInInteger(input Token) error {
	switch input.Kind {
	case TokenDigit:
		b.numAcc += strconv.Itoa(input.Digit)
	case TokenDecimal:
		b.numAcc += "."
	default:
		return invalidTokenErr(input)
	}
	return nil
}

func (b *Biaser) advanceInArray(input Token) error {
	if input.Kind == TokenComma && b.arrInner.CanEnd() {
		if v, ok := b.arrInner.Value(); ok {
			b.arrItems = append(b.arrItems, v)
		}
		b.arrInner = New(b.arrInner.schema)
		return nil
	}
	if input.Kind == TokenBracketClose && b.arrInner.CanEnd() {
		if v, ok := b.arrInner.Value(); ok {
			b.arrItems = append(b.arrItems, v)
		}
		b.mode = modeEnd
		b.endValue = append([]any{}, b.arrItems...)
		return nil
	}
	if err := b.arrInner.Advance(input); err != nil {
		return invalidTokenErr(input)
	}
	return nil
}

func (b *Biaser) advanceInObject(input Token) error {
	switch b.partMode {
	case partBeforeKey:
		switch input.Kind {
		case TokenCurlyClose:
			b.partMode = partFinished
			return nil
		case TokenDoubleQuote:
			b.partMode, b.keyAcc = partInKey, ""
			return nil
		}
		return invalidTokenErr(input)
	case partInKey:
		switch input.Kind {
		case TokenDoubleQuote:
			b.pendingKey = b.keyAcc
			b.partMode = partAfterKey
			return nil
		case TokenStringFragment:
			b.keyAcc += input.Text
			return nil
		}
		return invalidTokenErr(input)
	case partAfterKey:
		if input.Kind != TokenColon {
			return invalidTokenErr(input)
		}
		prop, ok := b.objSchema.Properties[b.pendingKey]
		if !ok {
			return fmt.Errorf("schema: key %q has no matching property", b.pendingKey)
		}
		b.valueKey = b.pendingKey
		b.valueBiaser = New(prop)
		b.partMode = partInValue
		return nil
	case partInValue:
		if input.Kind == TokenComma && b.valueBiaser.CanEnd() {
			v, _ := b.valueBiaser.Value()
			b.soFar[b.valueKey] = v
			b.partMode = partBeforeKey
			return nil
		}
		if input.Kind == TokenCurlyClose && b.valueBiaser.CanEnd() && len(b.remainingRequiredKeys()) == 1 {
			v, _ := b.valueBiaser.Value()
			b.soFar[b.valueKey] = v
			b.partMode = partFinished
			return nil
		}
		if err := b.valueBiaser.Advance(input); err != nil {
			return invalidTokenErr(input)
		}
		return nil
	default: // partFinished
		return invalidTokenErr(input)
	}
}
