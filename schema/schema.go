// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package schema describes the JSON Schema subset that the biaser state
// machine (Biaser) can enforce token-by-token, and validates it against the
// invariants the state machine relies on.
package schema

import "fmt"

// Kind identifies the variant of a Schema.
type Kind string

const (
	KindBoolean Kind = "boolean"
	KindNull    Kind = "null"
	KindObject  Kind = "object"
	KindNumber  Kind = "number"
	KindArray   Kind = "array"
	KindString  Kind = "string"
)

// Schema is a tagged sum describing the shape of a JSON value a Biaser is
// allowed to emit. Only the fields relevant to Type are populated; it is
// immutable for the life of any Biaser built from it.
type Schema struct {
	Type Kind `json:"type" yaml:"type"`

	// Object
	Required   []string           `json:"required,omitempty" yaml:"required,omitempty"`
	Properties map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty"`

	// Number
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	MaxDecimals *int     `json:"max_decimals,omitempty" yaml:"max_decimals,omitempty"`

	// Array
	Items    *Schema `json:"items,omitempty" yaml:"items,omitempty"`
	MinItems *int    `json:"min_items,omitempty" yaml:"min_items,omitempty"`
	MaxItems *int    `json:"max_items,omitempty" yaml:"max_items,omitempty"`

	// String
	MaxLength *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Enum      []string `json:"enum,omitempty" yaml:"enum,omitempty"`

	_ struct{}
}

// Validate checks the invariants the biaser state machine assumes hold for
// the lifetime of the schema: required object keys have a matching property,
// numeric/array bounds are internally consistent, and every nested schema is
// itself valid.
func (s *Schema) Validate() error {
	if s == nil {
		return fmt.Errorf("schema: nil schema")
	}
	switch s.Type {
	case KindBoolean, KindNull:
		return nil
	case KindObject:
		if s.Properties == nil {
			s.Properties = map[string]*Schema{}
		}
		for _, name := range s.Required {
			prop, ok := s.Properties[name]
			if !ok {
				return fmt.Errorf("schema: required key %q has no matching property", name)
			}
			if err := prop.Validate(); err != nil {
				return fmt.Errorf("schema: property %q: %w", name, err)
			}
		}
		for name, prop := range s.Properties {
			if _, required := indexOf(s.Required, name); required {
				continue // already validated above
			}
			if err := prop.Validate(); err != nil {
				return fmt.Errorf("schema: property %q: %w", name, err)
			}
		}
		return nil
	case KindNumber:
		if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
			return fmt.Errorf("schema: number min %v > max %v", *s.Min, *s.Max)
		}
		if s.MaxDecimals != nil && *s.MaxDecimals < 0 {
			return fmt.Errorf("schema: number max_decimals must be non-negative")
		}
		return nil
	case KindArray:
		if s.Items == nil {
			return fmt.Errorf("schema: array missing items schema")
		}
		if s.MinItems != nil && s.MaxItems != nil && *s.MinItems > *s.MaxItems {
			return fmt.Errorf("schema: array min_items %d > max_items %d", *s.MinItems, *s.MaxItems)
		}
		return s.Items.Validate()
	case KindString:
		if s.MaxLength != nil && *s.MaxLength < 0 {
			return fmt.Errorf("schema: string max_length must be non-negative")
		}
		if s.Enum != nil && len(s.Enum) == 0 {
			return fmt.Errorf("schema: string enum must be non-empty when set")
		}
		return nil
	default:
		return fmt.Errorf("schema: unknown type %q", s.Type)
	}
}

func indexOf(l []string, s string) (int, bool) {
	for i, v := range l {
		if v == s {
			return i, true
		}
	}
	return -1, false
}
