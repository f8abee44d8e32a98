// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package schema

import "testing"

func TestValidateRequiredKeyMissingProperty(t *testing.T) {
	s := &Schema{Type: KindObject, Required: []string{"name"}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for required key with no matching property")
	}
}

func TestValidateNumberMinGreaterThanMax(t *testing.T) {
	s := &Schema{Type: KindNumber, Min: f(10), Max: f(1)}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for min > max")
	}
}

func TestValidateArrayMinItemsGreaterThanMaxItems(t *testing.T) {
	s := &Schema{Type: KindArray, Items: &Schema{Type: KindBoolean}, MinItems: i(5), MaxItems: i(1)}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for min_items > max_items")
	}
}

func TestValidateStringEmptyEnum(t *testing.T) {
	s := &Schema{Type: KindString, Enum: []string{}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for empty enum")
	}
}

func TestValidateNestedObjectProperty(t *testing.T) {
	s := &Schema{
		Type:     KindObject,
		Required: []string{"inner"},
		Properties: map[string]*Schema{
			"inner": {Type: KindArray, Items: &Schema{Type: KindBoolean}, MinItems: i(3), MaxItems: i(1)},
		},
	}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error to propagate from nested invalid schema")
	}
}

func TestValidateOkForValidSchema(t *testing.T) {
	s := &Schema{
		Type:     KindObject,
		Required: []string{"a"},
		Properties: map[string]*Schema{
			"a": {Type: KindNumber, Min: f(0), Max: f(10), MaxDecimals: i(2)},
			"b": {Type: KindString, MaxLength: i(5)},
		},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("expected valid schema, got %v", err)
	}
}
