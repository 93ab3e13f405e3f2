// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package pipeline

import (
	"context"
	"strconv"
	"strings"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/registry"
)

// Violation is one argument validation failure, located by an RFC 6901
// pointer into the request document.
type Violation struct {
	Pointer string
	Message string
}

// Validator checks a call's arguments against the resolved descriptor. All
// violations are reported in one pass so the caller can fix them together.
type Validator interface {
	Validate(ctx context.Context, fn *registry.Descriptor, arguments map[string]envelope.Value) []Violation
}

// SpecValidator validates arguments against the descriptor's ArgumentSpec
// declarations: presence, type, numeric bounds and length bounds, recursing
// into lists and objects.
type SpecValidator struct{}

// Validate implements Validator.
func (SpecValidator) Validate(ctx context.Context, fn *registry.Descriptor, arguments map[string]envelope.Value) []Violation {
	var violations []Violation

	declared := make(map[string]bool, len(fn.Arguments))
	for i := range fn.Arguments {
		spec := &fn.Arguments[i]
		declared[spec.Name] = true
		pointer := "/call/arguments/" + escapePointer(spec.Name)

		value, ok := arguments[spec.Name]
		if !ok || value.IsAbsent() {
			if spec.Required {
				violations = append(violations, Violation{
					Pointer: pointer,
					Message: "missing required argument " + strconv.Quote(spec.Name),
				})
			}
			continue
		}
		violations = append(violations, checkValue(spec, value, pointer)...)
	}

	for name := range arguments {
		if !declared[name] {
			violations = append(violations, Violation{
				Pointer: "/call/arguments/" + escapePointer(name),
				Message: "unknown argument " + strconv.Quote(name),
			})
		}
	}
	return violations
}

func checkValue(spec *registry.ArgumentSpec, value envelope.Value, pointer string) []Violation {
	if value.IsNull() {
		// explicit null is a value; only type constraints apply
		if spec.Type != "" {
			return []Violation{{Pointer: pointer, Message: "expected " + spec.Type + ", got null"}}
		}
		return nil
	}

	var violations []Violation
	switch spec.Type {
	case "string":
		str, ok := value.AsString()
		if !ok {
			return []Violation{{Pointer: pointer, Message: "expected string"}}
		}
		if spec.MinLength != nil && len(str) < *spec.MinLength {
			violations = append(violations, Violation{
				Pointer: pointer,
				Message: "shorter than the minimum length " + strconv.Itoa(*spec.MinLength),
			})
		}
		if spec.MaxLength != nil && len(str) > *spec.MaxLength {
			violations = append(violations, Violation{
				Pointer: pointer,
				Message: "longer than the maximum length " + strconv.Itoa(*spec.MaxLength),
			})
		}

	case "number", "integer":
		number, ok := value.AsFloat()
		if !ok {
			return []Violation{{Pointer: pointer, Message: "expected " + spec.Type}}
		}
		if spec.Type == "integer" {
			if _, ok := value.AsInt(); !ok {
				return []Violation{{Pointer: pointer, Message: "expected integer"}}
			}
		}
		if spec.Min != nil && number < *spec.Min {
			violations = append(violations, Violation{
				Pointer: pointer,
				Message: "below the minimum " + strconv.FormatFloat(*spec.Min, 'g', -1, 64),
			})
		}
		if spec.Max != nil && number > *spec.Max {
			violations = append(violations, Violation{
				Pointer: pointer,
				Message: "above the maximum " + strconv.FormatFloat(*spec.Max, 'g', -1, 64),
			})
		}

	case "boolean":
		if _, ok := value.AsBool(); !ok {
			return []Violation{{Pointer: pointer, Message: "expected boolean"}}
		}

	case "list":
		list, ok := value.AsList()
		if !ok {
			return []Violation{{Pointer: pointer, Message: "expected list"}}
		}
		if spec.Items != nil {
			for i, element := range list {
				violations = append(violations, checkValue(spec.Items, element, pointer+"/"+strconv.Itoa(i))...)
			}
		}

	case "object":
		object, ok := value.AsObject()
		if !ok {
			return []Violation{{Pointer: pointer, Message: "expected object"}}
		}
		for i := range spec.Fields {
			field := &spec.Fields[i]
			fieldPointer := pointer + "/" + escapePointer(field.Name)
			member, ok := object[field.Name]
			if !ok || member.IsAbsent() {
				if field.Required {
					violations = append(violations, Violation{
						Pointer: fieldPointer,
						Message: "missing required field " + strconv.Quote(field.Name),
					})
				}
				continue
			}
			violations = append(violations, checkValue(field, member, fieldPointer)...)
		}
	}
	return violations
}

// escapePointer escapes a member name per RFC 6901.
func escapePointer(name string) string {
	name = strings.ReplaceAll(name, "~", "~0")
	return strings.ReplaceAll(name, "/", "~1")
}
