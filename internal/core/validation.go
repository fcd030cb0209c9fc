package core

// validation.go turns a raw record into a typed, validated StagedRow.
//
// Validate is the single validation path: the initial staging pass, full
// revalidation after a remap, and single-row revalidation after an edit all
// call it. It is pure; identical (schema, mapping, record) input always
// yields an identical row.

import (
	"fmt"
	"strings"
)

// Validate types every schema field of record under mapping.
//
// Required fields that are unmapped or empty produce a Required error.
// Mapped, non-empty cells are coerced to the field type. Optional fields
// with no value take the field default, if any, and are otherwise absent.
// Reserved fields are never populated.
func Validate(schema *Schema, mapping Mapping, record RawRecord) StagedRow {
	row := StagedRow{
		Index:  record.Index,
		Line:   record.Line,
		Values: make(map[string]Value),
	}

	for _, f := range schema.fields {
		if f.Reserved {
			continue
		}

		raw := ""
		if col := mapping.ColumnFor(f.Key); col >= 0 {
			raw = strings.TrimSpace(record.Cell(col))
		}

		if raw == "" {
			if f.Required {
				row.Errors = append(row.Errors, FieldError{
					Field:   f.Key,
					Code:    CodeRequired,
					Message: fmt.Sprintf("%s: %s", CodeRequired, f.Key),
				})
				continue
			}
			if f.HasDefault() {
				if v, ferr := CoerceValue(f, f.Default); ferr == nil {
					v.Defaulted = true
					row.Values[f.Key] = v
				}
			}
			continue
		}

		v, ferr := CoerceValue(f, raw)
		if ferr != nil {
			row.Errors = append(row.Errors, *ferr)
			continue
		}
		row.Values[f.Key] = v
	}

	row.Valid = len(row.Errors) == 0
	return row
}

// CoerceValue converts raw to the type of f. raw must be non-empty.
func CoerceValue(f TargetField, raw string) (Value, *FieldError) {
	switch f.Type {
	case FieldNumber:
		n, ok := ParseNumber(raw)
		if !ok {
			return Value{}, &FieldError{
				Field:   f.Key,
				Code:    CodeInvalidNumber,
				Message: fmt.Sprintf("%s: %s: invalid number format %q", CodeInvalidNumber, f.Key, raw),
			}
		}
		return Value{Kind: FieldNumber, Num: n}, nil

	case FieldBoolean:
		b, ok := ParseBool(raw)
		if !ok {
			return Value{}, &FieldError{
				Field:   f.Key,
				Code:    CodeInvalidBoolean,
				Message: fmt.Sprintf("%s: %s: must be yes/no, true/false, or 1/0 (got %q)", CodeInvalidBoolean, f.Key, raw),
			}
		}
		return Value{Kind: FieldBoolean, Bool: b}, nil

	case FieldEnum:
		for _, allowed := range f.Allowed {
			if strings.EqualFold(allowed, raw) {
				return Value{Kind: FieldEnum, Str: allowed}, nil
			}
		}
		return Value{}, &FieldError{
			Field:   f.Key,
			Code:    CodeInvalidEnum,
			Message: fmt.Sprintf("%s: %s: value %q must be one of: %s", CodeInvalidEnum, f.Key, raw, strings.Join(f.Allowed, ", ")),
		}

	default:
		return Value{Kind: FieldString, Str: raw}, nil
	}
}
