package zset

import (
	"fmt"
)

// Kind enumerates the field types a schema may declare.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindString
	KindBool
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind converts a kind name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int":
		return KindInt, nil
	case "float":
		return KindFloat, nil
	case "string":
		return KindString, nil
	case "bool":
		return KindBool, nil
	default:
		return 0, fmt.Errorf("unknown field kind %q", s)
	}
}

// Field is a named, typed position in a schema.
type Field struct {
	Name string
	Kind Kind
}

// Schema declares the shape of the tuples on a stream. Schemas are fixed at
// graph-construction time and validated at step boundaries.
type Schema struct {
	Fields []Field
}

// NewSchema builds a schema from a field list.
func NewSchema(fields ...Field) Schema {
	return Schema{Fields: fields}
}

// Arity returns the number of fields.
func (s Schema) Arity() int { return len(s.Fields) }

// FieldIndex returns the position of the named field, or -1.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks a tuple against the schema and returns a normalized copy
// with integer variants collapsed to int64 and float variants to float64. An
// int value supplied for a float field is widened.
func (s Schema) Validate(t Tuple) (Tuple, error) {
	if len(t) != len(s.Fields) {
		return nil, fmt.Errorf("tuple has %d fields, schema declares %d", len(t), len(s.Fields))
	}

	result := make(Tuple, len(t))
	for i, f := range s.Fields {
		v, err := canonicalValue(t[i])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}

		switch f.Kind {
		case KindInt:
			if _, ok := v.(int64); !ok {
				return nil, fmt.Errorf("field %q: expected int, got %T", f.Name, t[i])
			}
		case KindFloat:
			if iv, ok := v.(int64); ok {
				v = float64(iv)
			} else if _, ok := v.(float64); !ok {
				return nil, fmt.Errorf("field %q: expected float, got %T", f.Name, t[i])
			}
		case KindString:
			if _, ok := v.(string); !ok {
				return nil, fmt.Errorf("field %q: expected string, got %T", f.Name, t[i])
			}
		case KindBool:
			if _, ok := v.(bool); !ok {
				return nil, fmt.Errorf("field %q: expected bool, got %T", f.Name, t[i])
			}
		}
		result[i] = v
	}

	return result, nil
}

// Concat appends another schema's fields after this one's, renaming on
// collision so that every field keeps a unique name. Used for join outputs.
func (s Schema) Concat(other Schema) Schema {
	seen := make(map[string]bool, len(s.Fields))
	fields := make([]Field, 0, len(s.Fields)+len(other.Fields))
	for _, f := range s.Fields {
		seen[f.Name] = true
		fields = append(fields, f)
	}
	for _, f := range other.Fields {
		name := f.Name
		for i := 1; seen[name]; i++ {
			name = fmt.Sprintf("%s_%d", f.Name, i)
		}
		seen[name] = true
		fields = append(fields, Field{Name: name, Kind: f.Kind})
	}
	return Schema{Fields: fields}
}

// String returns a compact schema description for debugging.
func (s Schema) String() string {
	result := "("
	for i, f := range s.Fields {
		if i > 0 {
			result += ", "
		}
		result += fmt.Sprintf("%s:%s", f.Name, f.Kind)
	}
	return result + ")"
}
