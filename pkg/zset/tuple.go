package zset

import (
	"encoding/json"
	"fmt"
)

// Tuple is an ordered record of field values. Field kinds are declared by the
// stream's Schema; equality is structural, via a canonical JSON key.
type Tuple []any

// computeKey creates a deterministic JSON representation for tuple identity.
// This is the function that defines tuple equality.
func computeKey(t Tuple) (string, error) {
	canonical := make([]any, len(t))
	for i, v := range t {
		c, err := canonicalValue(v)
		if err != nil {
			return "", newZSetError(fmt.Sprintf("failed to canonicalize field at index %d", i), err)
		}
		canonical[i] = c
	}

	bytes, err := json.Marshal(canonical)
	if err != nil {
		return "", newZSetError("failed to marshal tuple to JSON", err)
	}

	return string(bytes), nil
}

// canonicalValue normalizes a field value so that structurally equal tuples
// always produce the same JSON key. Integer variants collapse to int64 and
// float variants to float64.
func canonicalValue(val any) (any, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case int64, float64, string, bool, nil:
		return v, nil
	case Tuple:
		result := make([]any, len(v))
		for i, subVal := range v {
			c, err := canonicalValue(subVal)
			if err != nil {
				return nil, err
			}
			result[i] = c
		}
		return result, nil
	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			c, err := canonicalValue(subVal)
			if err != nil {
				return nil, err
			}
			result[i] = c
		}
		return result, nil
	default:
		return nil, newZSetError(fmt.Sprintf("unsupported field type %T", val), nil)
	}
}

// KeyString creates a deterministic JSON representation of an arbitrary
// value, used for grouping and join keys.
func KeyString(val any) (string, error) {
	c, err := canonicalValue(val)
	if err != nil {
		return "", err
	}
	bytes, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal key to JSON: %w", err)
	}
	return string(bytes), nil
}

// DeepCopyTuple creates a deep copy of a tuple.
func DeepCopyTuple(t Tuple) Tuple {
	if t == nil {
		return nil
	}
	result := make(Tuple, len(t))
	for i, v := range t {
		result[i] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(val any) any {
	switch v := val.(type) {
	case Tuple:
		return DeepCopyTuple(v)
	case []any:
		result := make([]any, len(v))
		for i, subVal := range v {
			result[i] = deepCopyValue(subVal)
		}
		return result
	default:
		// Primitives can be copied directly.
		return v
	}
}

// TupleEqual checks if two tuples are equal using canonical JSON comparison.
func TupleEqual(a, b Tuple) (bool, error) {
	keyA, err := computeKey(a)
	if err != nil {
		return false, newZSetError("failed to compute key for first tuple", err)
	}

	keyB, err := computeKey(b)
	if err != nil {
		return false, newZSetError("failed to compute key for second tuple", err)
	}

	return keyA == keyB, nil
}

// ConcatTuples appends the fields of b after the fields of a. This is the
// default combiner for joins.
func ConcatTuples(a, b Tuple) Tuple {
	result := make(Tuple, 0, len(a)+len(b))
	result = append(result, a...)
	result = append(result, b...)
	return result
}
