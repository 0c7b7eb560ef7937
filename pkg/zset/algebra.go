package zset

import (
	"fmt"
)

// Predicate decides whether a tuple passes a filter.
type Predicate func(Tuple) (bool, error)

// MapFunc transforms a tuple into another tuple.
type MapFunc func(Tuple) (Tuple, error)

// KeyFunc extracts a join or grouping key from a tuple.
type KeyFunc func(Tuple) (any, error)

// CombineFunc merges a matching pair of join inputs into an output tuple.
type CombineFunc func(left, right Tuple) Tuple

// FieldKey returns a KeyFunc extracting the field at the given index.
func FieldKey(index int) KeyFunc {
	return func(t Tuple) (any, error) {
		if index < 0 || index >= len(t) {
			return nil, fmt.Errorf("key field index %d out of range for tuple of arity %d", index, len(t))
		}
		return t[index], nil
	}
}

// Union adds weights per tuple, dropping zero results.
func Union(a, b *ZSet) (*ZSet, error) {
	return a.Add(b)
}

// Negate flips the sign of every weight.
func Negate(a *ZSet) (*ZSet, error) {
	return New().Subtract(a)
}

// Scale multiplies every weight by the integer k.
func Scale(a *ZSet, k int) (*ZSet, error) {
	result := New()
	if k == 0 {
		return result, nil
	}
	for key, w := range a.weights {
		if err := result.AddTupleMutate(a.tuples[key], w*k); err != nil {
			return nil, newZSetError("failed to add tuple during scaling", err)
		}
	}
	return result, nil
}

// Filter keeps entries whose tuple satisfies the predicate, weights
// unchanged.
func Filter(a *ZSet, pred Predicate) (*ZSet, error) {
	result := New()
	for key, w := range a.weights {
		t := a.tuples[key]
		ok, err := pred(t)
		if err != nil {
			return nil, fmt.Errorf("predicate evaluation failed: %w", err)
		}
		if !ok {
			continue
		}
		if err := result.AddTupleMutate(t, w); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Map replaces each tuple with f(tuple). Distinct inputs mapping to the same
// output merge their weights, preserving the group homomorphism property.
func Map(a *ZSet, f MapFunc) (*ZSet, error) {
	result := New()
	for key, w := range a.weights {
		mapped, err := f(a.tuples[key])
		if err != nil {
			return nil, fmt.Errorf("map evaluation failed: %w", err)
		}
		if err := result.AddTupleMutate(mapped, w); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Join emits combine(a, b) with weight weight(a)*weight(b) for every pair
// with matching keys. Bilinear: distributes over Union in each argument
// independently, which is what makes the incremental join possible.
func Join(a, b *ZSet, keyA, keyB KeyFunc, combine CombineFunc) (*ZSet, error) {
	if combine == nil {
		combine = ConcatTuples
	}

	// Index the right side by join key.
	index := make(map[string][]Entry)
	for key, w := range b.weights {
		t := b.tuples[key]
		k, err := keyB(t)
		if err != nil {
			return nil, fmt.Errorf("right key extraction failed: %w", err)
		}
		jk, err := KeyString(k)
		if err != nil {
			return nil, err
		}
		index[jk] = append(index[jk], Entry{Tuple: t, Weight: w})
	}

	result := New()
	for key, wa := range a.weights {
		t := a.tuples[key]
		k, err := keyA(t)
		if err != nil {
			return nil, fmt.Errorf("left key extraction failed: %w", err)
		}
		jk, err := KeyString(k)
		if err != nil {
			return nil, err
		}

		for _, e := range index[jk] {
			// Bilinear: multiply weights.
			if err := result.AddTupleMutate(combine(t, e.Tuple), wa*e.Weight); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

// Distinct converts a Z-set to set semantics: each tuple with positive
// accumulated weight appears with weight 1, everything else is omitted. This
// is the nonlinear, idempotent indicator operator.
func Distinct(a *ZSet) (*ZSet, error) {
	result := New()
	for key, w := range a.weights {
		if w > 0 {
			if err := result.AddTupleMutate(a.tuples[key], 1); err != nil {
				return nil, newZSetError("failed to add tuple during 'distinct' operation", err)
			}
		}
		// Negative weights are filtered out.
	}
	return result, nil
}

// Aggregate partitions by groupKey and reduces each group with the fold,
// emitting one (key, value) tuple per non-empty group with weight 1. Groups
// whose net weight is zero yield no row.
func Aggregate(a *ZSet, groupKey KeyFunc, fold FoldSpec) (*ZSet, error) {
	groups := make(map[string][]Entry)
	originalKeys := make(map[string]any)

	for key, w := range a.weights {
		t := a.tuples[key]
		k, err := groupKey(t)
		if err != nil {
			return nil, fmt.Errorf("group key extraction failed: %w", err)
		}
		gk, err := KeyString(k)
		if err != nil {
			return nil, err
		}
		originalKeys[gk] = k
		groups[gk] = append(groups[gk], Entry{Tuple: t, Weight: w})
	}

	result := New()
	for gk, entries := range groups {
		value, present, err := fold.Apply(entries)
		if err != nil {
			return nil, fmt.Errorf("fold evaluation failed: %w", err)
		}
		if !present {
			continue
		}
		if err := result.AddTupleMutate(Tuple{originalKeys[gk], value}, 1); err != nil {
			return nil, err
		}
	}

	return result, nil
}
