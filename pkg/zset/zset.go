package zset

import (
	"fmt"
	"sort"
)

// ZSet implements weighted changesets over tuples. Tuples are keyed by their
// canonical JSON representation since they are not directly comparable.
type ZSet struct {
	tuples  map[string]Tuple // JSON key -> original tuple
	weights map[string]int   // JSON key -> weight
}

// ZSetError wraps errors raised by changeset operations.
type ZSetError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ZSetError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ZSetError) Unwrap() error { return e.Cause }

func newZSetError(message string, cause error) error {
	return &ZSetError{Message: message, Cause: cause}
}

// New creates an empty ZSet.
func New() *ZSet {
	return &ZSet{
		tuples:  make(map[string]Tuple),
		weights: make(map[string]int),
	}
}

// Singleton creates a ZSet containing a single tuple with weight 1.
func Singleton(t Tuple) (*ZSet, error) {
	zs := New()
	if err := zs.AddTupleMutate(t, 1); err != nil {
		return nil, err
	}
	return zs, nil
}

// FromTuples creates a ZSet from a slice of tuples, each with weight 1.
func FromTuples(ts []Tuple) (*ZSet, error) {
	result := New()
	for i, t := range ts {
		if err := result.AddTupleMutate(t, 1); err != nil {
			return nil, newZSetError(fmt.Sprintf("failed to add tuple at index %d", i), err)
		}
	}
	return result, nil
}

// AddTuple adds a tuple with the given weight and returns a new ZSet. The
// receiver is not modified.
func (zs *ZSet) AddTuple(t Tuple, weight int) (*ZSet, error) {
	result := zs.ShallowCopy()
	err := result.AddTupleMutate(t, weight)
	return result, err
}

// AddTupleMutate adds a tuple with the given weight in place. This is the
// core operation for building Z-sets; entries that reach weight zero are
// dropped.
func (zs *ZSet) AddTupleMutate(t Tuple, weight int) error {
	if weight == 0 {
		return nil
	}

	key, err := computeKey(t)
	if err != nil {
		return err
	}

	if _, exists := zs.weights[key]; exists {
		zs.weights[key] += weight
	} else {
		zs.tuples[key] = t
		zs.weights[key] = weight
	}

	if zs.weights[key] == 0 {
		delete(zs.weights, key)
		delete(zs.tuples, key)
	}

	return nil
}

// Add performs Z-set addition (union with weights).
func (zs *ZSet) Add(other *ZSet) (*ZSet, error) {
	if other == nil {
		return zs.DeepCopy(), nil
	}

	result := zs.DeepCopy()
	for key, weight := range other.weights {
		if err := result.AddTupleMutate(other.tuples[key], weight); err != nil {
			return nil, newZSetError("failed to add tuple during Z-set addition", err)
		}
	}

	return result, nil
}

// AddMutate adds another Z-set to the receiver in place.
func (zs *ZSet) AddMutate(other *ZSet) error {
	if other == nil {
		return nil
	}
	for key, weight := range other.weights {
		if err := zs.AddTupleMutate(other.tuples[key], weight); err != nil {
			return newZSetError("failed to add tuple during Z-set addition", err)
		}
	}
	return nil
}

// Subtract performs Z-set subtraction.
func (zs *ZSet) Subtract(other *ZSet) (*ZSet, error) {
	if other == nil {
		return zs.DeepCopy(), nil
	}

	result := zs.DeepCopy()
	for key, weight := range other.weights {
		if err := result.AddTupleMutate(other.tuples[key], -weight); err != nil {
			return nil, newZSetError("failed to subtract tuple during Z-set subtraction", err)
		}
	}

	return result, nil
}

// ShallowCopy copies the maps but shares tuple references.
func (zs *ZSet) ShallowCopy() *ZSet {
	result := &ZSet{
		tuples:  make(map[string]Tuple, len(zs.tuples)),
		weights: make(map[string]int, len(zs.weights)),
	}
	for key, t := range zs.tuples {
		result.tuples[key] = t
	}
	for key, w := range zs.weights {
		result.weights[key] = w
	}
	return result
}

// DeepCopy creates a deep copy of the ZSet.
func (zs *ZSet) DeepCopy() *ZSet {
	result := &ZSet{
		tuples:  make(map[string]Tuple, len(zs.tuples)),
		weights: make(map[string]int, len(zs.weights)),
	}
	for key, t := range zs.tuples {
		result.tuples[key] = DeepCopyTuple(t)
		result.weights[key] = zs.weights[key]
	}
	return result
}

// Entry represents a tuple with its weight in a Z-set.
type Entry struct {
	Tuple  Tuple
	Weight int
}

// Entries returns all entries (including negative weights) in a deterministic
// order sorted by canonical tuple key.
func (zs *ZSet) Entries() []Entry {
	keys := make([]string, 0, len(zs.weights))
	for key := range zs.weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Entry, 0, len(keys))
	for _, key := range keys {
		result = append(result, Entry{
			Tuple:  DeepCopyTuple(zs.tuples[key]),
			Weight: zs.weights[key],
		})
	}
	return result
}

// Weight returns the weight of a specific tuple, zero if absent.
func (zs *ZSet) Weight(t Tuple) (int, error) {
	key, err := computeKey(t)
	if err != nil {
		return 0, newZSetError("failed to compute tuple key", err)
	}
	return zs.weights[key], nil
}

// Contains checks if a tuple is present with positive weight.
func (zs *ZSet) Contains(t Tuple) (bool, error) {
	w, err := zs.Weight(t)
	if err != nil {
		return false, err
	}
	return w > 0, nil
}

// IsZero checks if the Z-set is the group identity (no stored entries).
func (zs *ZSet) IsZero() bool {
	return len(zs.weights) == 0
}

// Size returns the number of tuples counting only positive weights.
func (zs *ZSet) Size() int {
	total := 0
	for _, w := range zs.weights {
		if w > 0 {
			total += w
		}
	}
	return total
}

// UniqueCount returns the number of distinct tuples with positive weight.
func (zs *ZSet) UniqueCount() int {
	count := 0
	for _, w := range zs.weights {
		if w > 0 {
			count++
		}
	}
	return count
}

// Equal reports whether two Z-sets contain the same tuples with the same
// weights.
func (zs *ZSet) Equal(other *ZSet) bool {
	if other == nil {
		return zs.IsZero()
	}
	if len(zs.weights) != len(other.weights) {
		return false
	}
	for key, w := range zs.weights {
		if other.weights[key] != w {
			return false
		}
	}
	return true
}

// String returns a string representation of the Z-set for debugging.
func (zs *ZSet) String() string {
	if zs.IsZero() {
		return "∅"
	}

	result := "{"
	for i, e := range zs.Entries() {
		if i > 0 {
			result += ", "
		}
		result += fmt.Sprintf("%v×%d", e.Tuple, e.Weight)
	}
	return result + "}"
}
