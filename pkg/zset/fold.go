package zset

import (
	"fmt"
)

// FoldOp enumerates the supported group reductions.
type FoldOp int

const (
	FoldSum FoldOp = iota
	FoldCount
	FoldMin
	FoldMax
	FoldAvg
)

// IsLinear reports whether the fold commutes with Z-set addition. Linear
// folds incrementalize by applying the fold to the delta directly; nonlinear
// folds need a before/after rescan of the touched group.
func (op FoldOp) IsLinear() bool {
	return op == FoldSum || op == FoldCount
}

// String returns the lowercase fold name.
func (op FoldOp) String() string {
	switch op {
	case FoldSum:
		return "sum"
	case FoldCount:
		return "count"
	case FoldMin:
		return "min"
	case FoldMax:
		return "max"
	case FoldAvg:
		return "avg"
	default:
		return fmt.Sprintf("fold(%d)", int(op))
	}
}

// ParseFoldOp converts a fold name into a FoldOp.
func ParseFoldOp(s string) (FoldOp, error) {
	switch s {
	case "sum":
		return FoldSum, nil
	case "count":
		return FoldCount, nil
	case "min":
		return FoldMin, nil
	case "max":
		return FoldMax, nil
	case "avg":
		return FoldAvg, nil
	default:
		return 0, fmt.Errorf("unknown fold %q", s)
	}
}

// FoldSpec describes how to reduce a group: the operation plus the index of
// the measured field. Count ignores the field.
type FoldSpec struct {
	Op    FoldOp
	Field int
}

// ValueKind returns the kind of the fold result given the measured field's
// kind.
func (f FoldSpec) ValueKind(fieldKind Kind) Kind {
	switch f.Op {
	case FoldCount:
		return KindInt
	case FoldAvg:
		return KindFloat
	default:
		return fieldKind
	}
}

// number holds a numeric accumulator that stays integral until a float is
// seen.
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func (n number) value() any {
	if n.isFloat {
		return n.f
	}
	return n.i
}

func (n number) add(other number) number {
	if n.isFloat || other.isFloat {
		return number{f: n.float() + other.float(), isFloat: true}
	}
	return number{i: n.i + other.i}
}

func (n number) mul(k int) number {
	if n.isFloat {
		return number{f: n.f * float64(k), isFloat: true}
	}
	return number{i: n.i * int64(k)}
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) less(other number) bool {
	return n.float() < other.float()
}

func asNumber(val any) (number, error) {
	switch v := val.(type) {
	case int64:
		return number{i: v}, nil
	case int:
		return number{i: int64(v)}, nil
	case float64:
		return number{f: v, isFloat: true}, nil
	default:
		return number{}, fmt.Errorf("value %v (%T) is not numeric", val, val)
	}
}

func (f FoldSpec) field(t Tuple) (number, error) {
	if f.Field < 0 || f.Field >= len(t) {
		return number{}, fmt.Errorf("fold field index %d out of range for tuple of arity %d", f.Field, len(t))
	}
	return asNumber(t[f.Field])
}

// FoldAccum maintains a linear fold over one group incrementally: updates
// cost O(1) per delta entry and never rescan the group. Only valid for
// linear folds (sum, count).
type FoldAccum struct {
	spec      FoldSpec
	netWeight int
	sum       number
}

// NewAccum creates an incremental accumulator for a linear fold.
func (f FoldSpec) NewAccum() *FoldAccum {
	return &FoldAccum{spec: f}
}

// Update folds one weighted tuple into the accumulator.
func (a *FoldAccum) Update(t Tuple, weight int) error {
	a.netWeight += weight
	if a.spec.Op == FoldSum {
		n, err := a.spec.field(t)
		if err != nil {
			return err
		}
		a.sum = a.sum.add(n.mul(weight))
	}
	return nil
}

// Value returns the current fold result; false when the group has zero net
// weight.
func (a *FoldAccum) Value() (any, bool) {
	if a.netWeight <= 0 {
		return nil, false
	}
	if a.spec.Op == FoldCount {
		return int64(a.netWeight), true
	}
	return a.sum.value(), true
}

// Empty reports whether the accumulator carries no weight at all.
func (a *FoldAccum) Empty() bool {
	return a.netWeight == 0 && a.sum.i == 0 && a.sum.f == 0
}

// Clone copies the accumulator.
func (a *FoldAccum) Clone() *FoldAccum {
	c := *a
	return &c
}

// Apply reduces a group's weighted entries. The second return value is false
// when the group has zero net weight: an absent value, not an error.
func (f FoldSpec) Apply(entries []Entry) (any, bool, error) {
	netWeight := 0
	for _, e := range entries {
		netWeight += e.Weight
	}
	if netWeight <= 0 {
		return nil, false, nil
	}

	switch f.Op {
	case FoldCount:
		return int64(netWeight), true, nil

	case FoldSum:
		var sum number
		for _, e := range entries {
			n, err := f.field(e.Tuple)
			if err != nil {
				return nil, false, err
			}
			sum = sum.add(n.mul(e.Weight))
		}
		return sum.value(), true, nil

	case FoldAvg:
		var sum number
		for _, e := range entries {
			n, err := f.field(e.Tuple)
			if err != nil {
				return nil, false, err
			}
			sum = sum.add(n.mul(e.Weight))
		}
		return sum.float() / float64(netWeight), true, nil

	case FoldMin, FoldMax:
		var best number
		found := false
		for _, e := range entries {
			if e.Weight <= 0 {
				continue
			}
			n, err := f.field(e.Tuple)
			if err != nil {
				return nil, false, err
			}
			if !found {
				best = n
				found = true
				continue
			}
			if (f.Op == FoldMin && n.less(best)) || (f.Op == FoldMax && best.less(n)) {
				best = n
			}
		}
		if !found {
			return nil, false, nil
		}
		return best.value(), true, nil

	default:
		return nil, false, fmt.Errorf("unknown fold operation %v", f.Op)
	}
}
