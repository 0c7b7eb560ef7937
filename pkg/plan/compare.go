package plan

import (
	"fmt"
)

type compareFunc func(have, want any) (bool, error)

// comparator returns a comparison for filter stages. Numeric operands
// compare by value regardless of int or float representation; strings
// compare lexically; bools support only eq and ne.
func comparator(op string) (compareFunc, error) {
	switch op {
	case "eq":
		return func(have, want any) (bool, error) {
			ord, _, err := compare(have, want)
			return err == nil && ord == 0, err
		}, nil
	case "ne":
		return func(have, want any) (bool, error) {
			ord, _, err := compare(have, want)
			return err == nil && ord != 0, err
		}, nil
	case "lt":
		return ordered(op, func(ord int) bool { return ord < 0 }), nil
	case "le":
		return ordered(op, func(ord int) bool { return ord <= 0 }), nil
	case "gt":
		return ordered(op, func(ord int) bool { return ord > 0 }), nil
	case "ge":
		return ordered(op, func(ord int) bool { return ord >= 0 }), nil
	default:
		return nil, fmt.Errorf("unknown comparison op %q", op)
	}
}

func ordered(op string, accept func(int) bool) compareFunc {
	return func(have, want any) (bool, error) {
		ord, orderable, err := compare(have, want)
		if err != nil {
			return false, err
		}
		if !orderable {
			return false, fmt.Errorf("op %q not defined for %T", op, have)
		}
		return accept(ord), nil
	}
}

// compare returns the ordering of have against want (-1, 0, 1) and whether
// the pair is orderable. Unorderable matching types (bools) report equality
// through ord == 0.
func compare(have, want any) (ord int, orderable bool, err error) {
	if hn, herr := toFloat(have); herr == nil {
		wn, werr := toFloat(want)
		if werr != nil {
			return 0, false, fmt.Errorf("cannot compare %T against %T", have, want)
		}
		switch {
		case hn < wn:
			return -1, true, nil
		case hn > wn:
			return 1, true, nil
		default:
			return 0, true, nil
		}
	}

	switch h := have.(type) {
	case string:
		w, ok := want.(string)
		if !ok {
			return 0, false, fmt.Errorf("cannot compare string against %T", want)
		}
		switch {
		case h < w:
			return -1, true, nil
		case h > w:
			return 1, true, nil
		default:
			return 0, true, nil
		}
	case bool:
		w, ok := want.(bool)
		if !ok {
			return 0, false, fmt.Errorf("cannot compare bool against %T", want)
		}
		if h == w {
			return 0, false, nil
		}
		return 1, false, nil
	default:
		return 0, false, fmt.Errorf("cannot compare %T", have)
	}
}

func toFloat(val any) (float64, error) {
	switch v := val.(type) {
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("not numeric")
	}
}
