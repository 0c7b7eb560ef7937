package circuit

import (
	"fmt"

	"github.com/zflow-io/zflow/pkg/zset"
)

// DistinctOp is the incremental distinct. Nonlinear: it keeps the exact
// accumulated weight of every tuple and emits on zero crossings only, +1
// when a tuple's weight transitions from <=0 to >0 and -1 on the reverse
// transition, nothing otherwise.
type DistinctOp struct {
	BaseOp
	acc    map[string]int        // tuple key -> accumulated weight
	tuples map[string]zset.Tuple // tuple key -> tuple
}

// NewDistinct creates an incremental distinct node.
func NewDistinct(schema zset.Schema) *DistinctOp {
	return &DistinctOp{
		BaseOp: NewBaseOp("distinct^Δ", 1, schema),
		acc:    make(map[string]int),
		tuples: make(map[string]zset.Tuple),
	}
}

func (op *DistinctOp) OpType() OpType { return OpTypeNonLinear }

func (op *DistinctOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	result := zset.New()
	for _, e := range inputs[0].Entries() {
		key, err := zset.KeyString(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("failed to compute tuple key: %w", err)
		}

		old := op.acc[key]
		cur := old + e.Weight

		switch {
		case old <= 0 && cur > 0:
			if err := result.AddTupleMutate(e.Tuple, 1); err != nil {
				return nil, err
			}
		case old > 0 && cur <= 0:
			if err := result.AddTupleMutate(e.Tuple, -1); err != nil {
				return nil, err
			}
		}

		if cur == 0 {
			delete(op.acc, key)
			delete(op.tuples, key)
		} else {
			op.acc[key] = cur
			op.tuples[key] = e.Tuple
		}
	}

	return result, nil
}

type distinctState struct {
	acc    map[string]int
	tuples map[string]zset.Tuple
}

func (op *DistinctOp) saveState() any {
	acc := make(map[string]int, len(op.acc))
	tuples := make(map[string]zset.Tuple, len(op.tuples))
	for k, w := range op.acc {
		acc[k] = w
	}
	for k, t := range op.tuples {
		tuples[k] = zset.DeepCopyTuple(t)
	}
	return &distinctState{acc: acc, tuples: tuples}
}

func (op *DistinctOp) restoreState(state any) {
	s := state.(*distinctState)
	op.acc = s.acc
	op.tuples = s.tuples
}

// Reset drops the accumulated weights.
func (op *DistinctOp) Reset() {
	op.acc = make(map[string]int)
	op.tuples = make(map[string]zset.Tuple)
}
