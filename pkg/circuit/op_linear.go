package circuit

import (
	"github.com/zflow-io/zflow/pkg/zset"
)

// InputOp is the entry point of a stream. The stepper validates supplied rows
// against the declared schema and stages the resulting delta before the
// traversal starts.
type InputOp struct {
	BaseOp
	pending *zset.ZSet
}

// NewInput creates an input node for the named stream.
func NewInput(name string, schema zset.Schema) *InputOp {
	return &InputOp{
		BaseOp: NewBaseOp("input:"+name, 0, schema),
	}
}

func (n *InputOp) OpType() OpType { return OpTypeLinear }

// Process returns the delta staged for the current step, or the empty
// changeset when the input did not fire.
func (n *InputOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	if n.pending == nil {
		return zset.New(), nil
	}
	delta := n.pending
	n.pending = nil
	return delta, nil
}

func (n *InputOp) stage(delta *zset.ZSet) { n.pending = delta }

// MapOp applies a tuple transformation. Stateless and linear: the delta maps
// directly.
type MapOp struct {
	BaseOp
	fn zset.MapFunc
}

// NewMap creates a projection node with the given output schema.
func NewMap(fn zset.MapFunc, out zset.Schema) *MapOp {
	return &MapOp{
		BaseOp: NewBaseOp("π", 1, out),
		fn:     fn,
	}
}

func (n *MapOp) OpType() OpType { return OpTypeLinear }

func (n *MapOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	// Normalize through the output schema so collision merging sees
	// canonical tuples.
	schema := n.Schema()
	return zset.Map(inputs[0], func(t zset.Tuple) (zset.Tuple, error) {
		mapped, err := n.fn(t)
		if err != nil {
			return nil, err
		}
		return schema.Validate(mapped)
	})
}

// FilterOp keeps tuples satisfying a predicate, weights unchanged. Stateless
// and linear.
type FilterOp struct {
	BaseOp
	pred zset.Predicate
}

// NewFilter creates a selection node.
func NewFilter(pred zset.Predicate, schema zset.Schema) *FilterOp {
	return &FilterOp{
		BaseOp: NewBaseOp("σ", 1, schema),
		pred:   pred,
	}
}

func (n *FilterOp) OpType() OpType { return OpTypeLinear }

func (n *FilterOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return zset.Filter(inputs[0], n.pred)
}

// UnionOp adds two streams pointwise. Linear in both arguments.
type UnionOp struct {
	BaseOp
}

// NewUnion creates an addition node.
func NewUnion(schema zset.Schema) *UnionOp {
	return &UnionOp{
		BaseOp: NewBaseOp("+", 2, schema),
	}
}

func (n *UnionOp) OpType() OpType { return OpTypeLinear }

func (n *UnionOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return zset.Union(inputs[0], inputs[1])
}

// OutputOp is a named observation point; it forwards its input unchanged.
type OutputOp struct {
	BaseOp
}

// NewOutput creates an output node.
func NewOutput(name string, schema zset.Schema) *OutputOp {
	return &OutputOp{
		BaseOp: NewBaseOp("output:"+name, 1, schema),
	}
}

func (n *OutputOp) OpType() OpType { return OpTypeLinear }

func (n *OutputOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs[0], nil
}
