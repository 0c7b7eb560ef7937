package circuit

import (
	"fmt"

	"github.com/zflow-io/zflow/pkg/zset"
)

// OpType classifies operators by how they incrementalize.
type OpType int

const (
	OpTypeLinear    OpType = iota // Op^Δ = Op
	OpTypeBilinear                // Op^Δ expands into cross terms (joins)
	OpTypeNonLinear               // Op^Δ needs before/after state (distinct, folds)
)

// String returns a short type label for execution plans.
func (t OpType) String() string {
	switch t {
	case OpTypeLinear:
		return "Linear"
	case OpTypeBilinear:
		return "Bilinear"
	case OpTypeNonLinear:
		return "NonLinear"
	default:
		return "Unknown"
	}
}

// Operator represents a computation node in the circuit.
type Operator interface {
	// Process input deltas and produce the output delta.
	Process(inputs ...*zset.ZSet) (*zset.ZSet, error)
	// Name for debugging and execution plans.
	Name() string
	// Arity is the number of inputs expected.
	Arity() int
	OpType() OpType
	// Schema of the tuples this operator emits.
	Schema() zset.Schema
}

// Stateful is implemented by operators that keep state between steps. The
// stepper saves every stateful operator before a step and restores it when
// the step fails, keeping steps atomic.
type Stateful interface {
	Operator
	saveState() any
	restoreState(state any)
	// Reset drops all accumulated state.
	Reset()
}

// BaseOp carries the common operator identity and input validation.
type BaseOp struct {
	name   string
	arity  int
	schema zset.Schema
}

// NewBaseOp creates the embedded operator base.
func NewBaseOp(name string, arity int, schema zset.Schema) BaseOp {
	return BaseOp{name: name, arity: arity, schema: schema}
}

func (n *BaseOp) Name() string        { return n.name }
func (n *BaseOp) Arity() int          { return n.arity }
func (n *BaseOp) Schema() zset.Schema { return n.schema }

// validateInputs is called at the top of every Process method.
func (n *BaseOp) validateInputs(inputs []*zset.ZSet) error {
	if len(inputs) != n.arity {
		return fmt.Errorf("node %s expects %d inputs, got %d", n.name, n.arity, len(inputs))
	}
	return nil
}
