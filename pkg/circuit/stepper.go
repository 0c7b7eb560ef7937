package circuit

import (
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/zflow-io/zflow/pkg/zset"
)

// Row is one externally supplied change: a tuple plus a weight. A zero
// weight means the default +1 (an insertion); -1 retracts a previously
// inserted row.
type Row struct {
	Tuple  zset.Tuple `json:"tuple"`
	Weight int        `json:"weight,omitempty"`
}

// Snapshot is the fully materialized state of an operator: all weights are
// non-negative. The type is distinct from Delta so callers cannot treat one
// as the other.
type Snapshot struct {
	zs *zset.ZSet
}

// ZSet returns the snapshot's changeset.
func (s Snapshot) ZSet() *zset.ZSet {
	if s.zs == nil {
		return zset.New()
	}
	return s.zs
}

// Delta is a change produced by a step; weights may be negative.
type Delta struct {
	zs *zset.ZSet
}

// ZSet returns the delta's changeset.
func (d Delta) ZSet() *zset.ZSet {
	if d.zs == nil {
		return zset.New()
	}
	return d.zs
}

// Stepper drives a circuit one logical time step at a time. It owns the
// per-operator materialized snapshots and last-step deltas; steps are serial
// and atomic.
type Stepper struct {
	mu      sync.Mutex
	circuit *Circuit
	log     logr.Logger

	currents   []*zset.ZSet // integrated state per operator
	lastDeltas []*zset.ZSet // delta of the most recent step per operator
	steps      int
}

// NewStepper freezes the circuit and prepares it for execution.
func NewStepper(c *Circuit) (*Stepper, error) {
	if err := c.freeze(); err != nil {
		return nil, err
	}

	st := &Stepper{
		circuit:    c,
		log:        c.log,
		currents:   make([]*zset.ZSet, len(c.nodes)),
		lastDeltas: make([]*zset.ZSet, len(c.nodes)),
	}
	for i := range c.nodes {
		st.currents[i] = zset.New()
		st.lastDeltas[i] = zset.New()
	}
	return st, nil
}

// Step applies one round of input deltas and returns the deltas observed at
// the marked outputs. The step is atomic: validation happens before any
// state mutation, and a failing operator or non-convergent scope rolls every
// stateful operator back.
func (st *Stepper) Step(inputs map[string][]Row) (map[string]Delta, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	c := st.circuit

	// Phase 1: validate all supplied rows against their declared schemas
	// before touching any state.
	staged := make(map[Handle]*zset.ZSet, len(inputs))
	for name, rows := range inputs {
		h, ok := c.inputs[name]
		if !ok {
			return nil, &UnknownInputError{Name: name}
		}
		schema := c.nodes[h].op.Schema()

		zs := zset.New()
		for _, row := range rows {
			t, err := schema.Validate(row.Tuple)
			if err != nil {
				return nil, &SchemaError{Input: name, Err: err}
			}
			weight := row.Weight
			if weight == 0 {
				weight = 1
			}
			if err := zs.AddTupleMutate(t, weight); err != nil {
				return nil, &SchemaError{Input: name, Err: err}
			}
		}
		staged[h] = zs
	}

	// Phase 2: save every stateful operator so a failing step can be
	// rolled back.
	savepoints := make(map[Handle]any)
	for h, n := range c.nodes {
		if s, ok := n.op.(Stateful); ok {
			savepoints[Handle(h)] = s.saveState()
		}
	}

	for h, zs := range staged {
		c.nodes[h].op.(*InputOp).stage(zs)
	}

	// Phase 3: propagate in topological order; scopes run their fixpoint
	// loop in place.
	deltas := make([]*zset.ZSet, len(c.nodes))
	scopeDone := make([]bool, len(c.scopes))

	rollback := func() {
		for h, state := range savepoints {
			c.nodes[h].op.(Stateful).restoreState(state)
		}
		for _, h := range c.inputs {
			c.nodes[h].op.(*InputOp).pending = nil
		}
	}

	for _, h := range c.order {
		n := c.nodes[h]

		if n.scope >= 0 {
			if !scopeDone[n.scope] {
				if err := st.runScope(c.scopes[n.scope], deltas); err != nil {
					rollback()
					return nil, err
				}
				scopeDone[n.scope] = true
			}
			continue
		}

		ins := make([]*zset.ZSet, len(n.inputs))
		for i, in := range n.inputs {
			ins[i] = deltas[in]
		}

		out, err := n.op.Process(ins...)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("operator %s failed: %w", n.op.Name(), err)
		}
		deltas[h] = out
	}

	// Phase 4: commit. Integration goes through fresh copies so a failure
	// here still rolls the step back cleanly.
	merged := make(map[int]*zset.ZSet)
	for h := range c.nodes {
		if deltas[h].IsZero() {
			continue
		}
		zs, err := st.currents[h].Add(deltas[h])
		if err != nil {
			rollback()
			return nil, err
		}
		merged[h] = zs
	}
	for h, zs := range merged {
		st.currents[h] = zs
	}
	for h := range c.nodes {
		st.lastDeltas[h] = deltas[h]
	}
	st.steps++

	result := make(map[string]Delta, len(c.outputs))
	for name, h := range c.outputs {
		result[name] = Delta{zs: deltas[h].DeepCopy()}
	}

	st.log.V(2).Info("step complete", "step", st.steps, "outputs", len(result))
	return result, nil
}

// Current returns the full materialized state of any operator, not only
// outputs. The returned snapshot is a copy; circuit state is never aliased.
func (st *Stepper) Current(h Handle) (Snapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := st.circuit.resolve(h); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{zs: st.currents[h].DeepCopy()}, nil
}

// Delta returns the change the referenced operator produced in the most
// recent step.
func (st *Stepper) Delta(h Handle) (Delta, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := st.circuit.resolve(h); err != nil {
		return Delta{}, err
	}
	return Delta{zs: st.lastDeltas[h].DeepCopy()}, nil
}

// StepCount returns the number of completed steps.
func (st *Stepper) StepCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.steps
}
