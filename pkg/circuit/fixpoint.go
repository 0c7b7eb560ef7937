package circuit

import (
	"fmt"

	"github.com/zflow-io/zflow/pkg/zset"
)

// scopeDef describes a recursive scope: a sub-circuit iterated to a fixpoint
// within a single external step.
type scopeDef struct {
	name      string
	src       Handle // stream feeding the scope
	rec       Handle // the scope's recursive input node
	result    Handle
	bound     int
	members   []Handle // creation order, a valid schedule within the scope
	externals []Handle // outer streams referenced by members, src excluded
}

// scopeInputOp is the recursive entry of a scope. The stepper stages the
// current frontier delta on it for every iteration.
type scopeInputOp struct {
	BaseOp
}

func newScopeInput(scope string, schema zset.Schema) *scopeInputOp {
	return &scopeInputOp{BaseOp: NewBaseOp("rec:"+scope, 0, schema)}
}

func (n *scopeInputOp) OpType() OpType { return OpTypeLinear }

func (n *scopeInputOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return zset.New(), nil
}

// Fixpoint declares a recursive scope over the stream src using the
// circuit's default iteration bound. See FixpointBounded.
func (c *Circuit) Fixpoint(src Handle, body func(rec Handle) (Handle, error)) (Handle, error) {
	return c.FixpointBounded(src, c.fixpointBound, body)
}

// FixpointBounded declares a recursive scope: body builds a sub-circuit from
// the recursive handle rec and returns its result. Within one external step
// the scope is iterated semi-naively: rec carries src's delta on the first
// iteration and the previous iteration's result delta afterwards, until the
// delta becomes empty or the iteration bound is hit (reported as a
// FixpointError, never silently truncated).
//
// Scope operators must be monotone so the iteration terminates; aggregation
// nodes are rejected structurally, the rest is the declared contract. Outer
// streams referenced inside the body contribute their delta on the first
// iteration only; a step where only outer streams fired still runs that
// iteration so their changes reach the scope's state.
func (c *Circuit) FixpointBounded(src Handle, bound int, body func(rec Handle) (Handle, error)) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	if c.building >= 0 {
		return 0, fmt.Errorf("nested recursive scopes are not supported")
	}
	srcNode, err := c.resolve(src)
	if err != nil {
		return 0, err
	}
	if bound <= 0 {
		bound = c.fixpointBound
	}

	// Construction is transactional: a failing body leaves the circuit
	// unmodified.
	nodeMark := len(c.nodes)
	s := &scopeDef{
		name:  fmt.Sprintf("scope_%d", len(c.scopes)),
		src:   src,
		bound: bound,
	}
	c.scopes = append(c.scopes, s)
	c.building = len(c.scopes) - 1

	s.rec = c.addNode(newScopeInput(s.name, srcNode.op.Schema()))
	result, err := body(s.rec)

	c.building = -1
	if err == nil {
		err = c.validateScope(s, result)
	}
	if err != nil {
		c.nodes = c.nodes[:nodeMark]
		c.scopes = c.scopes[:len(c.scopes)-1]
		return 0, err
	}

	s.result = result
	s.externals = c.scopeExternals(s)
	return result, nil
}

// scopeExternals collects the outer streams the scope's members read. The
// scheduler orders the whole scope after them so their deltas exist when the
// fixpoint loop starts.
func (c *Circuit) scopeExternals(s *scopeDef) []Handle {
	inScope := make(map[Handle]bool, len(s.members))
	for _, m := range s.members {
		inScope[m] = true
	}

	var externals []Handle
	seen := map[Handle]bool{s.src: true}
	for _, m := range s.members {
		for _, in := range c.nodes[m].inputs {
			if inScope[in] || seen[in] {
				continue
			}
			seen[in] = true
			externals = append(externals, in)
		}
	}
	return externals
}

func (c *Circuit) validateScope(s *scopeDef, result Handle) error {
	inScope := false
	for _, m := range s.members {
		if m == result {
			inScope = true
		}
		if _, ok := c.nodes[m].op.(*AggregateOp); ok {
			return fmt.Errorf("scope %s: aggregation is not monotone and cannot appear in a recursive scope", s.name)
		}
	}
	if !inScope {
		return fmt.Errorf("scope %s: result handle %d was not built inside the scope", s.name, int(result))
	}
	return nil
}

// runScope executes one scope's fixpoint loop within the current step.
// deltas is the step-wide delta table; on success the scope members' entries
// hold their deltas accumulated over all iterations.
func (st *Stepper) runScope(s *scopeDef, deltas []*zset.ZSet) error {
	c := st.circuit

	totals := make(map[Handle]*zset.ZSet, len(s.members))
	for _, m := range s.members {
		totals[m] = zset.New()
	}

	frontier := deltas[s.src]
	outerFired := false
	for _, ext := range s.externals {
		if !deltas[ext].IsZero() {
			outerFired = true
			break
		}
	}

	for iter := 0; ; iter++ {
		// Outer streams enter on the first iteration, so a step where only
		// they fired still has to run it before converging.
		if frontier.IsZero() && (iter > 0 || !outerFired) {
			st.log.V(3).Info("scope converged", "scope", s.name, "iterations", iter)
			break
		}
		if iter >= s.bound {
			return &FixpointError{Scope: s.name, Iterations: s.bound}
		}

		iterDeltas := make(map[Handle]*zset.ZSet, len(s.members))
		iterDeltas[s.rec] = frontier

		for _, m := range s.members {
			if m == s.rec {
				continue
			}
			n := c.nodes[m]
			ins := make([]*zset.ZSet, len(n.inputs))
			for i, in := range n.inputs {
				if d, ok := iterDeltas[in]; ok {
					ins[i] = d
					continue
				}
				// Outer stream: its delta enters the scope once.
				if iter == 0 {
					ins[i] = deltas[in]
				} else {
					ins[i] = zset.New()
				}
			}

			out, err := n.op.Process(ins...)
			if err != nil {
				return fmt.Errorf("operator %s failed in scope %s: %w", n.op.Name(), s.name, err)
			}
			iterDeltas[m] = out
		}

		for _, m := range s.members {
			if err := totals[m].AddMutate(iterDeltas[m]); err != nil {
				return err
			}
		}

		frontier = iterDeltas[s.result]
	}

	for _, m := range s.members {
		deltas[m] = totals[m]
	}
	return nil
}
