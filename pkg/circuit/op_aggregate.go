package circuit

import (
	"fmt"

	"github.com/zflow-io/zflow/pkg/zset"
)

// AggregateOp is the incremental group-by fold. Each non-empty group
// materializes as one (key, value) tuple with weight 1; a change to a group
// emits a retract-old/insert-new pair.
//
// Linear folds (sum, count) keep an O(1) accumulator per group and never
// rescan. Nonlinear folds (min, max, avg) keep the group's accumulated rows
// and recompute the fold over the touched group only, so the cost is
// proportional to the touched group's size, not the whole changeset.
type AggregateOp struct {
	BaseOp
	groupKey zset.KeyFunc
	fold     zset.FoldSpec
	groups   map[string]*groupState
}

type groupState struct {
	key   any
	accum *zset.FoldAccum // linear folds
	rows  *zset.ZSet      // nonlinear folds
}

func (g *groupState) deepCopy() *groupState {
	c := &groupState{key: g.key}
	if g.accum != nil {
		c.accum = g.accum.Clone()
	}
	if g.rows != nil {
		c.rows = g.rows.DeepCopy()
	}
	return c
}

// value returns the group's current fold result, false when absent.
func (g *groupState) value(fold zset.FoldSpec) (any, bool, error) {
	if g.accum != nil {
		v, ok := g.accum.Value()
		return v, ok, nil
	}
	return fold.Apply(g.rows.Entries())
}

func (g *groupState) update(e zset.Entry) error {
	if g.accum != nil {
		return g.accum.Update(e.Tuple, e.Weight)
	}
	return g.rows.AddTupleMutate(e.Tuple, e.Weight)
}

func (g *groupState) empty() bool {
	if g.accum != nil {
		return g.accum.Empty()
	}
	return g.rows.IsZero()
}

// NewAggregate creates an incremental aggregation node.
func NewAggregate(groupKey zset.KeyFunc, fold zset.FoldSpec, out zset.Schema) *AggregateOp {
	return &AggregateOp{
		BaseOp:   NewBaseOp("γ_"+fold.Op.String(), 1, out),
		groupKey: groupKey,
		fold:     fold,
		groups:   make(map[string]*groupState),
	}
}

func (op *AggregateOp) OpType() OpType {
	if op.fold.Op.IsLinear() {
		return OpTypeLinear
	}
	return OpTypeNonLinear
}

func (op *AggregateOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	// Bucket the delta by group so each touched group emits at most one
	// retract/insert pair.
	touched := make(map[string][]zset.Entry)
	keys := make(map[string]any)
	order := make([]string, 0)

	for _, e := range inputs[0].Entries() {
		k, err := op.groupKey(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("group key extraction failed: %w", err)
		}
		gk, err := zset.KeyString(k)
		if err != nil {
			return nil, fmt.Errorf("failed to compute group key: %w", err)
		}
		if _, seen := touched[gk]; !seen {
			order = append(order, gk)
			keys[gk] = k
		}
		touched[gk] = append(touched[gk], e)
	}

	result := zset.New()
	for _, gk := range order {
		group := op.groups[gk]
		if group == nil {
			group = &groupState{key: keys[gk]}
			if op.fold.Op.IsLinear() {
				group.accum = op.fold.NewAccum()
			} else {
				group.rows = zset.New()
			}
			op.groups[gk] = group
		}

		oldVal, oldPresent, err := group.value(op.fold)
		if err != nil {
			return nil, fmt.Errorf("aggregation of group %v failed: %w", group.key, err)
		}

		for _, e := range touched[gk] {
			if err := group.update(e); err != nil {
				return nil, fmt.Errorf("aggregation of group %v failed: %w", group.key, err)
			}
		}

		newVal, newPresent, err := group.value(op.fold)
		if err != nil {
			return nil, fmt.Errorf("aggregation of group %v failed: %w", group.key, err)
		}

		// Retract the old row, insert the new one; identical rows cancel
		// inside the result changeset.
		if oldPresent {
			if err := result.AddTupleMutate(zset.Tuple{group.key, oldVal}, -1); err != nil {
				return nil, err
			}
		}
		if newPresent {
			if err := result.AddTupleMutate(zset.Tuple{group.key, newVal}, 1); err != nil {
				return nil, err
			}
		}

		if group.empty() {
			delete(op.groups, gk)
		}
	}

	return result, nil
}

type aggregateState struct {
	groups map[string]*groupState
}

func (op *AggregateOp) saveState() any {
	groups := make(map[string]*groupState, len(op.groups))
	for k, g := range op.groups {
		groups[k] = g.deepCopy()
	}
	return &aggregateState{groups: groups}
}

func (op *AggregateOp) restoreState(state any) {
	op.groups = state.(*aggregateState).groups
}

// Reset drops all group state.
func (op *AggregateOp) Reset() {
	op.groups = make(map[string]*groupState)
}
