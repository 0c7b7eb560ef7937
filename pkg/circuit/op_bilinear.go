package circuit

import (
	"fmt"

	"github.com/zflow-io/zflow/pkg/zset"
)

// JoinOp is the snapshot (non-incremental) equi-join. It is kept beside the
// incremental form both as the reference evaluator for equivalence testing
// and as the ΔA⋈ΔB term of the bilinear expansion.
type JoinOp struct {
	BaseOp
	keyLeft  zset.KeyFunc
	keyRight zset.KeyFunc
	combine  zset.CombineFunc
}

// NewJoin creates a snapshot join node.
func NewJoin(keyLeft, keyRight zset.KeyFunc, combine zset.CombineFunc, out zset.Schema) *JoinOp {
	if combine == nil {
		combine = zset.ConcatTuples
	}
	return &JoinOp{
		BaseOp:   NewBaseOp("⋈", 2, out),
		keyLeft:  keyLeft,
		keyRight: keyRight,
		combine:  combine,
	}
}

func (n *JoinOp) OpType() OpType { return OpTypeBilinear }

func (n *JoinOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := n.validateInputs(inputs); err != nil {
		return nil, err
	}
	return zset.Join(inputs[0], inputs[1], n.keyLeft, n.keyRight, n.combine)
}

// sideIndex is one side's accumulated snapshot, bucketed by join key so that
// a delta on the other side only touches matching buckets.
type sideIndex struct {
	key     zset.KeyFunc
	buckets map[string]*zset.ZSet
}

func newSideIndex(key zset.KeyFunc) *sideIndex {
	return &sideIndex{key: key, buckets: make(map[string]*zset.ZSet)}
}

// integrate folds a delta into the index.
func (ix *sideIndex) integrate(delta *zset.ZSet) error {
	for _, e := range delta.Entries() {
		k, err := ix.key(e.Tuple)
		if err != nil {
			return fmt.Errorf("join key extraction failed: %w", err)
		}
		jk, err := zset.KeyString(k)
		if err != nil {
			return err
		}
		bucket := ix.buckets[jk]
		if bucket == nil {
			bucket = zset.New()
			ix.buckets[jk] = bucket
		}
		if err := bucket.AddTupleMutate(e.Tuple, e.Weight); err != nil {
			return err
		}
		if bucket.IsZero() {
			delete(ix.buckets, jk)
		}
	}
	return nil
}

// joinDelta joins a delta from the opposite side against this index.
// combine receives (indexed tuple, delta tuple).
func (ix *sideIndex) joinDelta(delta *zset.ZSet, deltaKey zset.KeyFunc, combine func(indexed, delta zset.Tuple) zset.Tuple) (*zset.ZSet, error) {
	result := zset.New()
	for _, e := range delta.Entries() {
		k, err := deltaKey(e.Tuple)
		if err != nil {
			return nil, fmt.Errorf("join key extraction failed: %w", err)
		}
		jk, err := zset.KeyString(k)
		if err != nil {
			return nil, err
		}
		bucket := ix.buckets[jk]
		if bucket == nil {
			continue
		}
		for _, b := range bucket.Entries() {
			// Bilinear: multiply weights.
			if err := result.AddTupleMutate(combine(b.Tuple, e.Tuple), b.Weight*e.Weight); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func (ix *sideIndex) deepCopy() *sideIndex {
	c := newSideIndex(ix.key)
	for k, bucket := range ix.buckets {
		c.buckets[k] = bucket.DeepCopy()
	}
	return c
}

// IncrementalJoinOp is the incremental equi-join. It keeps both sides'
// accumulated snapshots indexed by join key and emits the three-term
// bilinear expansion
//
//	ΔO = ΔA ⋈ B_old  ⊕  A_old ⋈ ΔB  ⊕  ΔA ⋈ ΔB
//
// before folding the deltas into the snapshots.
type IncrementalJoinOp struct {
	BaseOp
	combine zset.CombineFunc

	// ΔA ⋈ ΔB reuses the snapshot join.
	deltaJoin *JoinOp

	prevLeft  *sideIndex
	prevRight *sideIndex
}

// NewIncrementalJoin creates an incremental join node.
func NewIncrementalJoin(keyLeft, keyRight zset.KeyFunc, combine zset.CombineFunc, out zset.Schema) *IncrementalJoinOp {
	if combine == nil {
		combine = zset.ConcatTuples
	}
	return &IncrementalJoinOp{
		BaseOp:    NewBaseOp("⋈^Δ", 2, out),
		combine:   combine,
		deltaJoin: NewJoin(keyLeft, keyRight, combine, out),
		prevLeft:  newSideIndex(keyLeft),
		prevRight: newSideIndex(keyRight),
	}
}

func (op *IncrementalJoinOp) OpType() OpType { return OpTypeBilinear }

func (op *IncrementalJoinOp) Process(inputs ...*zset.ZSet) (*zset.ZSet, error) {
	if err := op.validateInputs(inputs); err != nil {
		return nil, err
	}

	deltaL, deltaR := inputs[0], inputs[1]

	// Term 1: ΔA ⋈ B_old.
	term1, err := op.prevRight.joinDelta(deltaL, op.prevLeft.key, func(indexed, delta zset.Tuple) zset.Tuple {
		return op.combine(delta, indexed)
	})
	if err != nil {
		return nil, fmt.Errorf("ΔA ⋈ B_old failed: %w", err)
	}

	// Term 2: A_old ⋈ ΔB.
	term2, err := op.prevLeft.joinDelta(deltaR, op.prevRight.key, func(indexed, delta zset.Tuple) zset.Tuple {
		return op.combine(indexed, delta)
	})
	if err != nil {
		return nil, fmt.Errorf("A_old ⋈ ΔB failed: %w", err)
	}

	// Term 3: ΔA ⋈ ΔB.
	term3, err := op.deltaJoin.Process(deltaL, deltaR)
	if err != nil {
		return nil, fmt.Errorf("ΔA ⋈ ΔB failed: %w", err)
	}

	result, err := term1.Add(term2)
	if err != nil {
		return nil, err
	}
	result, err = result.Add(term3)
	if err != nil {
		return nil, err
	}

	// Fold the deltas into the snapshots for the next step.
	if err := op.prevLeft.integrate(deltaL); err != nil {
		return nil, err
	}
	if err := op.prevRight.integrate(deltaR); err != nil {
		return nil, err
	}

	return result, nil
}

type joinState struct {
	left  *sideIndex
	right *sideIndex
}

func (op *IncrementalJoinOp) saveState() any {
	return &joinState{left: op.prevLeft.deepCopy(), right: op.prevRight.deepCopy()}
}

func (op *IncrementalJoinOp) restoreState(state any) {
	s := state.(*joinState)
	op.prevLeft = s.left
	op.prevRight = s.right
}

// Reset drops both accumulated snapshots.
func (op *IncrementalJoinOp) Reset() {
	op.prevLeft = newSideIndex(op.prevLeft.key)
	op.prevRight = newSideIndex(op.prevRight.key)
}
