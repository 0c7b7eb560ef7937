package circuit

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/zflow-io/zflow/pkg/zset"
)

// DefaultFixpointBound is the iteration bound applied to recursive scopes
// that do not configure their own.
const DefaultFixpointBound = 1000

// Handle is an opaque reference into the circuit's operator arena. Builder
// calls return handles, never operator references, so all operator state
// stays exclusively owned by the circuit.
type Handle int

type node struct {
	op     Operator
	inputs []Handle
	scope  int // index into scopes, -1 for the main region
}

// Options configures a circuit.
type Options struct {
	// Logger is used for step tracing. Defaults to logr.Discard.
	Logger logr.Logger
	// FixpointBound caps recursive scope iterations within one step.
	FixpointBound int
}

// Circuit is a DAG of operators connected by typed edges, built incrementally
// through handle-returning calls and frozen implicitly on the first step. The
// circuit exclusively owns all operator state.
type Circuit struct {
	log logr.Logger

	nodes   []*node
	inputs  map[string]Handle
	outputs map[string]Handle

	scopes   []*scopeDef
	building int // scope under construction, -1 outside Fixpoint

	fixpointBound int

	frozen  bool
	order   []Handle
	stepper *Stepper
}

// New creates an empty circuit.
func New(opts Options) *Circuit {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	bound := opts.FixpointBound
	if bound <= 0 {
		bound = DefaultFixpointBound
	}
	return &Circuit{
		log:           log,
		inputs:        make(map[string]Handle),
		outputs:       make(map[string]Handle),
		building:      -1,
		fixpointBound: bound,
	}
}

func (c *Circuit) addNode(op Operator, inputs ...Handle) Handle {
	h := Handle(len(c.nodes))
	c.nodes = append(c.nodes, &node{op: op, inputs: inputs, scope: c.building})
	if c.building >= 0 {
		s := c.scopes[c.building]
		s.members = append(s.members, h)
	}
	c.log.V(4).Info("added operator", "handle", int(h), "op", op.Name(), "inputs", inputs)
	return h
}

func (c *Circuit) resolve(h Handle) (*node, error) {
	if h < 0 || int(h) >= len(c.nodes) {
		return nil, &UnknownHandleError{Handle: h}
	}
	return c.nodes[h], nil
}

// SchemaOf returns the output schema of the referenced operator.
func (c *Circuit) SchemaOf(h Handle) (zset.Schema, error) {
	n, err := c.resolve(h)
	if err != nil {
		return zset.Schema{}, err
	}
	return n.op.Schema(), nil
}

// AddInput declares a named input stream with a fixed schema.
func (c *Circuit) AddInput(name string, schema zset.Schema) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	if _, exists := c.inputs[name]; exists {
		return 0, fmt.Errorf("input stream %q already declared", name)
	}
	h := c.addNode(NewInput(name, schema))
	c.inputs[name] = h
	return h, nil
}

// Map adds a projection over the referenced stream. The output schema must
// be declared since the transformation is opaque.
func (c *Circuit) Map(h Handle, fn zset.MapFunc, out zset.Schema) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	if _, err := c.resolve(h); err != nil {
		return 0, err
	}
	return c.addNode(NewMap(fn, out), h), nil
}

// Filter adds a selection over the referenced stream.
func (c *Circuit) Filter(h Handle, pred zset.Predicate) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	n, err := c.resolve(h)
	if err != nil {
		return 0, err
	}
	return c.addNode(NewFilter(pred, n.op.Schema()), h), nil
}

// Union adds pointwise addition of two streams with identical schemas.
func (c *Circuit) Union(a, b Handle) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	na, err := c.resolve(a)
	if err != nil {
		return 0, err
	}
	nb, err := c.resolve(b)
	if err != nil {
		return 0, err
	}
	sa, sb := na.op.Schema(), nb.op.Schema()
	if sa.Arity() != sb.Arity() {
		return 0, fmt.Errorf("union requires matching schemas, got %s and %s", sa, sb)
	}
	for i := range sa.Fields {
		if sa.Fields[i].Kind != sb.Fields[i].Kind {
			return 0, fmt.Errorf("union requires matching schemas, got %s and %s", sa, sb)
		}
	}
	return c.addNode(NewUnion(na.op.Schema()), a, b), nil
}

// Join adds an incremental equi-join of two streams. The output tuple is the
// concatenation of the matching pair; the output schema concatenates the
// input schemas with collision renaming.
func (c *Circuit) Join(a, b Handle, keyA, keyB zset.KeyFunc) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	na, err := c.resolve(a)
	if err != nil {
		return 0, err
	}
	nb, err := c.resolve(b)
	if err != nil {
		return 0, err
	}
	out := na.op.Schema().Concat(nb.op.Schema())
	return c.addNode(NewIncrementalJoin(keyA, keyB, nil, out), a, b), nil
}

// Distinct adds an incremental distinct over the referenced stream.
func (c *Circuit) Distinct(h Handle) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	n, err := c.resolve(h)
	if err != nil {
		return 0, err
	}
	return c.addNode(NewDistinct(n.op.Schema()), h), nil
}

// Aggregate adds an incremental group-by fold. keyField names and types the
// group key in the output schema; the value field is named after the fold.
func (c *Circuit) Aggregate(h Handle, groupKey zset.KeyFunc, keyField zset.Field, fold zset.FoldSpec) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	n, err := c.resolve(h)
	if err != nil {
		return 0, err
	}

	in := n.op.Schema()
	measured := zset.KindInt
	if fold.Op != zset.FoldCount {
		if fold.Field < 0 || fold.Field >= in.Arity() {
			return 0, fmt.Errorf("fold field index %d out of range for schema %s", fold.Field, in)
		}
		measured = in.Fields[fold.Field].Kind
	}
	out := zset.NewSchema(keyField, zset.Field{Name: fold.Op.String(), Kind: fold.ValueKind(measured)})

	return c.addNode(NewAggregate(groupKey, fold, out), h), nil
}

// MarkOutput designates a named observation point for the referenced stream.
func (c *Circuit) MarkOutput(h Handle, name string) (Handle, error) {
	if c.frozen {
		return 0, ErrFrozen
	}
	n, err := c.resolve(h)
	if err != nil {
		return 0, err
	}
	if _, exists := c.outputs[name]; exists {
		return 0, fmt.Errorf("output %q already marked", name)
	}
	out := c.addNode(NewOutput(name, n.op.Schema()), h)
	c.outputs[name] = out
	return out, nil
}

// freeze validates the graph and computes the topological schedule. Called
// implicitly by the first step.
func (c *Circuit) freeze() error {
	if c.frozen {
		return nil
	}
	if len(c.inputs) == 0 {
		return fmt.Errorf("circuit has no input streams")
	}
	if len(c.outputs) == 0 {
		return fmt.Errorf("circuit has no marked outputs")
	}

	order, err := c.topoSort()
	if err != nil {
		return err
	}
	c.order = order
	c.frozen = true

	c.log.V(2).Info("circuit frozen", "operators", len(c.nodes),
		"inputs", len(c.inputs), "outputs", len(c.outputs), "scopes", len(c.scopes))
	return nil
}

// topoSort runs Kahn's algorithm over the operator arena. The builder only
// wires edges from existing handles to new nodes, so a cycle indicates a
// corrupted graph; it is still detected and reported rather than assumed
// away.
func (c *Circuit) topoSort() ([]Handle, error) {
	indegree := make([]int, len(c.nodes))
	successors := make([][]Handle, len(c.nodes))
	addEdge := func(from, to Handle) {
		indegree[to]++
		successors[from] = append(successors[from], to)
	}
	for h, n := range c.nodes {
		for _, in := range n.inputs {
			addEdge(in, Handle(h))
		}
	}

	// A scope's recursive entry has no wired inputs, but the fixpoint loop
	// reads the source and outer stream deltas when the entry is reached.
	// Order the entry after them, and every member after the entry.
	for _, s := range c.scopes {
		addEdge(s.src, s.rec)
		for _, ext := range s.externals {
			addEdge(ext, s.rec)
		}
		for _, m := range s.members {
			if m != s.rec {
				addEdge(s.rec, m)
			}
		}
	}

	queue := make([]Handle, 0, len(c.nodes))
	for h := range c.nodes {
		if indegree[h] == 0 {
			queue = append(queue, Handle(h))
		}
	}

	order := make([]Handle, 0, len(c.nodes))
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		order = append(order, h)
		for _, succ := range successors[h] {
			indegree[succ]--
			if indegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(order) != len(c.nodes) {
		var cyclic []string
		for h, n := range c.nodes {
			if indegree[h] > 0 {
				cyclic = append(cyclic, n.op.Name())
			}
		}
		return nil, &CycleError{Nodes: cyclic}
	}

	return order, nil
}

// Plan returns a human-readable execution plan.
func (c *Circuit) Plan() string {
	order := c.order
	if order == nil {
		var err error
		order, err = c.topoSort()
		if err != nil {
			return fmt.Sprintf("invalid circuit: %v\n", err)
		}
	}
	plan := fmt.Sprintf("Execution plan (%d operators):\n", len(c.nodes))
	for i, h := range order {
		n := c.nodes[h]
		scope := ""
		if n.scope >= 0 {
			scope = fmt.Sprintf(" [scope %d]", n.scope)
		}
		plan += fmt.Sprintf("%d. %s (%s)%s\n", i+1, n.op.Name(), n.op.OpType(), scope)
	}
	return plan
}

// Step applies one round of input deltas. See Stepper.Step.
func (c *Circuit) Step(inputs map[string][]Row) (map[string]Delta, error) {
	st, err := c.ensureStepper()
	if err != nil {
		return nil, err
	}
	return st.Step(inputs)
}

// Current returns the full materialized state of any operator.
func (c *Circuit) Current(h Handle) (Snapshot, error) {
	st, err := c.ensureStepper()
	if err != nil {
		return Snapshot{}, err
	}
	return st.Current(h)
}

// Delta returns the change the referenced operator produced in the most
// recent step.
func (c *Circuit) Delta(h Handle) (Delta, error) {
	st, err := c.ensureStepper()
	if err != nil {
		return Delta{}, err
	}
	return st.Delta(h)
}

// StepCount returns the number of completed steps, zero before the first.
func (c *Circuit) StepCount() int {
	if c.stepper == nil {
		return 0
	}
	return c.stepper.StepCount()
}

func (c *Circuit) ensureStepper() (*Stepper, error) {
	if c.stepper != nil {
		return c.stepper, nil
	}
	st, err := NewStepper(c)
	if err != nil {
		return nil, err
	}
	c.stepper = st
	return st, nil
}
