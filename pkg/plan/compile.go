package plan

import (
	"fmt"

	"github.com/zflow-io/zflow/pkg/circuit"
	"github.com/zflow-io/zflow/pkg/zset"
)

// Compile builds an executable circuit from the plan. The returned handle
// map contains every input and stage by name; outputs are marked on the
// circuit under their declared names.
func (p *Plan) Compile(opts circuit.Options) (*circuit.Circuit, map[string]circuit.Handle, error) {
	c := circuit.New(opts)
	handles := make(map[string]circuit.Handle)

	for _, in := range p.Inputs {
		schema, err := compileSchema(in.Schema)
		if err != nil {
			return nil, nil, fmt.Errorf("input %q: %w", in.Name, err)
		}
		h, err := c.AddInput(in.Name, schema)
		if err != nil {
			return nil, nil, err
		}
		handles[in.Name] = h
	}

	for _, st := range p.Stages {
		h, err := compileStage(c, handles, st)
		if err != nil {
			return nil, nil, fmt.Errorf("stage %q: %w", st.Name, err)
		}
		handles[st.Name] = h
	}

	for _, out := range p.Outputs {
		h, ok := handles[out.From]
		if !ok {
			return nil, nil, fmt.Errorf("output %q references unknown stream %q", out.Name, out.From)
		}
		if _, err := c.MarkOutput(h, out.Name); err != nil {
			return nil, nil, fmt.Errorf("output %q: %w", out.Name, err)
		}
	}

	return c, handles, nil
}

func compileSchema(fields []Field) (zset.Schema, error) {
	fs := make([]zset.Field, 0, len(fields))
	for _, f := range fields {
		kind, err := zset.ParseKind(f.Kind)
		if err != nil {
			return zset.Schema{}, fmt.Errorf("field %q: %w", f.Name, err)
		}
		fs = append(fs, zset.Field{Name: f.Name, Kind: kind})
	}
	return zset.NewSchema(fs...), nil
}

func compileStage(c *circuit.Circuit, handles map[string]circuit.Handle, st Stage) (circuit.Handle, error) {
	switch {
	case st.Filter != nil:
		return compileFilter(c, handles, st.Filter)
	case st.Project != nil:
		return compileProject(c, handles, st.Project)
	case st.Join != nil:
		return compileJoin(c, handles, st.Join)
	case st.Distinct != nil:
		h, err := upstream(handles, st.Distinct.From)
		if err != nil {
			return 0, err
		}
		return c.Distinct(h)
	case st.Aggregate != nil:
		return compileAggregate(c, handles, st.Aggregate)
	default:
		return 0, fmt.Errorf("no stage kind set")
	}
}

func upstream(handles map[string]circuit.Handle, name string) (circuit.Handle, error) {
	h, ok := handles[name]
	if !ok {
		return 0, fmt.Errorf("unknown stream %q", name)
	}
	return h, nil
}

func compileFilter(c *circuit.Circuit, handles map[string]circuit.Handle, f *FilterStage) (circuit.Handle, error) {
	h, err := upstream(handles, f.From)
	if err != nil {
		return 0, err
	}
	schema, err := c.SchemaOf(h)
	if err != nil {
		return 0, err
	}
	idx := schema.FieldIndex(f.Field)
	if idx < 0 {
		return 0, fmt.Errorf("unknown field %q in schema %s", f.Field, schema)
	}
	cmp, err := comparator(f.Op)
	if err != nil {
		return 0, err
	}

	want := f.Value
	return c.Filter(h, func(t zset.Tuple) (bool, error) {
		return cmp(t[idx], want)
	})
}

func compileProject(c *circuit.Circuit, handles map[string]circuit.Handle, pr *ProjectStage) (circuit.Handle, error) {
	h, err := upstream(handles, pr.From)
	if err != nil {
		return 0, err
	}
	schema, err := c.SchemaOf(h)
	if err != nil {
		return 0, err
	}
	if len(pr.Fields) == 0 {
		return 0, fmt.Errorf("project keeps no fields")
	}

	indices := make([]int, 0, len(pr.Fields))
	outFields := make([]zset.Field, 0, len(pr.Fields))
	for _, name := range pr.Fields {
		idx := schema.FieldIndex(name)
		if idx < 0 {
			return 0, fmt.Errorf("unknown field %q in schema %s", name, schema)
		}
		indices = append(indices, idx)
		outFields = append(outFields, schema.Fields[idx])
	}

	return c.Map(h, func(t zset.Tuple) (zset.Tuple, error) {
		out := make(zset.Tuple, len(indices))
		for i, idx := range indices {
			out[i] = t[idx]
		}
		return out, nil
	}, zset.NewSchema(outFields...))
}

func compileJoin(c *circuit.Circuit, handles map[string]circuit.Handle, j *JoinStage) (circuit.Handle, error) {
	left, err := upstream(handles, j.Left)
	if err != nil {
		return 0, err
	}
	right, err := upstream(handles, j.Right)
	if err != nil {
		return 0, err
	}

	ls, err := c.SchemaOf(left)
	if err != nil {
		return 0, err
	}
	rs, err := c.SchemaOf(right)
	if err != nil {
		return 0, err
	}

	li := ls.FieldIndex(j.LeftKey)
	if li < 0 {
		return 0, fmt.Errorf("unknown field %q in schema %s", j.LeftKey, ls)
	}
	ri := rs.FieldIndex(j.RightKey)
	if ri < 0 {
		return 0, fmt.Errorf("unknown field %q in schema %s", j.RightKey, rs)
	}

	return c.Join(left, right, zset.FieldKey(li), zset.FieldKey(ri))
}

func compileAggregate(c *circuit.Circuit, handles map[string]circuit.Handle, ag *AggregateStage) (circuit.Handle, error) {
	h, err := upstream(handles, ag.From)
	if err != nil {
		return 0, err
	}
	schema, err := c.SchemaOf(h)
	if err != nil {
		return 0, err
	}

	gi := schema.FieldIndex(ag.GroupBy)
	if gi < 0 {
		return 0, fmt.Errorf("unknown field %q in schema %s", ag.GroupBy, schema)
	}

	op, err := zset.ParseFoldOp(ag.Fold)
	if err != nil {
		return 0, err
	}

	fi := -1
	if ag.Field != "" {
		fi = schema.FieldIndex(ag.Field)
		if fi < 0 {
			return 0, fmt.Errorf("unknown field %q in schema %s", ag.Field, schema)
		}
	} else if op != zset.FoldCount {
		return 0, fmt.Errorf("fold %s requires a field", op)
	}

	fold := zset.FoldSpec{Op: op, Field: fi}
	return c.Aggregate(h, zset.FieldKey(gi), schema.Fields[gi], fold)
}
