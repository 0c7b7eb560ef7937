// Package plan loads declarative circuit plans from YAML and compiles them
// into executable circuits. A plan names the input streams with their
// schemas, a list of named stages (filter, project, join, distinct,
// aggregate) wired by stage name, and the outputs to observe.
package plan

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Plan is the declarative form of a circuit.
type Plan struct {
	Inputs  []Input  `json:"inputs"`
	Stages  []Stage  `json:"stages,omitempty"`
	Outputs []Output `json:"outputs"`
}

// Input declares a named stream and its schema.
type Input struct {
	Name   string  `json:"name"`
	Schema []Field `json:"schema"`
}

// Field declares one schema position.
type Field struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// Stage is one named pipeline step; exactly one of the stage kinds must be
// set.
type Stage struct {
	Name      string          `json:"name"`
	Filter    *FilterStage    `json:"filter,omitempty"`
	Project   *ProjectStage   `json:"project,omitempty"`
	Join      *JoinStage      `json:"join,omitempty"`
	Distinct  *DistinctStage  `json:"distinct,omitempty"`
	Aggregate *AggregateStage `json:"aggregate,omitempty"`
}

// FilterStage keeps rows whose field compares true against a constant.
// Op is one of eq, ne, lt, le, gt, ge.
type FilterStage struct {
	From  string `json:"from"`
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

// ProjectStage keeps the named fields, in order.
type ProjectStage struct {
	From   string   `json:"from"`
	Fields []string `json:"fields"`
}

// JoinStage equi-joins two streams on one field each.
type JoinStage struct {
	Left     string `json:"left"`
	Right    string `json:"right"`
	LeftKey  string `json:"leftKey"`
	RightKey string `json:"rightKey"`
}

// DistinctStage converts a stream to set semantics.
type DistinctStage struct {
	From string `json:"from"`
}

// AggregateStage groups by one field and folds another. Fold is one of sum,
// count, min, max, avg; Field may be empty for count.
type AggregateStage struct {
	From    string `json:"from"`
	GroupBy string `json:"groupBy"`
	Fold    string `json:"fold"`
	Field   string `json:"field,omitempty"`
}

// Output marks a stage or input as observable under the given name.
type Output struct {
	Name string `json:"name"`
	From string `json:"from"`
}

// Load parses a YAML plan.
func Load(data []byte) (*Plan, error) {
	p := &Plan{}
	if err := yaml.UnmarshalStrict(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile reads and parses a YAML plan file.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return Load(data)
}

func (p *Plan) validate() error {
	if len(p.Inputs) == 0 {
		return fmt.Errorf("plan declares no inputs")
	}
	if len(p.Outputs) == 0 {
		return fmt.Errorf("plan declares no outputs")
	}

	seen := make(map[string]bool)
	for _, in := range p.Inputs {
		if in.Name == "" {
			return fmt.Errorf("input with empty name")
		}
		if seen[in.Name] {
			return fmt.Errorf("duplicate stream name %q", in.Name)
		}
		seen[in.Name] = true
		if len(in.Schema) == 0 {
			return fmt.Errorf("input %q declares no schema", in.Name)
		}
	}

	for _, st := range p.Stages {
		if st.Name == "" {
			return fmt.Errorf("stage with empty name")
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate stream name %q", st.Name)
		}
		seen[st.Name] = true

		kinds := 0
		for _, set := range []bool{
			st.Filter != nil, st.Project != nil, st.Join != nil,
			st.Distinct != nil, st.Aggregate != nil,
		} {
			if set {
				kinds++
			}
		}
		if kinds != 1 {
			return fmt.Errorf("stage %q must set exactly one stage kind", st.Name)
		}
	}

	return nil
}
