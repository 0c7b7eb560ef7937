package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/zflow-io/zflow/pkg/circuit"
	"github.com/zflow-io/zflow/pkg/plan"
	"github.com/zflow-io/zflow/pkg/zset"
)

var (
	planFile      string
	fixpointBound int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a plan over delta batches read from stdin",
	Long: `Run compiles the plan and steps the circuit once per input line. Each
line is a JSON object mapping input names to delta rows:

  {"orders": [{"tuple": [1, "eu", 10.0]}, {"tuple": [2, "us", 4.5], "weight": -1}]}

A missing weight means +1. After every step the output deltas are printed,
insertions in green and retractions in red.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan(planFile, os.Stdin)
	},
}

func init() {
	runCmd.Flags().StringVarP(&planFile, "plan", "p", "", "path to the YAML plan file")
	runCmd.Flags().IntVar(&fixpointBound, "fixpoint-bound", circuit.DefaultFixpointBound,
		"iteration limit for recursive scopes")
	_ = runCmd.MarkFlagRequired("plan")
}

func runPlan(path string, in *os.File) error {
	p, err := plan.LoadFile(path)
	if err != nil {
		return err
	}

	c, _, err := p.Compile(circuit.Options{
		Logger:        logger.WithName("circuit"),
		FixpointBound: fixpointBound,
	})
	if err != nil {
		return fmt.Errorf("failed to compile plan: %w", err)
	}

	logger.Info("plan compiled", "file", path, "inputs", len(p.Inputs),
		"stages", len(p.Stages), "outputs", len(p.Outputs))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		batch, err := parseBatch([]byte(line))
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}

		deltas, err := c.Step(batch)
		if err != nil {
			return fmt.Errorf("line %d: step failed: %w", lineNo, err)
		}

		printDeltas(c.StepCount(), deltas)
	}
	return scanner.Err()
}

// parseBatch decodes one delta batch, keeping integral JSON numbers
// integral so that int-typed fields validate.
func parseBatch(data []byte) (map[string][]circuit.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	raw := map[string][]circuit.Row{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}

	for name, rows := range raw {
		for i := range rows {
			t, err := normalizeTuple(rows[i].Tuple)
			if err != nil {
				return nil, fmt.Errorf("input %q row %d: %w", name, i, err)
			}
			rows[i].Tuple = t
		}
	}
	return raw, nil
}

func normalizeTuple(t zset.Tuple) (zset.Tuple, error) {
	out := make(zset.Tuple, len(t))
	for i, v := range t {
		n, err := normalizeValue(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("bad number %q", x.String())
		}
		return f, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

var (
	insertColor  = color.New(color.FgGreen)
	retractColor = color.New(color.FgRed)
	headerColor  = color.New(color.FgCyan, color.Bold)
)

func printDeltas(step int, deltas map[string]circuit.Delta) {
	names := make([]string, 0, len(deltas))
	for name := range deltas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		zs := deltas[name].ZSet()
		headerColor.Printf("-- step %d: %s\n", step, name)
		if zs.IsZero() {
			fmt.Println("   (no change)")
			continue
		}
		for _, e := range zs.Entries() {
			c := insertColor
			sign := "+"
			w := e.Weight
			if w < 0 {
				c = retractColor
				sign = "-"
				w = -w
			}
			row, err := json.Marshal(e.Tuple)
			if err != nil {
				row = []byte(fmt.Sprint(e.Tuple))
			}
			c.Printf("   %s%d %s\n", sign, w, row)
		}
	}
}
