package circuit

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zflow-io/zflow/pkg/zset"
)

var _ = Describe("Recursive scopes", func() {
	// buildClosure wires the classic transitive-closure query: reach is the
	// least set containing edges and closed under one-hop extension.
	buildClosure := func() (*Circuit, Handle, Handle) {
		c := New(Options{})
		edges, err := c.AddInput("edges", edgeSchema)
		Expect(err).NotTo(HaveOccurred())

		reach, err := c.Fixpoint(edges, func(rec Handle) (Handle, error) {
			hop, err := c.Join(rec, edges, zset.FieldKey(1), zset.FieldKey(0))
			if err != nil {
				return 0, err
			}
			ext, err := c.Map(hop, func(t zset.Tuple) (zset.Tuple, error) {
				return zset.Tuple{t[0], t[3]}, nil
			}, edgeSchema)
			if err != nil {
				return 0, err
			}
			u, err := c.Union(rec, ext)
			if err != nil {
				return 0, err
			}
			return c.Distinct(u)
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = c.MarkOutput(reach, "reach")
		Expect(err).NotTo(HaveOccurred())
		return c, edges, reach
	}

	It("computes transitive closure within one step", func() {
		c, _, reach := buildClosure()

		out, err := c.Step(map[string][]Row{"edges": {
			ins(1, 2), ins(2, 3), ins(3, 4),
		}})
		Expect(err).NotTo(HaveOccurred())

		want := zsetOf(
			we(1, int64(1), int64(2)),
			we(1, int64(2), int64(3)),
			we(1, int64(3), int64(4)),
			we(1, int64(1), int64(3)),
			we(1, int64(2), int64(4)),
			we(1, int64(1), int64(4)),
		)
		Expect(out["reach"].ZSet().Equal(want)).To(BeTrue())

		snap, err := c.Current(reach)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ZSet().Equal(want)).To(BeTrue())
	})

	It("extends the closure incrementally on later steps", func() {
		c, _, reach := buildClosure()

		_, err := c.Step(map[string][]Row{"edges": {
			ins(1, 2), ins(2, 3), ins(3, 4),
		}})
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Step(map[string][]Row{"edges": {ins(4, 5)}})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["reach"].ZSet().Equal(zsetOf(
			we(1, int64(4), int64(5)),
			we(1, int64(3), int64(5)),
			we(1, int64(2), int64(5)),
			we(1, int64(1), int64(5)),
		))).To(BeTrue())

		snap, err := c.Current(reach)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ZSet().Size()).To(Equal(10))
	})

	It("converges immediately when the scope's source is silent", func() {
		c, _, _ := buildClosure()
		_, err := c.Step(map[string][]Row{"edges": {ins(1, 2)}})
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Step(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(out["reach"].ZSet().IsZero()).To(BeTrue())
	})

	It("runs a scope fed by a derived stream", func() {
		// Closure over the self-loop-free subset of edges; the scope source
		// is a filter node, not an input.
		build := func() (*Circuit, Handle) {
			c := New(Options{})
			edges, err := c.AddInput("edges", edgeSchema)
			Expect(err).NotTo(HaveOccurred())
			kept, err := c.Filter(edges, func(t zset.Tuple) (bool, error) {
				return t[0].(int64) != t[1].(int64), nil
			})
			Expect(err).NotTo(HaveOccurred())

			reach, err := c.Fixpoint(kept, func(rec Handle) (Handle, error) {
				hop, err := c.Join(rec, kept, zset.FieldKey(1), zset.FieldKey(0))
				if err != nil {
					return 0, err
				}
				ext, err := c.Map(hop, func(t zset.Tuple) (zset.Tuple, error) {
					return zset.Tuple{t[0], t[3]}, nil
				}, edgeSchema)
				if err != nil {
					return 0, err
				}
				u, err := c.Union(rec, ext)
				if err != nil {
					return 0, err
				}
				return c.Distinct(u)
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = c.MarkOutput(reach, "reach")
			Expect(err).NotTo(HaveOccurred())
			return c, reach
		}

		batches := []map[string][]Row{
			{"edges": {ins(1, 2), ins(2, 2)}},
			{"edges": {ins(2, 3)}},
		}
		final := replay(build, batches)
		Expect(final.Equal(zsetOf(
			we(1, int64(1), int64(2)),
			we(1, int64(2), int64(3)),
			we(1, int64(1), int64(3)),
		))).To(BeTrue())
		Expect(final.Equal(replay(build, []map[string][]Row{collapse(batches)}))).To(BeTrue())
	})

	Describe("outer streams", func() {
		nodeSchema := zset.NewSchema(zset.Field{Name: "n", Kind: zset.KindInt})

		// buildReach computes the set of nodes reachable from seeds over
		// edges, with edges entering the scope as an outer stream only.
		buildReach := func() (*Circuit, Handle) {
			c := New(Options{})
			seeds, err := c.AddInput("seeds", nodeSchema)
			Expect(err).NotTo(HaveOccurred())
			edges, err := c.AddInput("edges", edgeSchema)
			Expect(err).NotTo(HaveOccurred())

			reach, err := c.Fixpoint(seeds, func(rec Handle) (Handle, error) {
				hop, err := c.Join(rec, edges, zset.FieldKey(0), zset.FieldKey(0))
				if err != nil {
					return 0, err
				}
				next, err := c.Map(hop, func(t zset.Tuple) (zset.Tuple, error) {
					return zset.Tuple{t[2]}, nil
				}, nodeSchema)
				if err != nil {
					return 0, err
				}
				u, err := c.Union(rec, next)
				if err != nil {
					return 0, err
				}
				return c.Distinct(u)
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = c.MarkOutput(reach, "reach")
			Expect(err).NotTo(HaveOccurred())
			return c, reach
		}

		It("folds outer deltas into scope state while the source is silent", func() {
			c, reach := buildReach()

			out, err := c.Step(map[string][]Row{"edges": {ins(1, 2)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["reach"].ZSet().IsZero()).To(BeTrue())

			out, err = c.Step(map[string][]Row{"seeds": {ins(1)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["reach"].ZSet().Equal(zsetOf(
				we(1, int64(1)),
				we(1, int64(2)),
			))).To(BeTrue())

			snap, err := c.Current(reach)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.ZSet().Size()).To(Equal(2))
		})

		It("matches batch recomputation when source and outer deltas interleave", func() {
			batches := []map[string][]Row{
				{"edges": {ins(1, 2)}},
				{"seeds": {ins(1)}},
				{"edges": {ins(2, 3)}},
			}
			final := replay(buildReach, batches)
			Expect(final.Equal(zsetOf(
				we(1, int64(1)),
				we(1, int64(2)),
				we(1, int64(3)),
			))).To(BeTrue())
			Expect(final.Equal(replay(buildReach, []map[string][]Row{collapse(batches)}))).To(BeTrue())
		})
	})

	Describe("non-convergence", func() {
		numSchema := zset.NewSchema(zset.Field{Name: "n", Kind: zset.KindInt})

		buildDiverging := func() (*Circuit, Handle) {
			c := New(Options{})
			nums, err := c.AddInput("nums", numSchema)
			Expect(err).NotTo(HaveOccurred())

			// Every iteration produces a fresh tuple, so the delta never
			// empties.
			res, err := c.FixpointBounded(nums, 5, func(rec Handle) (Handle, error) {
				return c.Map(rec, func(t zset.Tuple) (zset.Tuple, error) {
					return zset.Tuple{t[0].(int64) + 1}, nil
				}, numSchema)
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = c.MarkOutput(res, "res")
			Expect(err).NotTo(HaveOccurred())
			return c, nums
		}

		It("fails the step with a FixpointError at the bound", func() {
			c, _ := buildDiverging()
			_, err := c.Step(map[string][]Row{"nums": {ins(0)}})

			var fe *FixpointError
			Expect(errors.As(err, &fe)).To(BeTrue())
			Expect(fe.Iterations).To(Equal(5))
		})

		It("retains no partial state from the failed step", func() {
			c, nums := buildDiverging()
			_, err := c.Step(map[string][]Row{"nums": {ins(0)}})
			Expect(err).To(HaveOccurred())
			Expect(c.StepCount()).To(Equal(0))

			snap, err := c.Current(nums)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.ZSet().IsZero()).To(BeTrue())

			// The circuit stays usable; a silent step succeeds.
			_, err = c.Step(nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.StepCount()).To(Equal(1))
		})
	})

	Describe("scope validation", func() {
		It("rejects aggregation inside a scope", func() {
			c := New(Options{})
			edges, err := c.AddInput("edges", edgeSchema)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Fixpoint(edges, func(rec Handle) (Handle, error) {
				return c.Aggregate(rec, zset.FieldKey(0),
					zset.Field{Name: "src", Kind: zset.KindInt},
					zset.FoldSpec{Op: zset.FoldCount, Field: -1})
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("monotone"))
		})

		It("rejects a result built outside the scope", func() {
			c := New(Options{})
			edges, err := c.AddInput("edges", edgeSchema)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Fixpoint(edges, func(rec Handle) (Handle, error) {
				return edges, nil
			})
			Expect(err).To(HaveOccurred())
		})

		It("leaves the circuit unmodified after a failed declaration", func() {
			c := New(Options{})
			edges, err := c.AddInput("edges", edgeSchema)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Fixpoint(edges, func(rec Handle) (Handle, error) {
				return edges, nil
			})
			Expect(err).To(HaveOccurred())

			// The failed scope's nodes are gone; building continues cleanly.
			d, err := c.Distinct(edges)
			Expect(err).NotTo(HaveOccurred())
			_, err = c.MarkOutput(d, "uniq")
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Step(map[string][]Row{"edges": {ins(1, 2)}})
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects nested scopes", func() {
			c := New(Options{})
			edges, err := c.AddInput("edges", edgeSchema)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Fixpoint(edges, func(rec Handle) (Handle, error) {
				return c.Fixpoint(rec, func(inner Handle) (Handle, error) {
					return c.Distinct(inner)
				})
			})
			Expect(err).To(HaveOccurred())
		})
	})
})
