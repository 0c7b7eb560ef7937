package circuit

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zflow-io/zflow/pkg/zset"
)

var _ = Describe("Incremental aggregation", func() {
	idField := zset.Field{Name: "id", Kind: zset.KindInt}

	Describe("linear folds over a join", func() {
		var (
			c   *Circuit
			agg Handle
		)

		BeforeEach(func() {
			var err error
			c = New(Options{})

			users, err := c.AddInput("users", userSchema)
			Expect(err).NotTo(HaveOccurred())
			purchases, err := c.AddInput("purchases", purchaseSchema)
			Expect(err).NotTo(HaveOccurred())

			joined, err := c.Join(users, purchases, zset.FieldKey(0), zset.FieldKey(0))
			Expect(err).NotTo(HaveOccurred())

			// joined is (id, name, id_1, amount); sum amount by id.
			agg, err = c.Aggregate(joined, zset.FieldKey(0), idField,
				zset.FoldSpec{Op: zset.FoldSum, Field: 3})
			Expect(err).NotTo(HaveOccurred())
			_, err = c.MarkOutput(agg, "spend")
			Expect(err).NotTo(HaveOccurred())
		})

		It("maintains per-group sums across steps", func() {
			_, err := c.Step(map[string][]Row{"users": {ins(1, "A")}})
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Step(map[string][]Row{"purchases": {ins(1, 50)}})
			Expect(err).NotTo(HaveOccurred())

			snap, err := c.Current(agg)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.ZSet().Equal(zsetOf(we(1, int64(1), int64(50))))).To(BeTrue())

			out, err := c.Step(map[string][]Row{"purchases": {ins(1, 20)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["spend"].ZSet().Equal(zsetOf(
				we(-1, int64(1), int64(50)),
				we(1, int64(1), int64(70)),
			))).To(BeTrue())
		})

		It("drops a group whose rows are all retracted", func() {
			_, err := c.Step(map[string][]Row{
				"users":     {ins(1, "A")},
				"purchases": {ins(1, 50)},
			})
			Expect(err).NotTo(HaveOccurred())

			out, err := c.Step(map[string][]Row{"purchases": {del(1, 50)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["spend"].ZSet().Equal(zsetOf(
				we(-1, int64(1), int64(50)),
			))).To(BeTrue())

			snap, err := c.Current(agg)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.ZSet().IsZero()).To(BeTrue())
		})
	})

	Describe("non-linear folds", func() {
		build := func(op zset.FoldOp) (*Circuit, Handle) {
			c := New(Options{})
			purchases, err := c.AddInput("purchases", purchaseSchema)
			Expect(err).NotTo(HaveOccurred())
			agg, err := c.Aggregate(purchases, zset.FieldKey(0), idField,
				zset.FoldSpec{Op: op, Field: 1})
			Expect(err).NotTo(HaveOccurred())
			_, err = c.MarkOutput(agg, "agg")
			Expect(err).NotTo(HaveOccurred())
			return c, agg
		}

		It("recomputes min when the current minimum retracts", func() {
			c, agg := build(zset.FoldMin)

			_, err := c.Step(map[string][]Row{"purchases": {ins(1, 10), ins(1, 30)}})
			Expect(err).NotTo(HaveOccurred())

			snap, err := c.Current(agg)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.ZSet().Equal(zsetOf(we(1, int64(1), int64(10))))).To(BeTrue())

			out, err := c.Step(map[string][]Row{"purchases": {del(1, 10)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["agg"].ZSet().Equal(zsetOf(
				we(-1, int64(1), int64(10)),
				we(1, int64(1), int64(30)),
			))).To(BeTrue())
		})

		It("keeps max stable when a non-extreme row retracts", func() {
			c, _ := build(zset.FoldMax)

			_, err := c.Step(map[string][]Row{"purchases": {ins(1, 10), ins(1, 30)}})
			Expect(err).NotTo(HaveOccurred())

			out, err := c.Step(map[string][]Row{"purchases": {del(1, 10)}})
			Expect(err).NotTo(HaveOccurred())
			Expect(out["agg"].ZSet().IsZero()).To(BeTrue())
		})

		It("yields no value for a group with zero net weight", func() {
			c, agg := build(zset.FoldMin)

			_, err := c.Step(map[string][]Row{"purchases": {ins(1, 10)}})
			Expect(err).NotTo(HaveOccurred())
			_, err = c.Step(map[string][]Row{"purchases": {del(1, 10)}})
			Expect(err).NotTo(HaveOccurred())

			snap, err := c.Current(agg)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.ZSet().IsZero()).To(BeTrue())
		})

		It("averages as a float", func() {
			c, agg := build(zset.FoldAvg)

			_, err := c.Step(map[string][]Row{"purchases": {ins(1, 10), ins(1, 30)}})
			Expect(err).NotTo(HaveOccurred())

			snap, err := c.Current(agg)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.ZSet().Equal(zsetOf(we(1, int64(1), float64(20))))).To(BeTrue())
		})

		It("matches batch recomputation", func() {
			buildOut := func() (*Circuit, Handle) { return build(zset.FoldMin) }
			batches := []map[string][]Row{
				{"purchases": {ins(1, 10), ins(2, 5)}},
				{"purchases": {ins(1, 3), del(2, 5)}},
				{"purchases": {del(1, 3), ins(2, 8)}},
			}
			incremental := replay(buildOut, batches)
			batch := replay(buildOut, []map[string][]Row{collapse(batches)})
			Expect(incremental.Equal(batch)).To(BeTrue())
		})
	})

	Describe("count", func() {
		It("counts net multiplicity per group", func() {
			c := New(Options{})
			purchases, err := c.AddInput("purchases", purchaseSchema)
			Expect(err).NotTo(HaveOccurred())
			agg, err := c.Aggregate(purchases, zset.FieldKey(0), idField,
				zset.FoldSpec{Op: zset.FoldCount, Field: -1})
			Expect(err).NotTo(HaveOccurred())
			_, err = c.MarkOutput(agg, "n")
			Expect(err).NotTo(HaveOccurred())

			_, err = c.Step(map[string][]Row{"purchases": {
				ins(1, 10), ins(1, 30), weighted(2, 2, 5),
			}})
			Expect(err).NotTo(HaveOccurred())

			snap, err := c.Current(agg)
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.ZSet().Equal(zsetOf(
				we(1, int64(1), int64(2)),
				we(1, int64(2), int64(2)),
			))).To(BeTrue())
		})
	})
})
