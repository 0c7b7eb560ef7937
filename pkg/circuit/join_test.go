package circuit

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zflow-io/zflow/pkg/zset"
)

var _ = Describe("Incremental join", func() {
	var (
		c      *Circuit
		joined Handle
	)

	BeforeEach(func() {
		var err error
		c = New(Options{})

		users, err := c.AddInput("users", userSchema)
		Expect(err).NotTo(HaveOccurred())
		purchases, err := c.AddInput("purchases", purchaseSchema)
		Expect(err).NotTo(HaveOccurred())

		joined, err = c.Join(users, purchases, zset.FieldKey(0), zset.FieldKey(0))
		Expect(err).NotTo(HaveOccurred())
		_, err = c.MarkOutput(joined, "joined")
		Expect(err).NotTo(HaveOccurred())
	})

	It("concatenates schemas, renaming the colliding key", func() {
		s, err := c.SchemaOf(joined)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Arity()).To(Equal(4))
		Expect(s.FieldIndex("id")).To(Equal(0))
		Expect(s.FieldIndex("id_1")).To(Equal(2))
		Expect(s.FieldIndex("amount")).To(Equal(3))
	})

	It("emits nothing until both sides match", func() {
		out, err := c.Step(map[string][]Row{"users": {ins(1, "A")}})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["joined"].ZSet().IsZero()).To(BeTrue())

		out, err = c.Step(map[string][]Row{"purchases": {ins(1, 50)}})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["joined"].ZSet().Equal(zsetOf(
			we(1, int64(1), "A", int64(1), int64(50)),
		))).To(BeTrue())
	})

	It("joins same-step deltas on both sides", func() {
		out, err := c.Step(map[string][]Row{
			"users":     {ins(1, "A")},
			"purchases": {ins(1, 50)},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["joined"].ZSet().Equal(zsetOf(
			we(1, int64(1), "A", int64(1), int64(50)),
		))).To(BeTrue())
	})

	It("retracts derived rows when a side retracts", func() {
		_, err := c.Step(map[string][]Row{
			"users":     {ins(1, "A")},
			"purchases": {ins(1, 50), ins(1, 20)},
		})
		Expect(err).NotTo(HaveOccurred())

		out, err := c.Step(map[string][]Row{"users": {del(1, "A")}})
		Expect(err).NotTo(HaveOccurred())
		Expect(out["joined"].ZSet().Equal(zsetOf(
			we(-1, int64(1), "A", int64(1), int64(50)),
			we(-1, int64(1), "A", int64(1), int64(20)),
		))).To(BeTrue())

		snap, err := c.Current(joined)
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.ZSet().IsZero()).To(BeTrue())
	})

	It("multiplies weights across sides", func() {
		out, err := c.Step(map[string][]Row{
			"users":     {weighted(2, 1, "A")},
			"purchases": {weighted(3, 1, 50)},
		})
		Expect(err).NotTo(HaveOccurred())
		w, err := out["joined"].ZSet().Weight(zset.Tuple{int64(1), "A", int64(1), int64(50)})
		Expect(err).NotTo(HaveOccurred())
		Expect(w).To(Equal(6))
	})

	It("matches batch recomputation over interleaved deltas", func() {
		build := func() (*Circuit, Handle) {
			cc := New(Options{})
			u, err := cc.AddInput("users", userSchema)
			Expect(err).NotTo(HaveOccurred())
			p, err := cc.AddInput("purchases", purchaseSchema)
			Expect(err).NotTo(HaveOccurred())
			j, err := cc.Join(u, p, zset.FieldKey(0), zset.FieldKey(0))
			Expect(err).NotTo(HaveOccurred())
			_, err = cc.MarkOutput(j, "joined")
			Expect(err).NotTo(HaveOccurred())
			return cc, j
		}

		batches := []map[string][]Row{
			{"users": {ins(1, "A"), ins(2, "B")}},
			{"purchases": {ins(1, 50), ins(2, 10)}},
			{"users": {del(2, "B")}, "purchases": {ins(1, 20)}},
			{"purchases": {del(1, 50)}, "users": {ins(3, "C")}},
		}
		incremental := replay(build, batches)
		batch := replay(build, []map[string][]Row{collapse(batches)})
		Expect(incremental.Equal(batch)).To(BeTrue())
	})
})
