package value_test

import (
	"encoding/json"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/value"
)

var _ = Describe("Value", func() {
	DescribeTable("survives a JSON round trip",
		func(v value.Value) {
			data, err := json.Marshal(v)
			Expect(err).NotTo(HaveOccurred())

			var got value.Value
			Expect(json.Unmarshal(data, &got)).To(Succeed())
			Expect(got.Equal(v)).To(BeTrue(), "got %s, want %s", got, v)
		},
		Entry("null", value.Null()),
		Entry("bool", value.Bool(true)),
		Entry("max int", value.Int(math.MaxInt64)),
		Entry("min int", value.Int(math.MinInt64)),
		Entry("float", value.Float(3.25)),
		Entry("NaN", value.Float(math.NaN())),
		Entry("+Inf", value.Float(math.Inf(1))),
		Entry("string", value.String("héllo")),
		Entry("bytes", value.Bytes([]byte{0, 1, 2, 255})),
		Entry("empty bytes", value.Bytes([]byte{})),
		Entry("list", value.List(value.Int(1), value.String("two"), value.Null())),
		Entry("nested map", value.Map(map[string]value.Value{
			"a": value.List(value.Bool(false)),
			"b": value.Map(map[string]value.Value{"c": value.Float(1)}),
		})),
	)

	It("keeps ints and floats apart", func() {
		data, err := json.Marshal(value.List(value.Int(1), value.Float(1)))
		Expect(err).NotTo(HaveOccurred())

		var got value.Value
		Expect(json.Unmarshal(data, &got)).To(Succeed())
		items := got.AsList()
		Expect(items[0].Kind()).To(Equal(value.KindInt))
		Expect(items[1].Kind()).To(Equal(value.KindFloat))
	})

	It("rejects unknown kinds", func() {
		var got value.Value
		err := json.Unmarshal([]byte(`{"kind":"complex","value":1}`), &got)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a malformed int payload", func() {
		var got value.Value
		err := json.Unmarshal([]byte(`{"kind":"int","value":"1.5"}`), &got)
		Expect(err).To(HaveOccurred())
	})

	It("compares by kind and content", func() {
		Expect(value.Int(1).Equal(value.Float(1))).To(BeFalse())
		Expect(value.String("a").Equal(value.String("a"))).To(BeTrue())
		Expect(value.List(value.Int(1)).Equal(value.List(value.Int(2)))).To(BeFalse())
	})

	It("returns copies from accessors", func() {
		v := value.Bytes([]byte("abc"))
		b := v.AsBytes()
		b[0] = 'z'
		Expect(string(v.AsBytes())).To(Equal("abc"))
	})
})

var _ = Describe("Bag", func() {
	It("treats nil and empty bags as equal", func() {
		Expect(value.Bag(nil).Equal(value.Bag{})).To(BeTrue())
	})

	It("clones independently", func() {
		b := value.Bag{"k": value.Int(1)}
		c := b.Clone()
		c["k"] = value.Int(2)
		Expect(b["k"].AsInt()).To(Equal(int64(1)))
	})

	It("round-trips through JSON", func() {
		b := value.Bag{"count": value.Int(3), "tags": value.List(value.String("x"))}
		data, err := json.Marshal(b)
		Expect(err).NotTo(HaveOccurred())

		var got value.Bag
		Expect(json.Unmarshal(data, &got)).To(Succeed())
		Expect(got.Equal(b)).To(BeTrue())
	})
})
