package flatmap_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/sso-adapter/flatmap"
)

func TestFlatmap(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Flatmap Suite")
}

var _ = Describe("Flatten", func() {
	It("flattens nested objects with dotted keys", func() {
		v := map[string]any{
			"user": map[string]any{
				"name": "alice",
				"age":  float64(30),
			},
		}
		out := flatmap.Flatten(v)
		Expect(out).To(HaveKeyWithValue("user.name", "alice"))
		Expect(out).To(HaveKeyWithValue("user.age", float64(30)))
	})

	It("flattens arrays with bracket indices", func() {
		v := map[string]any{
			"tags": []any{"a", "b"},
		}
		out := flatmap.Flatten(v)
		Expect(out).To(HaveKeyWithValue("tags[0]", "a"))
		Expect(out).To(HaveKeyWithValue("tags[1]", "b"))
	})

	It("flattens a bare scalar to the empty-string key", func() {
		out := flatmap.Flatten("hello")
		Expect(out).To(HaveKeyWithValue("", "hello"))
	})

	It("drops empty nested objects and arrays", func() {
		v := map[string]any{
			"empty_obj": map[string]any{},
			"empty_arr": []any{},
			"kept":      "value",
		}
		out := flatmap.Flatten(v)
		Expect(out).To(HaveLen(1))
		Expect(out).To(HaveKeyWithValue("kept", "value"))
	})
})

var _ = Describe("Unflatten", func() {
	It("is the inverse of Flatten for nested objects", func() {
		flat := map[string]any{
			"user.name": "alice",
			"user.age":  float64(30),
		}
		got := flatmap.Unflatten(flat)
		Expect(got).To(Equal(map[string]any{
			"user": map[string]any{
				"name": "alice",
				"age":  float64(30),
			},
		}))
	})

	It("rebuilds arrays from bracket indices", func() {
		flat := map[string]any{
			"tags[0]": "a",
			"tags[1]": "b",
		}
		got := flatmap.Unflatten(flat)
		Expect(got).To(Equal(map[string]any{
			"tags": []any{"a", "b"},
		}))
	})

	It("pads missing array indices with nil", func() {
		flat := map[string]any{
			"tags[2]": "c",
		}
		got := flatmap.Unflatten(flat)
		Expect(got).To(Equal(map[string]any{
			"tags": []any{nil, nil, "c"},
		}))
	})

	It("unwraps the single empty-string-key entry to the bare scalar", func() {
		got := flatmap.Unflatten(map[string]any{"": "hello"})
		Expect(got).To(Equal("hello"))
	})

	It("returns an empty object for an empty map", func() {
		got := flatmap.Unflatten(map[string]any{})
		Expect(got).To(Equal(map[string]any{}))
	})
})

var _ = Describe("HasPathPrefix", func() {
	It("matches an exact key", func() {
		rest, ok := flatmap.HasPathPrefix("user.name", "user.name")
		Expect(ok).To(BeTrue())
		Expect(rest).To(Equal(""))
	})

	It("matches a dotted prefix and returns the remainder", func() {
		rest, ok := flatmap.HasPathPrefix("user.name", "user")
		Expect(ok).To(BeTrue())
		Expect(rest).To(Equal("name"))
	})

	It("rejects a non-prefix", func() {
		_, ok := flatmap.HasPathPrefix("username", "user")
		Expect(ok).To(BeFalse())
	})
})
