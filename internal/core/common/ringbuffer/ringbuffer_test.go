package ringbuffer_test

import (
	"testing"

	"github.com/frahmantamala/familyguard/internal/core/common/ringbuffer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRingBuffer(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RingBuffer Suite")
}

var _ = Describe("Ring", func() {
	It("keeps insertion order below capacity", func() {
		r := ringbuffer.New[int](3)
		r.Push(1)
		r.Push(2)

		Expect(r.Len()).To(Equal(2))
		Expect(r.Slice()).To(Equal([]int{1, 2}))
	})

	It("evicts the oldest entry once full", func() {
		r := ringbuffer.New[int](3)
		for i := 1; i <= 3; i++ {
			_, evicted := r.Push(i)
			Expect(evicted).To(BeFalse())
		}

		old, evicted := r.Push(4)
		Expect(evicted).To(BeTrue())
		Expect(old).To(Equal(1))
		Expect(r.Slice()).To(Equal([]int{2, 3, 4}))
	})

	It("walks newest first", func() {
		r := ringbuffer.New[int](4)
		for i := 1; i <= 6; i++ {
			r.Push(i)
		}

		var seen []int
		r.Newest(func(v int) bool {
			seen = append(seen, v)
			return len(seen) < 3
		})
		Expect(seen).To(Equal([]int{6, 5, 4}))
	})

	It("drops from the front while the predicate holds, bounded by max", func() {
		r := ringbuffer.New[int](10)
		for i := 1; i <= 6; i++ {
			r.Push(i)
		}

		Expect(r.DropWhile(func(v int) bool { return v < 5 }, 2)).To(Equal(2))
		Expect(r.Slice()).To(Equal([]int{3, 4, 5, 6}))

		Expect(r.DropWhile(func(v int) bool { return v < 5 }, 0)).To(Equal(2))
		Expect(r.Slice()).To(Equal([]int{5, 6}))
	})

	It("replaces entries in place", func() {
		r := ringbuffer.New[string](2)
		r.Push("a")
		r.Push("b")
		r.Push("c")
		r.Set(0, "B")

		Expect(r.Slice()).To(Equal([]string{"B", "c"}))
		oldest, ok := r.Oldest()
		Expect(ok).To(BeTrue())
		Expect(oldest).To(Equal("B"))
	})

	It("resets to empty", func() {
		r := ringbuffer.New[int](2)
		r.Push(1)
		r.Reset()

		Expect(r.Len()).To(Equal(0))
		_, ok := r.PopOldest()
		Expect(ok).To(BeFalse())
	})
})
