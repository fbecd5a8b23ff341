package gate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frahmantamala/familyguard/internal/gate"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SlidingWindowLimiter", func() {
	var (
		clock   *fakeClock
		limiter *gate.SlidingWindowLimiter
	)

	BeforeEach(func() {
		clock = newFakeClock()
		limiter = gate.NewSlidingWindowLimiter(3, time.Minute, clock.Now)
	})

	It("allows up to the limit then refuses", func() {
		for i := 0; i < 3; i++ {
			Expect(limiter.Allow("alice")).To(BeTrue())
		}
		Expect(limiter.Allow("alice")).To(BeFalse())
		Expect(limiter.Count("alice")).To(Equal(3))
	})

	It("keeps keys independent", func() {
		for i := 0; i < 3; i++ {
			limiter.Allow("alice")
		}
		Expect(limiter.Allow("bob")).To(BeTrue())
	})

	It("peeks without recording", func() {
		for i := 0; i < 10; i++ {
			Expect(limiter.Peek("alice")).To(BeTrue())
		}
		Expect(limiter.Count("alice")).To(BeZero())
	})

	It("frees slots as the window slides", func() {
		limiter.Allow("alice")
		clock.Advance(30 * time.Second)
		limiter.Allow("alice")
		limiter.Allow("alice")
		Expect(limiter.Allow("alice")).To(BeFalse())

		clock.Advance(31 * time.Second)
		Expect(limiter.Count("alice")).To(Equal(2))
		Expect(limiter.Allow("alice")).To(BeTrue())
	})

	It("purges idle keys", func() {
		limiter.Allow("alice")
		limiter.Allow("bob")
		clock.Advance(2 * time.Minute)
		Expect(limiter.PurgeExpired(context.Background())).To(Equal(2))
	})

	It("never admits more than the limit under concurrency", func() {
		limiter = gate.NewSlidingWindowLimiter(10, time.Minute, clock.Now)
		var admitted int64
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if limiter.Allow("alice") {
					atomic.AddInt64(&admitted, 1)
				}
			}()
		}
		wg.Wait()
		Expect(atomic.LoadInt64(&admitted)).To(Equal(int64(10)))
	})
})
