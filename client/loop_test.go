package client_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/msnp/client"
)

var _ = Describe("Loop", func() {
	var (
		loop   *client.Loop
		cancel context.CancelFunc
		done   chan error
	)

	BeforeEach(func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())

		loop = client.NewLoop(zap.NewNop())
		done = make(chan error, 1)

		go func() {
			done <- loop.Run(ctx)
		}()
	})

	AfterEach(func() {
		cancel()
		Eventually(done).Should(Receive())
	})

	It("runs posted functions in order on one goroutine", func() {
		var (
			mu  sync.Mutex
			got []int
		)

		for i := 0; i < 100; i++ {
			i := i
			loop.Post(func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			})
		}

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(got)
		}).Should(Equal(100))

		for i, v := range got {
			Expect(v).To(Equal(i))
		}
	})

	It("posts async continuations back onto the loop", func() {
		result := make(chan string, 1)

		loop.Async(func() func() {
			return func() { result <- "continued" }
		})

		Eventually(result).Should(Receive(Equal("continued")))
	})

	It("waits for async work", func() {
		release := make(chan struct{})
		finished := make(chan struct{})

		loop.Async(func() func() {
			<-release
			return func() { close(finished) }
		})

		ctx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer stop()
		Expect(loop.WaitAsync(ctx)).To(MatchError(context.DeadlineExceeded))

		close(release)
		Expect(loop.WaitAsync(context.Background())).To(Succeed())
		Eventually(finished).Should(BeClosed())
	})

	It("never runs a stopped timer", func() {
		fired := make(chan struct{}, 1)

		stop := loop.AfterFunc(20*time.Millisecond, func() { fired <- struct{}{} })
		stop()

		Consistently(fired, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("runs timers that were not stopped", func() {
		fired := make(chan struct{}, 1)
		loop.AfterFunc(10*time.Millisecond, func() { fired <- struct{}{} })

		Eventually(fired).Should(Receive())
	})
})

var _ = Describe("ManualExecutor", func() {
	It("fires timers in deadline order as the clock advances", func() {
		exec := client.NewManualExecutor()

		var got []string
		exec.AfterFunc(2*time.Second, func() { got = append(got, "two") })
		exec.AfterFunc(time.Second, func() {
			got = append(got, "one")
			exec.Post(func() { got = append(got, "posted") })
		})

		exec.Advance(1500 * time.Millisecond)
		Expect(got).To(Equal([]string{"one", "posted"}))

		exec.Advance(time.Second)
		Expect(got).To(Equal([]string{"one", "posted", "two"}))
	})
})
