package client_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/protocol"
)

func mustParse(line string) *protocol.Command {
	cmd, err := protocol.ParseLine(line)
	Expect(err).To(Succeed())
	return cmd
}

var _ = Describe("Tracker", func() {
	var (
		exec     *client.ManualExecutor
		w        *recordingWriter
		tracker  *client.Tracker
		critical []error
	)

	BeforeEach(func() {
		exec = client.NewManualExecutor()
		w = &recordingWriter{}
		critical = nil
		tracker = client.NewTracker(exec, w.write, func(err error) {
			critical = append(critical, err)
		}, zap.NewNop())
	})

	It("assigns strictly increasing ids at write time", func() {
		Expect(tracker.SetReady()).To(Succeed())

		var ids []uint32
		for i := 0; i < 5; i++ {
			tx := client.NewTransaction(protocol.PNG)
			tx.Flags = client.NoReply
			Expect(tracker.Send(tx)).To(Succeed())
			ids = append(ids, tx.ID())
		}

		Expect(ids).To(Equal([]uint32{1, 2, 3, 4, 5}))
	})

	It("queues while not ready and flushes once in order", func() {
		a := client.NewTransaction(protocol.MSG, "A")
		b := client.NewTransaction(protocol.MSG, "N")
		Expect(tracker.Send(a)).To(Succeed())
		Expect(tracker.Send(b)).To(Succeed())

		Expect(w.lines).To(BeEmpty())
		Expect(tracker.Queued()).To(Equal(2))

		Expect(tracker.SetReady()).To(Succeed())
		Expect(tracker.SetReady()).To(Succeed())

		Expect(w.lines).To(Equal([]string{"MSG 1 A", "MSG 2 N"}))
		Expect(tracker.Queued()).To(Equal(0))
	})

	It("lets SendNow bypass the queue", func() {
		Expect(tracker.Send(client.NewTransaction(protocol.CAL, "bob@example.com"))).To(Succeed())
		Expect(tracker.SendNow(client.NewTransaction(protocol.USR, "alice@example.com", "key"))).To(Succeed())

		Expect(w.lines).To(Equal([]string{"USR 1 alice@example.com key"}))

		Expect(tracker.SetReady()).To(Succeed())
		Expect(w.lines).To(Equal([]string{"USR 1 alice@example.com key", "CAL 2 bob@example.com"}))
	})

	It("matches replies to the oldest pending transaction of the same verb", func() {
		Expect(tracker.SetReady()).To(Succeed())

		first := client.NewTransaction(protocol.ADD, "FL", "a@example.com", "a")
		second := client.NewTransaction(protocol.ADD, "FL", "b@example.com", "b")
		Expect(tracker.Send(first)).To(Succeed())
		Expect(tracker.Send(second)).To(Succeed())

		Expect(tracker.Match(mustParse("ADD 1 FL 10 a@example.com a"), nil)).To(BeIdenticalTo(first))
		Expect(tracker.Match(mustParse("ADD 2 FL 11 b@example.com b"), nil)).To(BeIdenticalTo(second))
		Expect(tracker.Pending()).To(Equal(0))
	})

	It("prefers verb order over a differing echoed id", func() {
		Expect(tracker.SetReady()).To(Succeed())

		first := client.NewTransaction(protocol.REM, "FL", "a@example.com")
		second := client.NewTransaction(protocol.REM, "FL", "b@example.com")
		Expect(tracker.Send(first)).To(Succeed())
		Expect(tracker.Send(second)).To(Succeed())

		Expect(tracker.Match(mustParse("REM 2 FL 11 b@example.com"), nil)).To(BeIdenticalTo(first))
	})

	It("matches on declared reply verbs and on routes of the transaction context", func() {
		Expect(tracker.SetReady()).To(Succeed())

		xfr := client.NewTransaction(protocol.XFR, "SB")
		xfr.OnReply(protocol.RNG, func(*protocol.Command) {})
		Expect(tracker.Send(xfr)).To(Succeed())

		syn := client.NewTransaction(protocol.SYN, "0")
		syn.Context = "sync"
		Expect(tracker.Send(syn)).To(Succeed())

		routes := func(ctx client.Context, verb protocol.Verb) bool {
			return ctx == "sync" && verb == protocol.GTC
		}

		Expect(tracker.Match(mustParse("NLN NLN x@example.com x"), routes)).To(BeNil())
		Expect(tracker.Match(mustParse("GTC 2 A"), routes)).To(BeIdenticalTo(syn))
		Expect(tracker.Match(mustParse("RNG 1 1.2.3.4:1863"), routes)).To(BeIdenticalTo(xfr))
	})

	It("never resolves a transaction with an unsolicited zero id", func() {
		Expect(tracker.SetReady()).To(Succeed())
		Expect(tracker.Send(client.NewTransaction(protocol.ADD, "AL", "a@example.com", "a"))).To(Succeed())

		Expect(tracker.Match(mustParse("ADD 0 RL 12 c@example.com c"), nil)).To(BeNil())
		Expect(tracker.Pending()).To(Equal(1))
	})

	It("routes numeric errors by echoed id, else to the most recent transaction", func() {
		Expect(tracker.SetReady()).To(Succeed())

		a := client.NewTransaction(protocol.ADD, "FL", "a@example.com", "a")
		b := client.NewTransaction(protocol.CHG, "NLN")
		c := client.NewTransaction(protocol.REA, "a@example.com", "x")
		Expect(tracker.Send(a)).To(Succeed())
		Expect(tracker.Send(b)).To(Succeed())
		Expect(tracker.Send(c)).To(Succeed())

		Expect(tracker.MatchError(mustParse("201 1"))).To(BeIdenticalTo(a))
		Expect(tracker.MatchError(mustParse("500"))).To(BeIdenticalTo(c))
		Expect(tracker.Pending()).To(Equal(1))
	})

	It("does not hand an error for a timed out transaction to a newer one", func() {
		Expect(tracker.SetReady()).To(Succeed())

		first := client.NewTransaction(protocol.ADD, "FL", "a@example.com", "a")
		first.Timeout = time.Second
		Expect(tracker.Send(first)).To(Succeed())
		exec.Advance(2 * time.Second)

		second := client.NewTransaction(protocol.ADD, "FL", "b@example.com", "b")
		Expect(tracker.Send(second)).To(Succeed())

		Expect(tracker.MatchError(mustParse("201 1"))).To(BeNil())
		Expect(tracker.Pending()).To(Equal(1))
		Expect(tracker.MatchError(mustParse("201 2"))).To(BeIdenticalTo(second))
	})

	It("does not hand an error for an untracked transaction to a pending one", func() {
		Expect(tracker.SetReady()).To(Succeed())

		text := client.NewTransaction(protocol.MSG, "A")
		Expect(tracker.Send(text)).To(Succeed())

		typing := client.NewTransaction(protocol.MSG, "U")
		typing.Flags = client.NoReply
		Expect(tracker.Send(typing)).To(Succeed())
		Expect(typing.ID()).To(Equal(uint32(2)))

		Expect(tracker.MatchError(mustParse("282 2"))).To(BeNil())
		Expect(tracker.Pending()).To(Equal(1))
	})

	It("times out a transaction and does not let a later reply resolve it", func() {
		Expect(tracker.SetReady()).To(Succeed())

		var errs []error
		tx := client.NewTransaction(protocol.ADD, "FL", "a@example.com", "a")
		tx.Timeout = 10 * time.Second
		tx.OnError = func(err error) { errs = append(errs, err) }
		Expect(tracker.Send(tx)).To(Succeed())

		exec.Advance(11 * time.Second)
		Expect(errs).To(HaveLen(1))
		Expect(errors.Is(errs[0], client.ErrTimeout)).To(BeTrue())
		Expect(tracker.Pending()).To(Equal(0))

		later := client.NewTransaction(protocol.ADD, "FL", "b@example.com", "b")
		Expect(tracker.Send(later)).To(Succeed())

		Expect(tracker.Match(mustParse("ADD 1 FL 10 a@example.com a"), nil)).To(BeNil())
		Expect(tracker.Match(mustParse("ADD 2 FL 11 b@example.com b"), nil)).To(BeIdenticalTo(later))
		Expect(critical).To(BeEmpty())
	})

	It("stops the timer when a reply arrives", func() {
		Expect(tracker.SetReady()).To(Succeed())

		timedOut := false
		tx := client.NewTransaction(protocol.CHG, "NLN")
		tx.OnError = func(error) { timedOut = true }
		Expect(tracker.Send(tx)).To(Succeed())

		Expect(tracker.Match(mustParse("CHG 1 NLN 0"), nil)).To(BeIdenticalTo(tx))
		exec.Advance(time.Minute)

		Expect(timedOut).To(BeFalse())
		Expect(exec.PendingTimers()).To(Equal(0))
	})

	It("escalates critical timeouts", func() {
		tx := client.NewTransaction(protocol.USR, "TWN", "I", "alice@example.com")
		tx.Flags = client.Critical
		Expect(tracker.SendNow(tx)).To(Succeed())

		exec.Advance(client.DefaultTimeout)
		Expect(critical).To(HaveLen(1))
	})

	It("aborts pending and queued transactions", func() {
		var errs []error
		onErr := func(err error) { errs = append(errs, err) }

		sent := client.NewTransaction(protocol.USR, "alice@example.com", "key")
		sent.OnError = onErr
		Expect(tracker.SendNow(sent)).To(Succeed())

		queued := client.NewTransaction(protocol.MSG, "A")
		queued.OnError = onErr
		Expect(tracker.Send(queued)).To(Succeed())

		tracker.Abort(client.ErrConnectionClosed)

		Expect(errs).To(HaveLen(2))
		for _, err := range errs {
			Expect(errors.Is(err, client.ErrConnectionClosed)).To(BeTrue())
		}
		Expect(exec.PendingTimers()).To(Equal(0))
	})

	It("gives fire and forget transactions an id without tracking them", func() {
		Expect(tracker.SetReady()).To(Succeed())

		tx := client.NewTransaction(protocol.MSG, "U")
		tx.Flags = client.NoReply
		Expect(tracker.Send(tx)).To(Succeed())

		Expect(tx.ID()).To(Equal(uint32(1)))
		Expect(tracker.Pending()).To(Equal(0))
		Expect(exec.PendingTimers()).To(Equal(0))
	})

	It("writes PNG style commands without any id", func() {
		Expect(tracker.SetReady()).To(Succeed())

		tx := client.NewTransaction(protocol.PNG)
		tx.Flags = client.NoTrID
		Expect(tracker.Send(tx)).To(Succeed())
		Expect(tracker.Send(client.NewTransaction(protocol.CHG, "NLN", "0"))).To(Succeed())

		Expect(w.lines).To(Equal([]string{"PNG", "CHG 1 NLN 0"}))
		Expect(tracker.Pending()).To(Equal(1))
	})

	It("does not let inbound MSG lines resolve a message waiting for its ACK", func() {
		Expect(tracker.SetReady()).To(Succeed())

		tx := client.NewTransaction(protocol.MSG, "A")
		tx.Payload = []byte("hi")
		tx.OnReply(protocol.ACK, func(*protocol.Command) {})
		tx.OnReply(protocol.NAK, func(*protocol.Command) {})
		Expect(tracker.Send(tx)).To(Succeed())

		Expect(tracker.Match(mustParse("MSG bob@example.com Bob 2"), nil)).To(BeNil())
		Expect(tracker.Match(mustParse("ACK 1"), nil)).To(BeIdenticalTo(tx))
	})
})
