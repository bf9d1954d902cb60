package session_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/protocol"
	"github.com/luma/msnp/session"
)

var _ = Describe("Login", func() {
	var (
		exec   *client.ManualExecutor
		dialer *fakeDialer
		ui     *recordingUI
	)

	BeforeEach(func() {
		exec = client.NewManualExecutor()
		dialer = newFakeDialer(exec)
		ui = &recordingUI{}
	})

	It("logs in through a redirect and goes straight to connected when nothing changed", func() {
		sess := newSession(exec, dialer, ui, session.Config{})
		ns := authenticate(sess, exec, dialer)

		ds := dialer.servers[0]
		Expect(ds.addr).To(Equal(dispatchNS))
		Expect(ds.closed).To(BeTrue())
		Expect(ds.lines()).To(Equal([]string{
			"VER 1 MSNP9 MSNP8 CVR0",
			"CVR 2 0x0409 winnt 5.1 i386 MSNMSGR 6.0.0602 MSMSGS alice@example.com",
			"USR 3 TWN I alice@example.com",
		}))

		Expect(ns.addr).To(Equal("10.0.0.2:1863"))
		ns.send("SYN 5 0 0 0")

		Expect(ns.lines()).To(Equal([]string{
			"VER 1 MSNP9 MSNP8 CVR0",
			"CVR 2 0x0409 winnt 5.1 i386 MSNMSGR 6.0.0602 MSMSGS alice@example.com",
			"USR 3 TWN I alice@example.com",
			"USR 4 TWN S t=ticket&p=profile",
			"SYN 5 0",
			"CHG 6 NLN " + clientID,
		}))

		Expect(sess.State()).To(Equal(session.Connected))
		Expect(sess.Version()).To(Equal("MSNP9"))
		Expect(sess.FriendlyName()).To(Equal("Alice A"))
		Expect(ui.states).To(Equal([]session.State{
			session.Connecting,
			session.VersionNegotiated,
			session.Authenticating,
			session.Transferred,
			session.Connected,
		}))
		Expect(ui.errors).To(BeEmpty())
	})

	It("falls back to the second proposed version", func() {
		sess := newSession(exec, dialer, ui, session.Config{})
		Expect(sess.Connect(context.Background())).To(Succeed())
		exec.Drain()

		dialer.last().send("VER 1 MSNP8 CVR0")

		Expect(sess.Version()).To(Equal("MSNP8"))
		Expect(sess.State()).To(Equal(session.VersionNegotiated))
	})

	It("disconnects when no proposed version is accepted", func() {
		sess := newSession(exec, dialer, ui, session.Config{})
		Expect(sess.Connect(context.Background())).To(Succeed())
		exec.Drain()

		ds := dialer.last()
		ds.send("VER 1 0")

		Expect(sess.State()).To(Equal(session.Disconnected))
		Expect(ds.closed).To(BeTrue())
		Expect(ui.errors).To(Equal([]string{"Unable to connect: Protocol not supported"}))
	})

	It("logs in with MD5 on a dispatch server that serves notifications itself", func() {
		sess := newSession(exec, dialer, ui, session.Config{Versions: []string{"MSNP7"}})
		Expect(sess.Connect(context.Background())).To(Succeed())
		exec.Drain()

		ds := dialer.last()
		ds.send("VER 1 MSNP7 CVR0")
		ds.send("INF 2 MD5")
		ds.send("USR 3 MD5 S 1013928519.693957190")
		ds.send("USR 4 OK alice@example.com Alice")
		ds.send("SYN 5 12")

		Expect(sess.State()).To(Equal(session.Syncing))

		ds.send(
			"LSG 5 12 1 1 0 Friends 0",
			"LST 5 FL 12 1 1 bob@example.com Bob 0",
			"LST 5 AL 12 1 1 bob@example.com Bob",
			"LST 5 BL 12 0 0",
		)
		Expect(sess.State()).To(Equal(session.Syncing))

		ds.send("LST 5 RL 12 1 1 bob@example.com Bob")
		Expect(sess.State()).To(Equal(session.Connected))

		Expect(dialer.servers).To(HaveLen(1))
		Expect(ds.lines()).To(Equal([]string{
			"VER 1 MSNP7 CVR0",
			"INF 2",
			"USR 3 MD5 I alice@example.com",
			"USR 4 MD5 S " + protocol.MD5Password("1013928519.693957190", "secret"),
			"SYN 5 0",
			"CHG 6 NLN",
		}))

		bob, err := sess.Contacts().User("bob@example.com")
		Expect(err).To(Succeed())
		Expect(bob.Lists).To(Equal(contacts.Forward | contacts.Allow | contacts.Reverse))
		Expect(bob.GroupIDs()).To(Equal([]int{0}))
		Expect(sess.Contacts().Version).To(Equal(12))

		Expect(ui.states).To(ContainElement(session.Syncing))
		Expect(ui.events).To(ContainElement("group 0 Friends"))
		Expect(ui.events).To(ContainElement("buddy bob@example.com"))
	})

	It("disconnects when the server does not offer MD5", func() {
		sess := newSession(exec, dialer, ui, session.Config{Versions: []string{"MSNP7"}})
		Expect(sess.Connect(context.Background())).To(Succeed())
		exec.Drain()

		ds := dialer.last()
		ds.send("VER 1 MSNP7 CVR0")
		ds.send("INF 2 SHA")

		Expect(sess.State()).To(Equal(session.Disconnected))
		Expect(ui.errors).To(HaveLen(1))
	})

	It("reports rejected credentials once", func() {
		sess := newSession(exec, dialer, ui, session.Config{Versions: []string{"MSNP7"}})
		Expect(sess.Connect(context.Background())).To(Succeed())
		exec.Drain()

		ds := dialer.last()
		ds.send("VER 1 MSNP7 CVR0")
		ds.send("INF 2 MD5")
		ds.send("USR 3 MD5 S 1013928519.693957190")
		ds.send("911 4")

		Expect(sess.State()).To(Equal(session.Disconnected))
		Expect(ui.errors).To(Equal([]string{"Unable to authenticate: Authentication failed"}))
	})

	It("reports a failing ticket issuer", func() {
		sess := newSession(exec, dialer, ui, session.Config{}, session.WithTicketIssuer(fixedTicket("")))
		Expect(sess.Connect(context.Background())).To(Succeed())
		exec.Drain()

		ds := dialer.last()
		ds.send("VER 1 MSNP9 CVR0")
		ds.send(cvrReply)
		ds.send("USR 3 TWN S lc=1033,id=507")

		Expect(sess.State()).To(Equal(session.Disconnected))
		Expect(ui.errors).To(Equal([]string{"Unable to authenticate: passport is down"}))
	})

	It("fails the login when the server does not answer", func() {
		sess := newSession(exec, dialer, ui, session.Config{})
		Expect(sess.Connect(context.Background())).To(Succeed())
		exec.Drain()

		ds := dialer.last()
		Expect(ds.lines()).To(HaveLen(1))

		exec.Advance(client.DefaultTimeout + time.Second)

		Expect(sess.State()).To(Equal(session.Disconnected))
		Expect(ds.closed).To(BeTrue())
		Expect(ui.errors).To(Equal([]string{"Unable to connect: The server did not answer in time"}))
	})

	It("reports a refused connection", func() {
		dialer.refuse[dispatchNS] = errors.New("connection refused")

		sess := newSession(exec, dialer, ui, session.Config{})
		Expect(sess.Connect(context.Background())).To(Succeed())
		exec.Drain()

		Expect(sess.State()).To(Equal(session.Disconnected))
		Expect(ui.errors).To(HaveLen(1))
		Expect(ui.errors[0]).To(ContainSubstring("connection refused"))
	})

	It("refuses to connect twice", func() {
		sess := newSession(exec, dialer, ui, session.Config{})
		Expect(sess.Connect(context.Background())).To(Succeed())
		Expect(sess.Connect(context.Background())).To(MatchError(session.ErrAlreadyConnected))
	})

	It("validates the configuration", func() {
		_, err := session.New(session.Config{}, exec, dialer, ui, nil)
		Expect(err).To(MatchError(session.ErrMissingAccount))

		_, err = session.New(session.Config{Account: account, Versions: []string{"MSNP12"}}, exec, dialer, ui, nil)
		Expect(errors.Is(err, session.ErrUnknownVersion)).To(BeTrue())

		_, err = session.New(session.Config{Account: account, Status: contacts.Offline}, exec, dialer, ui, nil)
		Expect(errors.Is(err, session.ErrInvalidStatus)).To(BeTrue())
	})

	Context("once connected", func() {
		var (
			sess *session.Session
			ns   *fakeServer
		)

		BeforeEach(func() {
			sess = newSession(exec, dialer, ui, session.Config{})
			ns = connect(sess, exec, dialer)
		})

		It("reports a lost connection exactly once", func() {
			ns.hangUp()

			Expect(sess.State()).To(Equal(session.Disconnected))
			Expect(ui.errors).To(HaveLen(1))
			Expect(ui.errors[0]).To(HavePrefix("Connection lost: "))

			sess.Disconnect()
			ns.hangUp()

			Expect(ui.errors).To(HaveLen(1))
			Expect(ui.states[len(ui.states)-1]).To(Equal(session.Disconnected))
		})

		It("signs out when signed in elsewhere", func() {
			ns.send("OUT OTH")

			Expect(sess.State()).To(Equal(session.Disconnected))
			Expect(ns.closed).To(BeTrue())
			Expect(ui.errors).To(Equal([]string{"Signed off: You have signed on from another location"}))
		})

		It("logs out quietly", func() {
			sess.Disconnect()

			Expect(ns.last()).To(Equal("OUT"))
			Expect(ns.closed).To(BeTrue())
			Expect(sess.State()).To(Equal(session.Disconnected))
			Expect(ui.errors).To(BeEmpty())
		})

		It("sends keepalives without a transaction id", func() {
			exec.Advance(session.DefaultKeepAlive)
			Expect(ns.last()).To(Equal("PNG"))

			ns.send("QNG 50")
			exec.Advance(session.DefaultKeepAlive)

			Expect(ns.count("PNG")).To(Equal(2))
			Expect(ui.errors).To(BeEmpty())
		})

		It("answers challenges", func() {
			ns.send("CHL 0 29409134351025259292")

			Expect(ns.last()).To(Equal("QRY 7 " + protocol.ChallengeProductID + " 32"))
			Expect(ns.payload("QRY 7")).To(Equal(string(protocol.ChallengeResponse("29409134351025259292"))))

			ns.send("QRY 7")
			Expect(ui.errors).To(BeEmpty())
		})

		It("moves to another notification server without syncing again", func() {
			ns.send("XFR 0 NS 10.0.0.3:1863 0 65.54.239.140:1863")

			Expect(ns.closed).To(BeTrue())

			ns2 := dialer.last()
			Expect(ns2.addr).To(Equal("10.0.0.3:1863"))
			Expect(sess.State()).To(Equal(session.Connected))

			ns2.send("VER 1 MSNP9 CVR0")
			ns2.send(cvrReply)
			ns2.send("USR 3 TWN S lc=1033,id=507")
			ns2.send("USR 4 OK alice@example.com Alice")

			Expect(ns2.last()).To(Equal("CHG 5 NLN " + clientID))
			Expect(ns2.count("SYN")).To(BeZero())
			Expect(ui.errors).To(BeEmpty())
		})

		It("announces a status change", func() {
			Expect(sess.SetStatus(contacts.Away)).To(Succeed())
			Expect(ns.last()).To(Equal("CHG 7 AWY " + clientID))

			ns.send("CHG 7 AWY " + clientID)
			Expect(sess.Status()).To(Equal(contacts.Away))

			Expect(sess.SetStatus(contacts.Offline)).To(MatchError(session.ErrInvalidStatus))
		})

		It("reports fatal server errors", func() {
			ns.send("911 0")

			Expect(sess.State()).To(Equal(session.Disconnected))
			Expect(ui.errors).To(Equal([]string{"Server error: Authentication failed"}))
		})
	})
})
