package session_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/msnp/client"
	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/session"
	"github.com/luma/msnp/storage"
)

var _ = Describe("Buddy list download", func() {
	var (
		exec   *client.ManualExecutor
		dialer *fakeDialer
		ui     *recordingUI
		store  *storage.InmemoryStore
		sess   *session.Session
	)

	remember := func(version int) {
		Expect(store.Save(context.Background(), &contacts.Snapshot{
			Account: account,
			Version: version,
			Users: []contacts.SnapshotUser{
				{Passport: "bob@example.com", FriendlyName: "Bob", Lists: contacts.Forward | contacts.Allow, Groups: []int{0}},
				{Passport: "carol@example.com", FriendlyName: "Carol", Lists: contacts.Forward | contacts.Allow},
			},
			Groups: []contacts.SnapshotGroup{
				{ID: 0, Name: "Friends"},
				{ID: 1, Name: "Work"},
			},
		})).To(Succeed())
	}

	BeforeEach(func() {
		exec = client.NewManualExecutor()
		dialer = newFakeDialer(exec)
		ui = &recordingUI{}
		store = storage.NewInmemoryStore()
		sess = newSession(exec, dialer, ui, session.Config{}, session.WithStore(store))
	})

	It("consumes exactly the announced number of entries", func() {
		remember(3)
		ns := authenticate(sess, exec, dialer)
		Expect(ns.last()).To(Equal("SYN 5 3"))

		ns.send("SYN 5 4 2 1")
		Expect(sess.State()).To(Equal(session.Syncing))

		ns.send(
			"GTC A",
			"BLP AL",
			"LSG 0 Friends 0",
			"LST bob@example.com Bob 11 0",
			"BPR PHH 555%20123",
		)
		Expect(sess.State()).To(Equal(session.Syncing))

		ns.send("LST dave@example.com Dave 8")
		Expect(sess.State()).To(Equal(session.Connected))

		// Not part of the download any more
		ns.send("LST eve@example.com Eve 1")

		list := sess.Contacts()
		Expect(list.Len()).To(Equal(2))
		Expect(list.Version).To(Equal(4))
		Expect(list.AllowUnknown).To(BeTrue())
		Expect(list.PromptOnReverse).To(BeTrue())

		_, err := list.User("eve@example.com")
		Expect(err).To(MatchError(ContainSubstring("unknown user")))

		bob, err := list.User("bob@example.com")
		Expect(err).To(Succeed())
		Expect(bob.Lists).To(Equal(contacts.Forward | contacts.Allow | contacts.Reverse))
		Expect(bob.Phones).To(HaveKeyWithValue(contacts.PhoneHome, "555 123"))
		Expect(bob.InGroup(0)).To(BeTrue())
	})

	It("reports each remembered entry the server no longer has once", func() {
		remember(3)
		ns := authenticate(sess, exec, dialer)

		ns.send("SYN 5 4 2 1")
		ns.send(
			"LSG 0 Friends 0",
			"LST bob@example.com Bob 11 0",
			"LST dave@example.com Dave 8",
		)

		Expect(ui.inconsistencies).To(HaveLen(2))

		missing := ui.inconsistencies[0]
		Expect(missing.Kind).To(Equal(contacts.UserMissing))
		Expect(missing.Passport).To(Equal("carol@example.com"))

		group := ui.inconsistencies[1]
		Expect(group.Kind).To(Equal(contacts.GroupMissing))
		Expect(group.GroupID).To(Equal(1))
		Expect(group.Name).To(Equal("Work"))
	})

	It("reports every remembered entry when the server list is empty", func() {
		remember(3)
		ns := authenticate(sess, exec, dialer)
		Expect(ns.last()).To(Equal("SYN 5 3"))

		ns.send("SYN 5 9 0 0")

		Expect(sess.State()).To(Equal(session.Connected))
		Expect(sess.Contacts().Len()).To(Equal(0))
		Expect(sess.Contacts().Version).To(Equal(9))

		Expect(ui.inconsistencies).To(HaveLen(4))
		Expect(ui.inconsistencies[0].Kind).To(Equal(contacts.UserMissing))
		Expect(ui.inconsistencies[0].Passport).To(Equal("bob@example.com"))
		Expect(ui.inconsistencies[1].Kind).To(Equal(contacts.UserMissing))
		Expect(ui.inconsistencies[1].Passport).To(Equal("carol@example.com"))
		Expect(ui.inconsistencies[2].Kind).To(Equal(contacts.GroupMissing))
		Expect(ui.inconsistencies[2].GroupID).To(Equal(0))
		Expect(ui.inconsistencies[3].Kind).To(Equal(contacts.GroupMissing))
		Expect(ui.inconsistencies[3].GroupID).To(Equal(1))
	})

	It("saves the downloaded list", func() {
		remember(3)
		ns := authenticate(sess, exec, dialer)

		ns.send("SYN 5 4 2 1")
		ns.send(
			"LSG 0 Friends 0",
			"LST bob@example.com Bob 11 0",
			"LST dave@example.com Dave 8",
		)

		saved, err := store.Load(context.Background(), account)
		Expect(err).To(Succeed())
		Expect(saved.Version).To(Equal(4))
		Expect(saved.Users).To(HaveLen(2))
		Expect(saved.Users[0].Passport).To(Equal("bob@example.com"))
		Expect(saved.Users[1].Passport).To(Equal("dave@example.com"))
	})

	It("asks about buddies that added us while we were away", func() {
		ns := authenticate(sess, exec, dialer)
		Expect(ns.last()).To(Equal("SYN 5 0"))

		ns.send("SYN 5 4 1 0")
		ns.send("LST dave@example.com Dave 8")

		Expect(ui.choices).To(HaveLen(1))
		Expect(ui.choices[0].Text).To(ContainSubstring("dave@example.com"))

		ui.choices[0].Answer(0)
		exec.Drain()

		Expect(ns.last()).To(Equal("ADD 7 AL dave@example.com Dave"))

		ns.send("ADD 7 AL 5 dave@example.com Dave")

		dave, err := sess.Contacts().User("dave@example.com")
		Expect(err).To(Succeed())
		Expect(dave.NeedsAuthorization()).To(BeFalse())
	})

	It("does not prompt when the reverse list prompt is off", func() {
		ns := authenticate(sess, exec, dialer)

		ns.send("SYN 5 4 1 0")
		ns.send("GTC N", "LST dave@example.com Dave 8")

		Expect(sess.State()).To(Equal(session.Connected))
		Expect(ui.choices).To(BeEmpty())
	})

	It("restores the remembered list when the version did not change", func() {
		remember(7)
		ns := authenticate(sess, exec, dialer)
		Expect(ns.last()).To(Equal("SYN 5 7"))

		ns.send("SYN 5 7")

		Expect(sess.State()).To(Equal(session.Connected))
		Expect(ui.states).NotTo(ContainElement(session.Syncing))
		Expect(ui.inconsistencies).To(BeEmpty())

		bob, err := sess.Contacts().User("bob@example.com")
		Expect(err).To(Succeed())
		Expect(bob.InGroup(0)).To(BeTrue())
		Expect(sess.Contacts().Len()).To(Equal(2))
		Expect(ui.events).To(ContainElement("buddy carol@example.com"))
	})

	It("disconnects on a malformed SYN reply", func() {
		ns := authenticate(sess, exec, dialer)
		ns.send("SYN 5 x")

		Expect(sess.State()).To(Equal(session.Disconnected))
		Expect(ui.errors).To(HaveLen(1))
	})
})
