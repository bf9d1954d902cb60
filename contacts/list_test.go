package contacts_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/msnp/contacts"
)

var _ = Describe("List", func() {
	var list *contacts.List

	BeforeEach(func() {
		list = contacts.NewList()
		list.AddGroup(0, "Other Contacts")
		list.AddGroup(1, "Work")
	})

	It("parses and prints list codes", func() {
		l, ok := contacts.ParseList("BL")
		Expect(ok).To(BeTrue())
		Expect(l).To(Equal(contacts.Block))

		_, ok = contacts.ParseList("XX")
		Expect(ok).To(BeFalse())

		Expect((contacts.Forward | contacts.Reverse).String()).To(Equal("FL|RL"))
		Expect(contacts.Allow.Code()).To(Equal("AL"))
	})

	It("looks users up case insensitively", func() {
		list.AddToList("Bob@Example.com", "Bob", contacts.Forward)

		u, err := list.User("bob@example.com")
		Expect(err).To(Succeed())
		Expect(u.FriendlyName).To(Equal("Bob"))
		Expect(u.Presence).To(Equal(contacts.Offline))
	})

	It("reports unknown users", func() {
		_, err := list.User("nobody@example.com")
		Expect(errors.Is(err, contacts.ErrUnknownUser)).To(BeTrue())
	})

	It("reference counts group members", func() {
		list.AddToList("a@example.com", "a", contacts.Forward)
		list.AddToList("b@example.com", "b", contacts.Forward)

		Expect(list.AddToGroup("a@example.com", 1)).To(Succeed())
		Expect(list.AddToGroup("a@example.com", 1)).To(Succeed())
		Expect(list.AddToGroup("b@example.com", 1)).To(Succeed())

		g, err := list.Group(1)
		Expect(err).To(Succeed())
		Expect(g.Members()).To(Equal(2))

		Expect(list.RemoveFromGroup("a@example.com", 1)).To(Succeed())
		Expect(g.Members()).To(Equal(1))

		_, _, err = list.RemoveFromList("b@example.com", contacts.Forward)
		Expect(err).To(Succeed())
		Expect(g.Members()).To(Equal(0))
	})

	It("drops users left on no list", func() {
		list.AddToList("a@example.com", "a", contacts.Forward|contacts.Allow)

		_, gone, err := list.RemoveFromList("a@example.com", contacts.Forward)
		Expect(err).To(Succeed())
		Expect(gone).To(BeFalse())

		_, gone, err = list.RemoveFromList("a@example.com", contacts.Allow)
		Expect(err).To(Succeed())
		Expect(gone).To(BeTrue())
		Expect(list.Len()).To(Equal(0))
	})

	It("refuses to add users to unknown groups", func() {
		list.AddToList("a@example.com", "a", contacts.Forward)
		Expect(errors.Is(list.AddToGroup("a@example.com", 42), contacts.ErrUnknownGroup)).To(BeTrue())
	})

	It("removes groups from their members", func() {
		list.AddToList("a@example.com", "a", contacts.Forward)
		Expect(list.AddToGroup("a@example.com", 1)).To(Succeed())

		Expect(list.RemoveGroup(1)).To(Succeed())

		u, _ := list.User("a@example.com")
		Expect(u.GroupIDs()).To(BeEmpty())

		_, ok := list.GroupByName("Work")
		Expect(ok).To(BeFalse())
	})

	It("flags reverse list users we did not answer yet", func() {
		u := list.AddToList("c@example.com", "c", contacts.Reverse)
		Expect(u.NeedsAuthorization()).To(BeTrue())

		list.AddToList("c@example.com", "", contacts.Allow)
		Expect(u.NeedsAuthorization()).To(BeFalse())
		Expect(u.FriendlyName).To(Equal("c"))
	})
})

var _ = Describe("Snapshot", func() {
	build := func() *contacts.List {
		list := contacts.NewList()
		list.Version = 12
		list.AddGroup(0, "Other Contacts")
		list.AddGroup(1, "Work")
		list.AddToList("a@example.com", "Alice", contacts.Forward|contacts.Allow)
		list.AddToList("b@example.com", "Bob", contacts.Forward|contacts.Allow|contacts.Reverse)
		list.AddToGroup("a@example.com", 1)
		list.AddToGroup("b@example.com", 0)
		return list
	}

	It("restores what it captured", func() {
		snap := build().Snapshot("me@example.com")

		restored := contacts.NewList()
		restored.Restore(snap)

		Expect(restored.Snapshot("me@example.com")).To(Equal(snap))
		g, err := restored.Group(1)
		Expect(err).To(Succeed())
		Expect(g.Members()).To(Equal(1))
	})

	It("finds nothing when the lists agree", func() {
		snap := build().Snapshot("me@example.com")
		Expect(contacts.Diff(snap, build().Snapshot("me@example.com"))).To(BeEmpty())
	})

	It("reports each remembered entry missing from the server exactly once", func() {
		remembered := build().Snapshot("me@example.com")

		server := build()
		_, _, err := server.RemoveFromList("a@example.com", contacts.Forward|contacts.Allow)
		Expect(err).To(Succeed())
		Expect(server.RemoveGroup(1)).To(Succeed())

		diff := contacts.Diff(remembered, server.Snapshot("me@example.com"))
		Expect(diff).To(HaveLen(2))
		Expect(diff[0].Kind).To(Equal(contacts.UserMissing))
		Expect(diff[0].Passport).To(Equal("a@example.com"))
		Expect(diff[1].Kind).To(Equal(contacts.GroupMissing))
		Expect(diff[1].Name).To(Equal("Work"))
	})

	It("reports changed memberships", func() {
		remembered := build().Snapshot("me@example.com")

		server := build()
		server.AddToList("b@example.com", "", contacts.Block)
		Expect(server.RemoveFromGroup("a@example.com", 1)).To(Succeed())
		Expect(server.AddToGroup("a@example.com", 0)).To(Succeed())

		diff := contacts.Diff(remembered, server.Snapshot("me@example.com"))
		Expect(diff).To(HaveLen(2))
		Expect(diff[0].Kind).To(Equal(contacts.GroupsChanged))
		Expect(diff[1].Kind).To(Equal(contacts.ListsChanged))
		Expect(diff[1].NewLists.Has(contacts.Block)).To(BeTrue())
	})

	It("ignores changes to the reverse list", func() {
		remembered := build().Snapshot("me@example.com")

		server := build()
		server.AddToList("a@example.com", "", contacts.Reverse)

		Expect(contacts.Diff(remembered, server.Snapshot("me@example.com"))).To(BeEmpty())
	})
})
