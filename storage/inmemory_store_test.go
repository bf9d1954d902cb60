package storage_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/storage"
)

func sampleSnapshot(account string) *contacts.Snapshot {
	return &contacts.Snapshot{
		Account: account,
		Version: 7,
		Users: []contacts.SnapshotUser{
			{Passport: "bob@example.com", FriendlyName: "Bob", Lists: contacts.Forward | contacts.Allow, Groups: []int{0}},
		},
		Groups: []contacts.SnapshotGroup{{ID: 0, Name: "Other Contacts"}},
	}
}

var _ = Describe("storage / InmemoryStore", func() {
	Describe("Close()", func() {
		It("does not panic when closed twice", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(func() { store.Close() }).NotTo(Panic())
			Expect(func() { store.Close() }).NotTo(Panic())
		})

		It("refuses to load once closed", func() {
			store := storage.NewInmemoryStore()
			Expect(store.Close()).To(Succeed())

			_, err := store.Load(context.Background(), "alice@example.com")
			Expect(err).To(MatchError(storage.ErrClosed))
		})
	})

	It("an empty inmemory store equals {}", func() {
		store := storage.NewInmemoryStore()
		defer store.Close()

		value, err := store.Backup()
		Expect(err).To(Succeed())
		Expect(string(value)).To(Equal(`{}`))
	})

	Describe("Save() / Load()", func() {
		It("can read a snapshot that is written", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			snap := sampleSnapshot("alice@example.com")
			Expect(store.Save(context.Background(), snap)).To(Succeed())

			Expect(store.Load(context.Background(), "Alice@Example.com")).To(Equal(snap))
		})

		It("keeps accounts apart even though passports contain dots", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Save(context.Background(), sampleSnapshot("alice@example.com"))).To(Succeed())

			_, err := store.Load(context.Background(), "alice@example")
			Expect(errors.Is(err, storage.ErrNotFound)).To(BeTrue())

			value, err := store.Backup()
			Expect(err).To(Succeed())
			Expect(string(value)).To(HavePrefix(`{"accounts":{"alice@example.com":{`))
		})

		It("reports accounts that were never saved", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			_, err := store.Load(context.Background(), "nobody@example.com")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})
	})

	Describe("Backup() / Restore()", func() {
		It("moves the document between stores", func() {
			from := storage.NewInmemoryStore()
			defer from.Close()
			Expect(from.Save(context.Background(), sampleSnapshot("alice@example.com"))).To(Succeed())

			doc, err := from.Backup()
			Expect(err).To(Succeed())

			to := storage.NewInmemoryStore()
			defer to.Close()
			Expect(to.Restore(doc)).To(Succeed())

			Expect(to.Load(context.Background(), "alice@example.com")).To(Equal(sampleSnapshot("alice@example.com")))
		})

		It("rejects documents that are not JSON", func() {
			store := storage.NewInmemoryStore()
			defer store.Close()

			Expect(store.Restore([]byte("{nope"))).To(MatchError(storage.ErrInvalidDocument))
		})
	})
})
