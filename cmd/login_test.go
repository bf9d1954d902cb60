package cmd

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/msnp/contacts"
	"github.com/luma/msnp/internal/env"
	"github.com/luma/msnp/session"
	"github.com/luma/msnp/storage"
)

var _ = Describe("openStore", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "msnp-cmd")
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("opens nothing for none", func() {
		store, closeStore, err := openStore(&env.Config{Store: "none"}, zap.NewNop())
		Expect(err).To(Succeed())
		Expect(store).To(BeNil())
		Expect(closeStore()).To(Succeed())
	})

	It("rejects unknown kinds", func() {
		_, _, err := openStore(&env.Config{Store: "redis"}, zap.NewNop())
		Expect(err).To(MatchError(ContainSubstring("redis")))
	})

	It("writes the json document back on close", func() {
		conf := &env.Config{Store: "json", StorePath: filepath.Join(dir, "buddies.json")}

		store, closeStore, err := openStore(conf, zap.NewNop())
		Expect(err).To(Succeed())
		Expect(store).To(BeAssignableToTypeOf(&storage.InmemoryStore{}))

		snap := &contacts.Snapshot{
			Account: "alice@example.com",
			Version: 3,
			Users:   []contacts.SnapshotUser{{Passport: "bob@example.com", FriendlyName: "Bob", Lists: contacts.Forward}},
		}
		Expect(store.Save(context.Background(), snap)).To(Succeed())
		Expect(closeStore()).To(Succeed())

		reopened, closeAgain, err := openStore(conf, zap.NewNop())
		Expect(err).To(Succeed())
		defer closeAgain()

		loaded, err := reopened.Load(context.Background(), "alice@example.com")
		Expect(err).To(Succeed())
		Expect(loaded.Version).To(Equal(3))
		Expect(loaded.Users).To(HaveLen(1))
		Expect(loaded.Users[0].Passport).To(Equal("bob@example.com"))
	})

	It("opens a bbolt database", func() {
		conf := &env.Config{Store: "bbolt", StorePath: filepath.Join(dir, "msnp.db")}

		store, closeStore, err := openStore(conf, zap.NewNop())
		Expect(err).To(Succeed())
		Expect(store).To(BeAssignableToTypeOf(&storage.BboltStore{}))
		Expect(closeStore()).To(Succeed())
	})
})

var _ = Describe("sessionConfig", func() {
	It("carries the settings over", func() {
		conf := sessionConfig(&env.Config{
			Account:        "alice@example.com",
			Password:       "secret",
			DispatchServer: "localhost:1863",
			Versions:       []string{"MSNP8"},
			Status:         "AWY",
		})

		Expect(conf.Account).To(Equal("alice@example.com"))
		Expect(conf.Versions).To(Equal([]string{"MSNP8"}))
		Expect(conf.Status).To(Equal(contacts.Away))
		Expect(conf.ClientName).To(HavePrefix("msnp/"))
		Expect(conf.Validate()).To(Succeed())
	})
})

var _ = Describe("logUI", func() {
	It("answers choices with the configured option", func() {
		ui := newLogUI(1, zap.NewNop())

		picked := -1
		ui.RequestChoice(session.Choice{
			Title:   "Authorization request",
			Options: []string{"Authorize", "Deny"},
			Answer:  func(option int) { picked = option },
		})

		Expect(picked).To(Equal(1))
	})

	It("leaves choices unanswered by default", func() {
		ui := newLogUI(-1, zap.NewNop())

		called := false
		ui.RequestChoice(session.Choice{
			Options: []string{"Authorize", "Deny"},
			Answer:  func(int) { called = true },
		})

		Expect(called).To(BeFalse())
	})

	It("signals the end of a session once", func() {
		ui := newLogUI(-1, zap.NewNop())

		ui.StateChanged(session.Disconnected)
		Expect(ui.disconnected).NotTo(BeClosed())

		ui.StateChanged(session.Connecting)
		ui.StateChanged(session.Disconnected)
		Expect(ui.disconnected).To(BeClosed())

		ui.StateChanged(session.Connecting)
		ui.StateChanged(session.Disconnected)
		Expect(ui.disconnected).To(BeClosed())
	})
})
