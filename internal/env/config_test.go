package env_test

import (
	"context"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zapcore"

	"github.com/luma/msnp/internal/env"
)

var _ = Describe("LoadConfig", func() {
	AfterEach(func() {
		os.Unsetenv("MSNP_ACCOUNT")
		os.Unsetenv("MSNP_VERSIONS")
		os.Unsetenv("MSNP_KEEPALIVE")
	})

	It("applies defaults", func() {
		conf, err := env.LoadConfig(context.Background())
		Expect(err).To(Succeed())

		Expect(conf.DispatchServer).To(Equal("messenger.hotmail.com:1863"))
		Expect(conf.Versions).To(BeEmpty())
		Expect(conf.KeepAlive).To(Equal(50 * time.Second))
		Expect(conf.Store).To(Equal("bbolt"))
	})

	It("reads MSNP_ variables", func() {
		os.Setenv("MSNP_ACCOUNT", "alice@example.com")
		os.Setenv("MSNP_VERSIONS", "MSNP8,MSNP7")
		os.Setenv("MSNP_KEEPALIVE", "10s")

		conf, err := env.LoadConfig(context.Background())
		Expect(err).To(Succeed())

		Expect(conf.Account).To(Equal("alice@example.com"))
		Expect(conf.Versions).To(Equal([]string{"MSNP8", "MSNP7"}))
		Expect(conf.KeepAlive).To(Equal(10 * time.Second))
	})
})

var _ = Describe("MakeLogger", func() {
	It("honours the level", func() {
		log, err := env.MakeLogger("debug")
		Expect(err).To(Succeed())
		Expect(log.Core().Enabled(zapcore.DebugLevel)).To(BeTrue())
	})

	It("falls back to info", func() {
		log, err := env.MakeLogger("loud")
		Expect(err).To(Succeed())
		Expect(log.Core().Enabled(zapcore.DebugLevel)).To(BeFalse())
		Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeTrue())
	})
})

var _ = Describe("ReadConfigFile", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "msnp-config")
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("overlays the keys present in the file", func() {
		path := filepath.Join(dir, "msnp.yaml")
		Expect(os.WriteFile(path, []byte(`
account: bob@example.com
versions: [MSNP7]
keepalive: 20s
store:
  kind: json
  path: /tmp/buddies.json
`), 0600)).To(Succeed())

		conf := &env.Config{
			DispatchServer: "messenger.hotmail.com:1863",
			Store:          "bbolt",
			LogLevel:       "info",
		}
		Expect(env.ReadConfigFile(conf, path)).To(Succeed())

		Expect(conf.Account).To(Equal("bob@example.com"))
		Expect(conf.Versions).To(Equal([]string{"MSNP7"}))
		Expect(conf.KeepAlive).To(Equal(20 * time.Second))
		Expect(conf.Store).To(Equal("json"))
		Expect(conf.StorePath).To(Equal("/tmp/buddies.json"))

		// untouched
		Expect(conf.DispatchServer).To(Equal("messenger.hotmail.com:1863"))
		Expect(conf.LogLevel).To(Equal("info"))
	})

	It("fails on a missing explicit file", func() {
		conf := &env.Config{}
		Expect(env.ReadConfigFile(conf, filepath.Join(dir, "nope.yaml"))).NotTo(Succeed())
	})
})
