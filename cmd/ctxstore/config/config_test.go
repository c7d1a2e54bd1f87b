package configcmder_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	configcmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/config"
	"github.com/papercomputeco/ctxstore/pkg/config"
)

var _ = Describe("NewConfigCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := configcmder.NewConfigCmd()
		Expect(cmd.Use).To(Equal("config"))
	})

	It("has set, get, and list subcommands", func() {
		cmd := configcmder.NewConfigCmd()
		cmds := cmd.Commands()
		subcommands := make([]string, 0, len(cmds))
		for _, sub := range cmds {
			subcommands = append(subcommands, sub.Name())
		}
		Expect(subcommands).To(ContainElements("set", "get", "list"))
	})
})

var _ = Describe("Config command execution", func() {
	var (
		tmpDir  string
		origDir string
		out     *bytes.Buffer
	)

	run := func(args ...string) error {
		cmd := configcmder.NewConfigCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		return cmd.Execute()
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "ctxstore-config-test-*")
		Expect(err).NotTo(HaveOccurred())

		origDir, err = os.Getwd()
		Expect(err).NotTo(HaveOccurred())

		// A local .ctxstore dir keeps the commands away from $HOME.
		err = os.MkdirAll(filepath.Join(tmpDir, ".ctxstore"), 0o755)
		Expect(err).NotTo(HaveOccurred())

		err = os.Chdir(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		out = &bytes.Buffer{}
	})

	AfterEach(func() {
		err := os.Chdir(origDir)
		Expect(err).NotTo(HaveOccurred())
		os.RemoveAll(tmpDir)
	})

	Describe("set subcommand", func() {
		It("sets a config value successfully", func() {
			Expect(run("set", "storage.serializer", "gob")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("storage.serializer"))

			data, err := os.ReadFile(filepath.Join(tmpDir, ".ctxstore", "config.toml"))
			Expect(err).NotTo(HaveOccurred())
			cfg, err := config.ParseConfigTOML(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.Serializer).To(Equal("gob"))
		})

		It("rejects unknown keys", func() {
			err := run("set", "invalid_key", "value")
			Expect(err).To(MatchError(ContainSubstring("unknown config key")))
		})

		It("rejects invalid values without writing the file", func() {
			Expect(run("set", "storage.read_latest", "not-a-number")).NotTo(Succeed())
			Expect(run("set", "storage.serializer", "xml")).NotTo(Succeed())

			_, err := os.Stat(filepath.Join(tmpDir, ".ctxstore", "config.toml"))
			Expect(os.IsNotExist(err)).To(BeTrue())
		})

		It("requires exactly two arguments", func() {
			Expect(run("set", "storage.serializer")).NotTo(Succeed())
			Expect(run("set")).NotTo(Succeed())
		})

		It("creates ~/.ctxstore when no directory is found", func() {
			Expect(os.RemoveAll(filepath.Join(tmpDir, ".ctxstore"))).To(Succeed())
			home := filepath.Join(tmpDir, "home")
			Expect(os.MkdirAll(home, 0o755)).To(Succeed())
			origHome := os.Getenv("HOME")
			Expect(os.Setenv("HOME", home)).To(Succeed())
			DeferCleanup(os.Setenv, "HOME", origHome)

			Expect(run("set", "cache.size", "64")).To(Succeed())
			_, err := os.Stat(filepath.Join(home, ".ctxstore", "config.toml"))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("get subcommand", func() {
		It("gets a previously set value", func() {
			Expect(run("set", "storage.descriptor", "redis://localhost:6379/0")).To(Succeed())

			out.Reset()
			Expect(run("get", "storage.descriptor")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("redis://localhost:6379/0"))
		})

		It("marks an unset key", func() {
			Expect(run("get", "context.start_flow")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("<not set>"))
		})

		It("prints defaults for keys not in the file", func() {
			Expect(run("get", "storage.read_latest")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("3"))
		})

		It("rejects unknown keys", func() {
			Expect(run("get", "invalid_key")).NotTo(Succeed())
		})

		It("requires exactly one argument", func() {
			Expect(run("get")).NotTo(Succeed())
		})
	})

	Describe("list subcommand", func() {
		It("lists every key when no config exists", func() {
			Expect(run("list")).To(Succeed())
			for _, k := range config.ValidConfigKeys() {
				Expect(out.String()).To(ContainSubstring(k))
			}
		})

		It("shows values from the config file", func() {
			Expect(run("set", "eventstream.brokers", "a:9092, b:9092")).To(Succeed())

			out.Reset()
			Expect(run("list")).To(Succeed())
			Expect(out.String()).To(ContainSubstring("Using config file"))
			Expect(out.String()).To(ContainSubstring(`"a:9092,b:9092"`))
		})

		It("rejects any arguments", func() {
			Expect(run("list", "extra")).NotTo(Succeed())
		})
	})
})
