package bootstrap_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/ctxstore/cmd/ctxstore/bootstrap"
	"github.com/papercomputeco/ctxstore/pkg/config"
	"github.com/papercomputeco/ctxstore/pkg/eventstream/nop"
	"github.com/papercomputeco/ctxstore/pkg/logger"
	"github.com/papercomputeco/ctxstore/pkg/serializer"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	testutils "github.com/papercomputeco/ctxstore/pkg/utils/test"
)

var _ = Describe("ContextOptions", func() {
	var cfg *config.Config

	BeforeEach(func() {
		cfg = config.NewDefaultConfig()
	})

	It("maps storage settings", func() {
		cfg.Storage.Serializer = "gob"
		cfg.Storage.ReadLatest = 5
		cfg.Storage.RewriteExisting = true

		opts, err := bootstrap.ContextOptions(cfg, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(opts.Serializer).To(Equal(serializer.Gob{}))
		Expect(opts.RewriteExisting).To(BeTrue())
		for _, f := range storage.Fields {
			Expect(opts.ReadConfig).To(HaveKeyWithValue(f, storage.LatestN(5)))
		}
		Expect(opts.StartLabel).To(BeNil())
	})

	It("sets the start label when configured", func() {
		cfg.Context.StartFlow = "main"
		cfg.Context.StartNode = "greeting"

		opts, err := bootstrap.ContextOptions(cfg, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(opts.StartLabel).NotTo(BeNil())
		Expect(opts.StartLabel.String()).To(Equal("main:greeting"))
	})

	It("rejects a half configured start label", func() {
		cfg.Context.StartFlow = "main"
		_, err := bootstrap.ContextOptions(cfg, logger.Nop())
		Expect(err).To(MatchError(ContainSubstring("invalid start label")))
	})

	It("rejects an unknown serializer", func() {
		cfg.Storage.Serializer = "xml"
		_, err := bootstrap.ContextOptions(cfg, logger.Nop())
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("NewPublisher", func() {
	It("returns a no-op publisher without brokers", func() {
		p, err := bootstrap.NewPublisher(config.NewDefaultConfig(), logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(BeAssignableToTypeOf(&nop.Publisher{}))
	})
})

var _ = Describe("LoadConfig", func() {
	var dir string

	// load runs a probe subcommand under a root carrying --config-dir, so
	// persistent flags are merged the way they are in the real CLI.
	load := func(args ...string) (*config.Config, error) {
		var (
			dsn string
			cfg *config.Config
			err error
		)

		root := &cobra.Command{Use: "ctxstore", SilenceUsage: true, SilenceErrors: true}
		root.PersistentFlags().String("config-dir", "", "")
		probe := &cobra.Command{
			Use: "probe",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err = bootstrap.LoadConfig(cmd, []string{config.FlagStorage})
				return nil
			},
		}
		config.AddStringFlag(probe, config.Flags, config.FlagStorage, &dsn)
		root.AddCommand(probe)

		root.SetArgs(append([]string{"probe", "--config-dir", dir}, args...))
		Expect(root.Execute()).To(Succeed())
		return cfg, err
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("defaults to the SQLite store in the config directory", func() {
		cfg, err := load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Descriptor).To(Equal("sqlite://" + filepath.Join(dir, "ctxstore.db")))
	})

	It("reads config.toml from the config directory", func() {
		data := "[storage]\ndescriptor = \"memory://\"\nserializer = \"gob\"\n"
		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		cfg, err := load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Descriptor).To(Equal("memory://"))
		Expect(cfg.Storage.Serializer).To(Equal("gob"))
	})

	It("lets flags override the file", func() {
		data := "[storage]\ndescriptor = \"memory://\"\n"
		Expect(os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		cfg, err := load("--storage", "json:///tmp/ctx.json")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Storage.Descriptor).To(Equal("json:///tmp/ctx.json"))
	})
})

var _ = Describe("NewManager", func() {
	It("wires a manager over the configured driver", func() {
		ctx := context.Background()
		cfg := config.NewDefaultConfig()
		cfg.Storage.Descriptor = "memory://"

		driver, err := bootstrap.OpenDriver(ctx, cfg, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(driver.Close)
		Expect(testutils.SeedConversation(ctx, driver, "u1", "hello")).To(Succeed())

		manager, err := bootstrap.NewManager(cfg, driver, nil, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		c, err := manager.GetContext(ctx, "u1")
		Expect(err).NotTo(HaveOccurred())
		Expect(c.TurnID()).To(Equal(1))
	})
})
