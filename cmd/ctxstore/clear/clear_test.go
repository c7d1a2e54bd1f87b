package clearcmder_test

import (
	"bytes"
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	clearcmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/clear"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/file"
	testutils "github.com/papercomputeco/ctxstore/pkg/utils/test"
)

var _ = Describe("Clear command execution", func() {
	var (
		ctx  context.Context
		dir  string
		path string
		out  *bytes.Buffer
	)

	run := func(args ...string) error {
		root := &cobra.Command{Use: "ctxstore", SilenceUsage: true, SilenceErrors: true}
		root.PersistentFlags().String("config-dir", "", "")
		root.AddCommand(clearcmder.NewClearCmd())
		root.SetOut(out)
		root.SetArgs(append([]string{"clear", "--config-dir", dir, "--storage", "json://" + path}, args...))
		return root.Execute()
	}

	stored := func(id string) error {
		driver, err := file.NewDriver(path, file.JSONFormat)
		Expect(err).NotTo(HaveOccurred())
		defer driver.Close()
		_, err = driver.LoadMainInfo(ctx, id)
		return err
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "contexts.json")
		out = &bytes.Buffer{}

		driver, err := file.NewDriver(path, file.JSONFormat)
		Expect(err).NotTo(HaveOccurred())
		Expect(testutils.SeedConversation(ctx, driver, "u1", "hello")).To(Succeed())
		Expect(driver.Close()).To(Succeed())
	})

	It("refuses to run without --yes", func() {
		Expect(run()).To(MatchError(ContainSubstring("--yes")))
		Expect(stored("u1")).To(Succeed())
	})

	It("removes every context with --yes", func() {
		Expect(run("--yes")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Clearing all contexts"))
		Expect(stored("u1")).To(MatchError(storage.ErrNotFound))
	})
})
