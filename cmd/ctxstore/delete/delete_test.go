package deletecmder_test

import (
	"bytes"
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	deletecmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/delete"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/storage/file"
	testutils "github.com/papercomputeco/ctxstore/pkg/utils/test"
)

var _ = Describe("NewDeleteCmd", func() {
	It("requires at least one id", func() {
		cmd := deletecmder.NewDeleteCmd()
		Expect(cmd.Args(cmd, []string{})).NotTo(Succeed())
		Expect(cmd.Args(cmd, []string{"a", "b"})).To(Succeed())
	})
})

var _ = Describe("Delete command execution", func() {
	var (
		ctx  context.Context
		dir  string
		path string
		out  *bytes.Buffer
	)

	run := func(args ...string) error {
		root := &cobra.Command{Use: "ctxstore", SilenceUsage: true, SilenceErrors: true}
		root.PersistentFlags().String("config-dir", "", "")
		root.AddCommand(deletecmder.NewDeleteCmd())
		root.SetOut(out)
		root.SetArgs(append([]string{"delete", "--config-dir", dir, "--storage", "json://" + path}, args...))
		return root.Execute()
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "contexts.json")
		out = &bytes.Buffer{}

		driver, err := file.NewDriver(path, file.JSONFormat)
		Expect(err).NotTo(HaveOccurred())
		Expect(testutils.SeedConversation(ctx, driver, "u1", "hello")).To(Succeed())
		Expect(testutils.SeedConversation(ctx, driver, "u2", "hello")).To(Succeed())
		Expect(driver.Close()).To(Succeed())
	})

	It("deletes only the given contexts", func() {
		Expect(run("u1", "ghost")).To(Succeed())
		Expect(out.String()).To(ContainSubstring("Deleted"))

		driver, err := file.NewDriver(path, file.JSONFormat)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(driver.Close)

		_, err = driver.LoadMainInfo(ctx, "u1")
		Expect(err).To(MatchError(storage.ErrNotFound))
		_, err = driver.LoadMainInfo(ctx, "u2")
		Expect(err).NotTo(HaveOccurred())
	})
})
