package servecmder_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	servecmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/serve"
	"github.com/papercomputeco/ctxstore/pkg/config"
)

var _ = Describe("NewServeCmd", func() {
	It("creates a command with the correct use string", func() {
		cmd := servecmder.NewServeCmd()
		Expect(cmd.Use).To(Equal("serve"))
	})

	It("rejects any arguments", func() {
		cmd := servecmder.NewServeCmd()
		Expect(cmd.Args(cmd, []string{"extra"})).NotTo(Succeed())
	})

	It("registers every configuration flag", func() {
		cmd := servecmder.NewServeCmd()
		for _, f := range config.Flags {
			Expect(cmd.Flags().Lookup(f.Name)).NotTo(BeNil(), f.Name)
		}
		Expect(cmd.Flags().Lookup("log-file")).NotTo(BeNil())
	})

	It("defaults flags from the built-in configuration", func() {
		cmd := servecmder.NewServeCmd()
		Expect(cmd.Flags().Lookup(config.FlagAPIListen).DefValue).To(Equal(":8081"))
		Expect(cmd.Flags().Lookup(config.FlagReadLatest).DefValue).To(Equal("3"))
		Expect(cmd.Flags().Lookup(config.FlagSerializer).DefValue).To(Equal("json"))
	})
})
