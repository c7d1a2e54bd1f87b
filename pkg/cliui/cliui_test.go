package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ctxstore/pkg/cliui"
)

var _ = Describe("Step", func() {
	It("prints a single result line when not writing to a terminal", func() {
		var buf bytes.Buffer
		err := cliui.Step(&buf, "Connecting", func() error { return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(cliui.IsTerminal(&buf)).To(BeFalse())
		Expect(buf.String()).To(ContainSubstring("Connecting"))
		Expect(buf.String()).To(ContainSubstring(cliui.SuccessMark))
		Expect(buf.String()).NotTo(ContainSubstring("⣾"))
	})

	It("returns the error of fn and marks the step failed", func() {
		var buf bytes.Buffer
		boom := errors.New("boom")
		err := cliui.Step(&buf, "Clearing", func() error { return boom })
		Expect(err).To(MatchError(boom))
		Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
	})
})

var _ = Describe("FormatDuration", func() {
	It("uses milliseconds below a second", func() {
		Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
	})

	It("uses seconds with one decimal above a second", func() {
		Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
	})
})

var _ = Describe("RenderMarkdown", func() {
	It("keeps the text of the document", func() {
		out, err := cliui.RenderMarkdown("# Turn 1\n\nhello there")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("hello there"))
	})
})
