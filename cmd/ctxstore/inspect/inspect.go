// Package inspectcmder provides the inspect command for viewing a stored
// context.
package inspectcmder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ctxstore/api"
	"github.com/papercomputeco/ctxstore/cmd/ctxstore/bootstrap"
	"github.com/papercomputeco/ctxstore/pkg/chatctx"
	"github.com/papercomputeco/ctxstore/pkg/cliui"
	"github.com/papercomputeco/ctxstore/pkg/config"
	"github.com/papercomputeco/ctxstore/pkg/logger"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	"github.com/papercomputeco/ctxstore/pkg/turn"
	"github.com/papercomputeco/ctxstore/pkg/utils"
	"github.com/papercomputeco/ctxstore/pkg/value"
)

// previewWidth bounds misc values in the summary.
const previewWidth = 60

type inspectCommander struct {
	storage, serializer, tablePrefix string

	turns    bool
	from, to int
	json     bool
}

var inspectFlagKeys = []string{
	config.FlagStorage,
	config.FlagSerializer,
	config.FlagTablePrefix,
}

const inspectLongDesc string = `Show a stored context.

Prints the context record: current turn id, timestamps, misc data and the
turn ids stored in each field. With --turns the conversation transcript is
rendered as well.

Examples:
  ctxstore inspect u1
  ctxstore inspect u1 --turns --from 3
  ctxstore inspect u1 --turns --json --storage redis://localhost:6379/0`

const inspectShortDesc string = "Show a stored context"

func NewInspectCmd() *cobra.Command {
	cmder := &inspectCommander{}

	cmd := &cobra.Command{
		Use:   "inspect <id>",
		Short: inspectShortDesc,
		Long:  inspectLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorage, &cmder.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSerializer, &cmder.serializer)
	config.AddStringFlag(cmd, config.Flags, config.FlagTablePrefix, &cmder.tablePrefix)
	cmd.Flags().BoolVarP(&cmder.turns, "turns", "t", false, "Include the conversation transcript")
	cmd.Flags().IntVar(&cmder.from, "from", 0, "First turn id of the transcript")
	cmd.Flags().IntVar(&cmder.to, "to", -1, "Turn id after the last one of the transcript (default: all)")
	cmd.Flags().BoolVar(&cmder.json, "json", false, "Print JSON instead of text")

	return cmd
}

// inspection is what inspect prints, in either format.
type inspection struct {
	Context api.ContextResponse `json:"context"`
	Turns   []api.TurnResponse  `json:"turns,omitempty"`
}

func (c *inspectCommander) run(cmd *cobra.Command, id string) error {
	if c.from < 0 {
		return errors.New("--from must not be negative")
	}

	cfg, err := bootstrap.LoadConfig(cmd, inspectFlagKeys)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	driver, err := bootstrap.OpenDriver(ctx, cfg, logger.Nop())
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer driver.Close()

	manager, err := bootstrap.NewManager(cfg, driver, nil, logger.Nop())
	if err != nil {
		return err
	}

	var out inspection
	err = manager.View(ctx, id, func(ctx context.Context, cc *chatctx.Context) error {
		out.Context = api.NewContextResponse(ctx, cc)
		if !c.turns {
			return nil
		}

		to := c.to
		if to < 0 {
			to = cc.TurnID() + 1
		}
		turns, err := cc.Turns(ctx, c.from, to)
		if err != nil {
			return err
		}
		out.Turns = api.NewTurnResponses(turns)
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("context %q not found in %s", id, cfg.Storage.Descriptor)
		}
		return err
	}

	w := cmd.OutOrStdout()
	if c.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	printSummary(w, out.Context)
	if c.turns {
		rendered, err := cliui.RenderMarkdown(transcript(out.Turns))
		if err != nil {
			return fmt.Errorf("rendering transcript: %w", err)
		}
		fmt.Fprint(w, rendered)
	}
	return nil
}

func printSummary(w io.Writer, r api.ContextResponse) {
	row := func(k, v string) {
		fmt.Fprintf(w, "  %s %s\n", cliui.KeyStyle.Render(fmt.Sprintf("%-10s", k)), cliui.ValueStyle.Render(v))
	}

	fmt.Fprintf(w, "\n  %s\n\n", cliui.HeaderStyle.Render("Context "+r.ID))
	row("turn", fmt.Sprint(r.TurnID))
	row("created", r.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	row("updated", r.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
	if r.LastLabel != nil {
		row("label", r.LastLabel.String())
	}
	for _, f := range storage.Fields {
		row(string(f), fmt.Sprint(r.Keys[f]))
	}

	printBag(w, "misc", r.Misc)
	printBag(w, "framework", r.FrameworkData)
	fmt.Fprintln(w)
}

func printBag(w io.Writer, name string, b value.Bag) {
	if len(b) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  %s\n", cliui.DimStyle.Render(name))
	for _, k := range slices.Sorted(maps.Keys(b)) {
		fmt.Fprintf(w, "    %s = %s\n", cliui.KeyStyle.Render(k), utils.Truncate(b[k].String(), previewWidth))
	}
}

// transcript renders turns as a markdown document.
func transcript(turns []api.TurnResponse) string {
	var b strings.Builder
	for _, t := range turns {
		if t.Label == nil && t.Request == nil && t.Response == nil {
			continue
		}
		fmt.Fprintf(&b, "## Turn %d", t.ID)
		if t.Label != nil {
			fmt.Fprintf(&b, " `%s`", t.Label.String())
		}
		b.WriteString("\n\n")
		writeMessage(&b, "Request", t.Request)
		writeMessage(&b, "Response", t.Response)
	}
	if b.Len() == 0 {
		b.WriteString("_no turns_\n")
	}
	return b.String()
}

func writeMessage(b *strings.Builder, role string, m *turn.Message) {
	if m == nil {
		return
	}
	fmt.Fprintf(b, "**%s:** %s\n\n", role, m.Text)
	for _, c := range m.Commands {
		fmt.Fprintf(b, "- command `%s`\n", c)
	}
	for _, a := range m.Attachments {
		fmt.Fprintf(b, "- attachment %s (%s)\n", a.Title, a.Type)
	}
	if len(m.Commands)+len(m.Attachments) > 0 {
		b.WriteString("\n")
	}
}
