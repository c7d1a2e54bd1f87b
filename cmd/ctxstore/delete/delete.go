// Package deletecmder provides the delete command.
package deletecmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ctxstore/cmd/ctxstore/bootstrap"
	"github.com/papercomputeco/ctxstore/pkg/cliui"
	"github.com/papercomputeco/ctxstore/pkg/config"
	"github.com/papercomputeco/ctxstore/pkg/logger"
)

type deleteCommander struct {
	storage, tablePrefix string
}

var deleteFlagKeys = []string{
	config.FlagStorage,
	config.FlagTablePrefix,
}

const deleteLongDesc string = `Delete stored contexts.

Removes the scalar record and every label, request and response of each
given context. Deleting an id that does not exist is not an error.

Examples:
  ctxstore delete u1
  ctxstore delete u1 u2 --storage postgres://localhost/ctxstore`

const deleteShortDesc string = "Delete stored contexts"

func NewDeleteCmd() *cobra.Command {
	cmder := &deleteCommander{}

	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: deleteShortDesc,
		Long:  deleteLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorage, &cmder.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagTablePrefix, &cmder.tablePrefix)

	return cmd
}

func (c *deleteCommander) run(cmd *cobra.Command, ids []string) error {
	cfg, err := bootstrap.LoadConfig(cmd, deleteFlagKeys)
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

	w := cmd.OutOrStdout()
	for _, id := range ids {
		if err := manager.DeleteContext(ctx, id); err != nil {
			fmt.Fprintf(w, "  %s %s\n", cliui.FailMark, id)
			return err
		}
		fmt.Fprintf(w, "  %s Deleted %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(id))
	}
	return nil
}
