// Package clearcmder provides the clear command.
package clearcmder

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ctxstore/cmd/ctxstore/bootstrap"
	"github.com/papercomputeco/ctxstore/pkg/cliui"
	"github.com/papercomputeco/ctxstore/pkg/config"
	"github.com/papercomputeco/ctxstore/pkg/logger"
)

type clearCommander struct {
	storage, tablePrefix string
	yes                  bool
}

var clearFlagKeys = []string{
	config.FlagStorage,
	config.FlagTablePrefix,
}

const clearLongDesc string = `Remove every stored context.

Drops all contexts from the configured store. This cannot be undone, so
--yes is required.

Examples:
  ctxstore clear --yes
  ctxstore clear --yes --storage redis://localhost:6379/0`

const clearShortDesc string = "Remove every stored context"

func NewClearCmd() *cobra.Command {
	cmder := &clearCommander{}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: clearShortDesc,
		Long:  clearLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagStorage, &cmder.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagTablePrefix, &cmder.tablePrefix)
	cmd.Flags().BoolVarP(&cmder.yes, "yes", "y", false, "Confirm removal of every context")

	return cmd
}

func (c *clearCommander) run(cmd *cobra.Command) error {
	if !c.yes {
		return errors.New("refusing to clear the store without --yes")
	}

	cfg, err := bootstrap.LoadConfig(cmd, clearFlagKeys)
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

	return cliui.Step(cmd.OutOrStdout(), "Clearing all contexts", func() error {
		return manager.ClearAll(ctx)
	})
}
