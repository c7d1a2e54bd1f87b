package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ctxstore/pkg/cliui"
	"github.com/papercomputeco/ctxstore/pkg/config"
	"github.com/papercomputeco/ctxstore/pkg/dotdir"
)

const setLongDesc string = `Set a configuration value.

Sets the given key to the provided value in the config.toml file stored
in the .ctxstore/ directory, creating ~/.ctxstore/ when no directory is
found. Values are validated before the file is written.

Examples:
  ctxstore config set storage.descriptor redis://localhost:6379/0
  ctxstore config set storage.serializer gob
  ctxstore config set eventstream.brokers kafka-1:9092,kafka-2:9092`

const setShortDesc string = "Set a configuration value"

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: setShortDesc,
		Long:  setLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runSet(cmd.OutOrStdout(), args[0], args[1], configDir)
		},
		ValidArgsFunction: completeKeys,
	}

	return cmd
}

func runSet(w io.Writer, key, value, configDir string) error {
	if !config.IsValidConfigKey(key) {
		return unknownKey(key)
	}

	dir, err := dotdir.NewManager().Ensure(configDir)
	if err != nil {
		return fmt.Errorf("resolving config directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	printTarget(w, cfger.GetTarget())

	if err := cfger.SetConfigValue(key, value); err != nil {
		return err
	}

	fmt.Fprintf(w, "  %s Set %s = %s\n\n",
		cliui.SuccessMark,
		cliui.KeyStyle.Render(key),
		cliui.ValueStyle.Render(value),
	)
	return nil
}
