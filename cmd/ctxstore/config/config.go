// Package configcmder provides the config command for managing persistent
// ctxstore configuration stored in the .ctxstore/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ctxstore/pkg/cliui"
	"github.com/papercomputeco/ctxstore/pkg/config"
)

const configLongDesc string = `Manage persistent ctxstore configuration.

Configuration is stored as config.toml in the .ctxstore/ directory and
provides default values for command flags. CTXSTORE_ environment variables
override the file and CLI flags override both.

Keys use dotted notation matching the TOML section structure:
  storage.descriptor, storage.serializer, storage.table_prefix,
  storage.rewrite_existing, storage.read_latest, storage.watch,
  cache.size, context.start_flow, context.start_node,
  api.listen, eventstream.brokers, eventstream.topic

Use subcommands to get, set, or list configuration values:
  ctxstore config set <key> <value>    Set a configuration value
  ctxstore config get <key>            Get a configuration value
  ctxstore config list                 List all configuration values

Examples:
  ctxstore config set storage.descriptor postgres://localhost/ctxstore
  ctxstore config set storage.read_latest 5
  ctxstore config get storage.serializer
  ctxstore config list`

const configShortDesc string = "Manage persistent ctxstore configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func printTarget(w io.Writer, target string) {
	if target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}
