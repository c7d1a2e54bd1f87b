// Package ctxstorecmder
package ctxstorecmder

import (
	"github.com/spf13/cobra"

	clearcmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/clear"
	configcmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/config"
	deletecmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/delete"
	inspectcmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/inspect"
	servecmder "github.com/papercomputeco/ctxstore/cmd/ctxstore/serve"
	versioncmder "github.com/papercomputeco/ctxstore/cmd/version"
)

const ctxstoreLongDesc string = `ctxstore persists conversation contexts for dialog pipelines.

Contexts are stored turn by turn in the backend named by a connection
descriptor (memory, json, pickle, shelve, sqlite, postgres, mysql, libsql,
mongodb or redis). Without a descriptor the SQLite store in the .ctxstore/
directory is used.

Commands:
  ctxstore serve            Run the inspection API server
  ctxstore inspect <id>     Show a stored context
  ctxstore delete <id>      Delete a stored context
  ctxstore clear            Delete every stored context
  ctxstore config           Manage persistent configuration`

const ctxstoreShortDesc string = "ctxstore - conversation context storage"

func NewCtxstoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ctxstore",
		Short:        ctxstoreShortDesc,
		Long:         ctxstoreLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .ctxstore/ directory holding config.toml")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(inspectcmder.NewInspectCmd())
	cmd.AddCommand(deletecmder.NewDeleteCmd())
	cmd.AddCommand(clearcmder.NewClearCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
