package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flag is the single source of truth for a CLI flag.
// Commands reference flags by registry key rather than hard-coding names,
// shorthands, defaults, and descriptions inline. This prevents flag drift
// when the same logical flag appears on multiple commands (e.g., --storage
// on "ctxstore serve", "ctxstore inspect" and "ctxstore clear").
type Flag struct {
	// Name is the long flag name (e.g. "storage").
	Name string

	// Shorthand is the one-letter short flag (e.g. "s"). Empty for no shorthand.
	Shorthand string

	// ViperKey is the dotted config key this flag maps to (e.g. "storage.descriptor").
	ViperKey string

	// Description is the help text shown in --help output.
	Description string
}

// FlagSet is a mapping of flag names to Flag structs that hold their name,
// shorthand, viper key, etc.
type FlagSet map[string]Flag

// Flag registry keys.
// Use these constants when calling AddStringFlag, AddIntFlag, AddBoolFlag
// and BindRegisteredFlags to avoid typos or drift from one command to another.
const (
	FlagStorage         = "storage"
	FlagSerializer      = "serializer"
	FlagTablePrefix     = "table-prefix"
	FlagReadLatest      = "read-latest"
	FlagRewriteExisting = "rewrite-existing"
	FlagWatch           = "watch"
	FlagCacheSize       = "cache-size"
	FlagStartFlow       = "start-flow"
	FlagStartNode       = "start-node"
	FlagAPIListen       = "listen"
	FlagBrokers         = "brokers"
	FlagTopic           = "topic"
)

// Flags is the registry of every ctxstore flag.
var Flags = FlagSet{
	FlagStorage: {
		Name:        "storage",
		Shorthand:   "s",
		ViperKey:    "storage.descriptor",
		Description: "Storage connection descriptor (e.g. sqlite:///var/ctxstore.db, redis://localhost:6379/0)",
	},
	FlagSerializer: {
		Name:        "serializer",
		ViperKey:    "storage.serializer",
		Description: "Value serializer: json, gob or pickle",
	},
	FlagTablePrefix: {
		Name:        "table-prefix",
		ViperKey:    "storage.table_prefix",
		Description: "Prefix for SQL tables, Mongo collections and Redis keys",
	},
	FlagReadLatest: {
		Name:        "read-latest",
		ViperKey:    "storage.read_latest",
		Description: "Number of most recent entries per field prefetched on load",
	},
	FlagRewriteExisting: {
		Name:        "rewrite-existing",
		ViperKey:    "storage.rewrite_existing",
		Description: "Rewrite every materialized entry on flush, not only modified ones",
	},
	FlagWatch: {
		Name:        "watch",
		ViperKey:    "storage.watch",
		Description: "Reload json and pickle storage files changed by other processes",
	},
	FlagCacheSize: {
		Name:        "cache-size",
		ViperKey:    "cache.size",
		Description: "Maximum number of live contexts kept in memory",
	},
	FlagStartFlow: {
		Name:        "start-flow",
		ViperKey:    "context.start_flow",
		Description: "Flow name of the start label written to new contexts",
	},
	FlagStartNode: {
		Name:        "start-node",
		ViperKey:    "context.start_node",
		Description: "Node name of the start label written to new contexts",
	},
	FlagAPIListen: {
		Name:        "listen",
		Shorthand:   "l",
		ViperKey:    "api.listen",
		Description: "Address for the inspection API server to listen on",
	},
	FlagBrokers: {
		Name:        "brokers",
		ViperKey:    "eventstream.brokers",
		Description: "Comma separated Kafka brokers for flush events (empty disables publishing)",
	},
	FlagTopic: {
		Name:        "topic",
		ViperKey:    "eventstream.topic",
		Description: "Kafka topic for flush events",
	},
}

// AddStringFlag registers a string flag on cmd from the given FlagSet.
// The flag's name, shorthand, default, and description all come from the
// FlagSet entry so they cannot drift across commands.
func AddStringFlag(cmd *cobra.Command, fs FlagSet, key string, target *string) {
	def, ok := fs[key]
	if !ok {
		return
	}

	defaultVal := defaultString(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().StringVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().StringVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddIntFlag registers an int flag on cmd from the given FlagSet.
func AddIntFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *int) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultViper().GetInt(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().IntVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().IntVar(target, def.Name, defaultVal, def.Description)
	}
}

// AddBoolFlag registers a bool flag on cmd from the given FlagSet.
func AddBoolFlag(cmd *cobra.Command, fs FlagSet, registryKey string, target *bool) {
	def, ok := fs[registryKey]
	if !ok {
		return
	}

	defaultVal := defaultViper().GetBool(def.ViperKey)
	if def.Shorthand != "" {
		cmd.Flags().BoolVarP(target, def.Name, def.Shorthand, defaultVal, def.Description)
	} else {
		cmd.Flags().BoolVar(target, def.Name, defaultVal, def.Description)
	}
}

// BindRegisteredFlags binds already-registered flags to viper using definitions
// from the given FlagSet. Call this in PreRunE after InitViper to connect flags
// to the viper precedence chain (flag > env > config file > default).
func BindRegisteredFlags(v *viper.Viper, cmd *cobra.Command, fs FlagSet, registryKeys []string) {
	for _, registryKey := range registryKeys {
		def, ok := fs[registryKey]
		if !ok {
			continue
		}

		f := cmd.Flags().Lookup(def.Name)
		if f == nil {
			continue
		}

		_ = v.BindPFlag(def.ViperKey, f)
	}
}

// defaultString returns the default string value for a viper key from NewDefaultConfig.
func defaultString(viperKey string) string {
	return defaultViper().GetString(viperKey)
}

// defaultViper returns a viper holding only the NewDefaultConfig values.
func defaultViper() *viper.Viper {
	v := viper.New()
	setViperDefaults(v)
	return v
}
