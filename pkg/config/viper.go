package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/ctxstore/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the CTXSTORE_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (CTXSTORE_STORAGE_DESCRIPTOR, CTXSTORE_API_LISTEN, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: CTXSTORE_STORAGE_DESCRIPTOR, CTXSTORE_CACHE_SIZE, etc.
	v.SetEnvPrefix("CTXSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// FromViper materializes a Config from the resolved viper layers.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Version: v.GetInt("version"),
		Storage: StorageConfig{
			Descriptor:      v.GetString("storage.descriptor"),
			Serializer:      v.GetString("storage.serializer"),
			TablePrefix:     v.GetString("storage.table_prefix"),
			RewriteExisting: v.GetBool("storage.rewrite_existing"),
			ReadLatest:      v.GetInt("storage.read_latest"),
			Watch:           v.GetBool("storage.watch"),
		},
		Cache: CacheConfig{
			Size: v.GetInt("cache.size"),
		},
		Context: ContextConfig{
			StartFlow: v.GetString("context.start_flow"),
			StartNode: v.GetString("context.start_node"),
		},
		API: APIConfig{
			Listen: v.GetString("api.listen"),
		},
		EventStream: EventStreamConfig{
			Brokers: splitList(v.GetStringSlice("eventstream.brokers")),
			Topic:   v.GetString("eventstream.topic"),
		},
	}
}

// splitList flattens comma separated entries, as given by
// CTXSTORE_EVENTSTREAM_BROKERS=a:9092,b:9092.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for part := range strings.SplitSeq(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.descriptor", d.Storage.Descriptor)
	v.SetDefault("storage.serializer", d.Storage.Serializer)
	v.SetDefault("storage.table_prefix", d.Storage.TablePrefix)
	v.SetDefault("storage.rewrite_existing", d.Storage.RewriteExisting)
	v.SetDefault("storage.read_latest", d.Storage.ReadLatest)
	v.SetDefault("storage.watch", d.Storage.Watch)

	// Cache
	v.SetDefault("cache.size", d.Cache.Size)

	// Context
	v.SetDefault("context.start_flow", d.Context.StartFlow)
	v.SetDefault("context.start_node", d.Context.StartNode)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Event stream
	v.SetDefault("eventstream.brokers", d.EventStream.Brokers)
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
}
