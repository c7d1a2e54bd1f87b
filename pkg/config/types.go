package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Config represents the persistent ctxstore configuration stored as
// config.toml in the .ctxstore/ directory. The TOML layout uses sections for
// logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Storage     StorageConfig     `toml:"storage"`
	Cache       CacheConfig       `toml:"cache"`
	Context     ContextConfig     `toml:"context"`
	API         APIConfig         `toml:"api"`
	EventStream EventStreamConfig `toml:"eventstream"`
}

// StorageConfig selects and tunes the storage backend.
type StorageConfig struct {
	// Descriptor is the connection descriptor, e.g. "sqlite:///var/ctx.db"
	// or "redis://localhost:6379/0".
	Descriptor      string `toml:"descriptor,omitempty"`
	Serializer      string `toml:"serializer,omitempty"`
	TablePrefix     string `toml:"table_prefix,omitempty"`
	RewriteExisting bool   `toml:"rewrite_existing,omitempty"`
	ReadLatest      int    `toml:"read_latest"`
	Watch           bool   `toml:"watch,omitempty"`
}

// CacheConfig holds settings for the manager's live context cache.
type CacheConfig struct {
	Size int `toml:"size,omitempty"`
}

// ContextConfig holds defaults applied to newly created contexts.
type ContextConfig struct {
	StartFlow string `toml:"start_flow,omitempty"`
	StartNode string `toml:"start_node,omitempty"`
}

// APIConfig holds inspection API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// EventStreamConfig holds flush event publishing settings. No brokers means
// events are dropped.
type EventStreamConfig struct {
	Brokers []string `toml:"brokers,omitempty"`
	Topic   string   `toml:"topic,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.descriptor": {
		get: func(c *Config) string { return c.Storage.Descriptor },
		set: func(c *Config, v string) error { c.Storage.Descriptor = v; return nil },
	},
	"storage.serializer": {
		get: func(c *Config) string { return c.Storage.Serializer },
		set: func(c *Config, v string) error {
			switch v {
			case "json", "gob", "pickle":
				c.Storage.Serializer = v
				return nil
			default:
				return fmt.Errorf("invalid value for storage.serializer: %q (available: json, gob, pickle)", v)
			}
		},
	},
	"storage.table_prefix": {
		get: func(c *Config) string { return c.Storage.TablePrefix },
		set: func(c *Config, v string) error { c.Storage.TablePrefix = v; return nil },
	},
	"storage.rewrite_existing": {
		get: func(c *Config) string { return strconv.FormatBool(c.Storage.RewriteExisting) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for storage.rewrite_existing: %w", err)
			}
			c.Storage.RewriteExisting = b
			return nil
		},
	},
	"storage.read_latest": {
		get: func(c *Config) string { return strconv.Itoa(c.Storage.ReadLatest) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid value for storage.read_latest: %q", v)
			}
			c.Storage.ReadLatest = n
			return nil
		},
	},
	"storage.watch": {
		get: func(c *Config) string { return strconv.FormatBool(c.Storage.Watch) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for storage.watch: %w", err)
			}
			c.Storage.Watch = b
			return nil
		},
	},
	"cache.size": {
		get: func(c *Config) string { return strconv.Itoa(c.Cache.Size) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid value for cache.size: %q", v)
			}
			c.Cache.Size = n
			return nil
		},
	},
	"context.start_flow": {
		get: func(c *Config) string { return c.Context.StartFlow },
		set: func(c *Config, v string) error { c.Context.StartFlow = v; return nil },
	},
	"context.start_node": {
		get: func(c *Config) string { return c.Context.StartNode },
		set: func(c *Config, v string) error { c.Context.StartNode = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.EventStream.Brokers = nil
			for b := range strings.SplitSeq(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.EventStream.Brokers = append(c.EventStream.Brokers, b)
				}
			}
			return nil
		},
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
}
