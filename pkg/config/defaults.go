package config

// An empty storage descriptor selects the SQLite store in the .ctxstore/
// directory, see dotdir.Manager.DefaultDescriptor.
const (
	defaultDescriptor  = ""
	defaultSerializer  = "json"
	defaultTablePrefix = "ctxstore"
	defaultReadLatest  = 3
	defaultCacheSize   = 1024
	defaultAPIListen   = ":8081"
	defaultTopic       = "ctxstore.context.flushed"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Descriptor:  defaultDescriptor,
			Serializer:  defaultSerializer,
			TablePrefix: defaultTablePrefix,
			ReadLatest:  defaultReadLatest,
		},
		Cache: CacheConfig{
			Size: defaultCacheSize,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		EventStream: EventStreamConfig{
			Topic: defaultTopic,
		},
	}
}
