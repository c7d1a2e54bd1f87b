// Package bootstrap turns resolved ctxstore configuration into the running
// pieces shared by the CLI commands: logger, storage driver, context manager
// and flush event publisher.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ctxstore/pkg/chatctx"
	"github.com/papercomputeco/ctxstore/pkg/config"
	"github.com/papercomputeco/ctxstore/pkg/dotdir"
	"github.com/papercomputeco/ctxstore/pkg/eventstream"
	"github.com/papercomputeco/ctxstore/pkg/eventstream/kafka"
	"github.com/papercomputeco/ctxstore/pkg/eventstream/nop"
	"github.com/papercomputeco/ctxstore/pkg/logger"
	"github.com/papercomputeco/ctxstore/pkg/serializer"
	"github.com/papercomputeco/ctxstore/pkg/storage"
	storageutils "github.com/papercomputeco/ctxstore/pkg/storage/utils"
	"github.com/papercomputeco/ctxstore/pkg/turn"
)

// LoadConfig resolves the configuration for cmd: defaults, config.toml,
// CTXSTORE_ environment variables and the registered flags named by
// flagKeys. An empty storage descriptor is replaced by the SQLite store in
// the .ctxstore/ directory.
func LoadConfig(cmd *cobra.Command, flagKeys []string) (*config.Config, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, err
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, flagKeys)

	cfg := config.FromViper(v)
	if cfg.Storage.Descriptor == "" {
		cfg.Storage.Descriptor, err = dotdir.NewManager().DefaultDescriptor(configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving default storage: %w", err)
		}
	}

	return cfg, nil
}

// NewLogger builds the CLI logger from the --debug flag, writing styled
// output to w.
func NewLogger(cmd *cobra.Command, w io.Writer) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	return logger.New(
		logger.WithDebug(debug),
		logger.WithPretty(true),
		logger.WithWriter(w),
	)
}

// NewFileLogger adds a JSON log file next to console. The returned close
// function closes the file.
func NewFileLogger(cmd *cobra.Command, console *slog.Logger, path string) (*slog.Logger, func() error, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	debug, _ := cmd.Flags().GetBool("debug")
	file := logger.New(
		logger.WithDebug(debug),
		logger.WithJSON(true),
		logger.WithWriter(f),
	)
	return logger.Multi(console, file), f.Close, nil
}

// OpenDriver constructs the storage driver named by the configured
// descriptor.
func OpenDriver(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Driver, error) {
	return storageutils.NewDriver(ctx, cfg.Storage.Descriptor, &storageutils.NewDriverOpts{
		TablePrefix: cfg.Storage.TablePrefix,
		Watch:       cfg.Storage.Watch,
		Logger:      log,
	})
}

// ContextOptions maps the configuration onto chatctx.Options.
func ContextOptions(cfg *config.Config, log *slog.Logger) (chatctx.Options, error) {
	ser, err := serializer.New(cfg.Storage.Serializer)
	if err != nil {
		return chatctx.Options{}, err
	}

	opts := chatctx.Options{
		Serializer:      ser,
		RewriteExisting: cfg.Storage.RewriteExisting,
		ReadConfig:      make(map[storage.Field]storage.Subscript, len(storage.Fields)),
		Logger:          log,
	}
	for _, f := range storage.Fields {
		opts.ReadConfig[f] = storage.LatestN(cfg.Storage.ReadLatest)
	}

	if cfg.Context.StartFlow != "" || cfg.Context.StartNode != "" {
		start := turn.NewLabel(cfg.Context.StartFlow, cfg.Context.StartNode)
		if err := start.Validate(); err != nil {
			return chatctx.Options{}, fmt.Errorf("invalid start label: %w", err)
		}
		opts.StartLabel = &start
	}

	return opts, nil
}

// NewPublisher returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func NewPublisher(cfg *config.Config, log *slog.Logger) (eventstream.Publisher, error) {
	if len(cfg.EventStream.Brokers) == 0 {
		return nop.NewPublisher(), nil
	}

	p, err := kafka.NewPublisher(kafka.Config{
		Brokers: cfg.EventStream.Brokers,
		Topic:   cfg.EventStream.Topic,
	})
	if err != nil {
		return nil, err
	}
	log.Info("publishing flush events", "brokers", cfg.EventStream.Brokers, "topic", cfg.EventStream.Topic)
	return p, nil
}

// NewManager wires a context manager over driver.
func NewManager(cfg *config.Config, driver storage.Driver, publisher eventstream.Publisher, log *slog.Logger) (*chatctx.Manager, error) {
	opts, err := ContextOptions(cfg, log)
	if err != nil {
		return nil, err
	}

	return chatctx.NewManager(chatctx.ManagerConfig{
		Driver:    driver,
		Options:   opts,
		CacheSize: cfg.Cache.Size,
		Publisher: publisher,
		Logger:    log,
	})
}
