// Package servecmder provides the serve command that runs the inspection API.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/ctxstore/api"
	"github.com/papercomputeco/ctxstore/cmd/ctxstore/bootstrap"
	"github.com/papercomputeco/ctxstore/pkg/config"
	storageutils "github.com/papercomputeco/ctxstore/pkg/storage/utils"
)

type ServeCommander struct {
	flags   serveFlags
	logFile string
}

// serveFlags are the flag targets; resolved values are read back through
// viper so that config.toml and CTXSTORE_ variables apply.
type serveFlags struct {
	storage, serializer, tablePrefix string
	startFlow, startNode             string
	listen, brokers, topic           string
	readLatest, cacheSize            int
	rewriteExisting, watch           bool
}

var serveFlagKeys = []string{
	config.FlagStorage,
	config.FlagSerializer,
	config.FlagTablePrefix,
	config.FlagReadLatest,
	config.FlagRewriteExisting,
	config.FlagWatch,
	config.FlagCacheSize,
	config.FlagStartFlow,
	config.FlagStartNode,
	config.FlagAPIListen,
	config.FlagBrokers,
	config.FlagTopic,
}

const serveLongDesc string = `Run the ctxstore inspection API server.

The server exposes the stored contexts over HTTP:
  GET    /ping                          Health check
  GET    /contexts/:id                  Context record and turn index
  GET    /contexts/:id/turns?from=&to=  Turns in [from, to)
  DELETE /contexts/:id                  Delete a context

When eventstream brokers are configured, every flush made through the
server's manager is published to Kafka.`

const serveShortDesc string = "Run the inspection API server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	f := &cmder.flags
	config.AddStringFlag(cmd, config.Flags, config.FlagStorage, &f.storage)
	config.AddStringFlag(cmd, config.Flags, config.FlagSerializer, &f.serializer)
	config.AddStringFlag(cmd, config.Flags, config.FlagTablePrefix, &f.tablePrefix)
	config.AddIntFlag(cmd, config.Flags, config.FlagReadLatest, &f.readLatest)
	config.AddBoolFlag(cmd, config.Flags, config.FlagRewriteExisting, &f.rewriteExisting)
	config.AddBoolFlag(cmd, config.Flags, config.FlagWatch, &f.watch)
	config.AddIntFlag(cmd, config.Flags, config.FlagCacheSize, &f.cacheSize)
	config.AddStringFlag(cmd, config.Flags, config.FlagStartFlow, &f.startFlow)
	config.AddStringFlag(cmd, config.Flags, config.FlagStartNode, &f.startNode)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &f.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagBrokers, &f.brokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagTopic, &f.topic)
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	return cmd
}

func (c *ServeCommander) run(cmd *cobra.Command) error {
	log := bootstrap.NewLogger(cmd, cmd.ErrOrStderr())
	if c.logFile != "" {
		var closeLog func() error
		var err error
		log, closeLog, err = bootstrap.NewFileLogger(cmd, log, c.logFile)
		if err != nil {
			return err
		}
		defer closeLog()
	}

	cfg, err := bootstrap.LoadConfig(cmd, serveFlagKeys)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := bootstrap.OpenDriver(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer driver.Close()
	log.Info("opened storage", "descriptor", storageutils.Redact(cfg.Storage.Descriptor))

	publisher, err := bootstrap.NewPublisher(cfg, log)
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer publisher.Close()

	manager, err := bootstrap.NewManager(cfg, driver, publisher, log)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Config{ListenAddr: cfg.API.Listen}, manager, log)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		log.Info("received signal, shutting down")
		return server.Shutdown()
	}
}
