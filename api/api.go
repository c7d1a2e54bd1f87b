package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/ctxstore/pkg/chatctx"
	"github.com/papercomputeco/ctxstore/pkg/logger"
)

// Server is the API server for inspecting the contexts held by a Manager.
type Server struct {
	config  Config
	manager *chatctx.Manager
	logger  *slog.Logger
	app     *fiber.App
}

// NewServer creates a new API server.
// The manager is injected so that the server shares its cache and per-id
// locks with the dialog pipeline running in the same process.
func NewServer(config Config, manager *chatctx.Manager, log *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config:  config,
		manager: manager,
		logger:  logger.OrNop(log).With("component", "api"),
		app:     app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/contexts/:id", s.handleGetContext)
	app.Get("/contexts/:id/turns", s.handleGetTurns)
	app.Delete("/contexts/:id", s.handleDeleteContext)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
