// Package server exposes the game program over HTTP: signed transactions on /tx, state reads on /query and a
// websocket event stream on /events.
package server

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/datmedevil17/apocalypse/events"
	"github.com/datmedevil17/apocalypse/program"
	"github.com/datmedevil17/apocalypse/session"
)

const (
	defaultPort     = "4040"
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	app      *fiber.App
	prog     *program.Program
	sessions *session.Manager
	hub      *events.Hub
	verifier *txVerifier

	txHandlers             map[string]txHandler
	defaultSessionValidity time.Duration

	port   string
	logger zerolog.Logger
}

type Option func(s *Server)

func WithPort(port string) Option {
	return func(s *Server) {
		s.port = port
	}
}

func WithCORS() Option {
	return func(s *Server) {
		s.app.Use(cors.New())
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTxTTL sets how old a signed transaction may be when it arrives.
func WithTxTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.verifier.ttl = ttl
	}
}

// WithDefaultSessionValidity sets the lifetime of sessions requested without one.
func WithDefaultSessionValidity(validFor time.Duration) Option {
	return func(s *Server) {
		s.defaultSessionValidity = validFor
	}
}

// WithClock overrides the clock transaction timestamps are checked against.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.verifier.now = now
	}
}

// New returns an HTTP server for prog. sessions resolves session tokens presented with transactions; hub
// receives the events prog emits and is flushed after every transaction.
func New(prog *program.Program, sessions *session.Manager, hub *events.Hub, opts ...Option) (*Server, error) {
	if prog == nil || sessions == nil || hub == nil {
		return nil, eris.New("server requires a program, a session manager and an event hub")
	}

	app := fiber.New(fiber.Config{
		Network:               "tcp", // Enable server listening on both ipv4 & ipv6 (default: ipv4 only)
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	s := &Server{
		app:      app,
		prog:     prog,
		sessions: sessions,
		hub:      hub,
		verifier: newTxVerifier(prog.Namespace(), defaultReplayCacheSize),
		port:     defaultPort,
		logger:   zerolog.Nop(),

		defaultSessionValidity: session.DefaultValidity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s, nil
}

// Serve serves the application, blocking until ctx is canceled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		s.logger.Info().Msgf("Starting HTTP server at port %s", s.port)
		if err := s.app.Listen(":" + s.port); err != nil {
			serverErr <- eris.Wrap(err, "error starting http server")
		}
	}()

	select {
	case err := <-serverErr:
		return eris.Wrap(err, "server encountered an error")
	case <-ctx.Done():
		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	s.logger.Info().Msg("Shutting down server")
	s.hub.Shutdown()
	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return eris.Wrap(err, "error shutting down server")
	}
	s.logger.Info().Msg("Successfully shut down server")
	return nil
}

func (s *Server) setupRoutes() {
	// Route: /events
	s.app.Use("/events", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/events", websocket.New(s.hub.Handler()))

	// Route: /health
	s.app.Get("/health", s.getHealth)

	// Route: /query/...
	q := s.app.Group("/query")
	q.Get("/profile/:authority", s.getProfile)
	q.Get("/battle/:room", s.getBattle)
	q.Get("/session/:id", s.getSession)

	// Route: /tx/...
	s.registerTransactions()
	s.app.Post("/tx/:name", s.postTransaction)
}
