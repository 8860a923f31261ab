// Package web serves the practice client to a browser: REST routes for the
// page's buttons, static assets, and the /ws/session bridge that lends the
// session the browser's microphone and speakers.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-talkback/pkg/conversation"
	"github.com/teslashibe/go-talkback/pkg/credential"
	"github.com/teslashibe/go-talkback/pkg/hub"
	"github.com/teslashibe/go-talkback/pkg/session"
)

// Config holds server configuration.
type Config struct {
	Listen       string // host:port
	StaticDir    string // "" disables static files
	MaxImageSize int64
	Logger       *slog.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:       ":8080",
		StaticDir:    "./web",
		MaxImageSize: conversation.MaxImageSize,
		Logger:       slog.Default(),
	}
}

// Server is the practice client's HTTP server.
type Server struct {
	app     *fiber.App
	cfg     Config
	logger  *slog.Logger
	hub     *hub.Hub
	bridge  *Bridge
	session *session.Session
	creds   credential.Store

	// base is the context turns started over HTTP run under.
	base context.Context
}

// NewServer wires routes for sess. h must be the hub bridge was built on.
// creds may be nil, which hides the credential routes' data.
func NewServer(cfg Config, h *hub.Hub, bridge *Bridge, sess *session.Session, creds credential.Store) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxImageSize <= 0 {
		cfg.MaxImageSize = conversation.MaxImageSize
	}
	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "web.server"),
		hub:     h,
		bridge:  bridge,
		session: sess,
		creds:   creds,
		base:    context.Background(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "talkback",
		DisableStartupMessage: true,
		// Leave room for multipart framing around the largest image.
		BodyLimit: int(cfg.MaxImageSize) + 1<<20,
	})

	// CORS for local development
	app.Use(cors.New())

	// Static files
	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/conversation", s.handleConversation)
	api.Get("/transcript", s.handleTranscript)
	api.Post("/begin", s.handleBegin)
	api.Post("/listen", s.handleListen)
	api.Delete("/listen", s.handleStopListening)
	api.Post("/listen/toggle", s.handleToggleListening)
	api.Put("/mic", s.handleSetMic)
	api.Post("/mic/toggle", s.handleToggleMic)
	api.Post("/image", s.handleAttachImage)
	api.Delete("/image", s.handleRemoveImage)
	api.Post("/suggestions/speak", s.handleSpeakSuggestion)
	api.Post("/say", s.handleSay)
	api.Get("/credential", s.handleGetCredential)
	api.Put("/credential", s.handleSetCredential)
	api.Delete("/credential", s.handleClearCredential)
	api.Post("/reset", s.handleReset)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/session", websocket.New(s.handleSessionWS))

	h.OnConnect(s.greet)

	s.app = app
	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hub and the session's event pump and serves until ctx is
// done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.base = ctx
	s.logger.Info("serving", "addr", ln.Addr().String(), "static", s.cfg.StaticDir)

	go s.hub.Run(ctx)
	go func() {
		if err := s.session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("session loop stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}()

	return s.app.Listener(ln)
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handleSessionWS attaches a browser to the hub.
func (s *Server) handleSessionWS(c *websocket.Conn) {
	client := hub.NewClient(s.hub, c)
	client.Run()
}

// greet sends a fresh browser the current session view.
func (s *Server) greet(c *hub.Client) {
	snap := s.session.Snapshot()
	for _, env := range []Envelope{
		{Type: TypeState, State: &snap},
		{Type: TypeStatus, Text: snap.Status},
		{Type: TypeConversation, Turns: s.session.Display()},
		{Type: TypeSuggestions, Suggestions: s.session.Suggestions()},
	} {
		if err := c.SendJSON(env); err != nil {
			s.logger.Debug("greet client", "client", c.ID(), "error", err)
			return
		}
	}
}
