package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-talkback/internal/log"
	"github.com/teslashibe/go-talkback/pkg/hub"
	"github.com/teslashibe/go-talkback/pkg/session"
	"github.com/teslashibe/go-talkback/pkg/speech"
	"github.com/teslashibe/go-talkback/pkg/voice"
	"github.com/teslashibe/go-talkback/pkg/web"
)

var (
	serveListen string
	serveStatic string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser client",
	Long: `Serves the practice page and its API.

The page connects to /ws/session and lends the session its speech
recognizer, its speech synthesizer and its audio output. Replies are
voiced with Google Cloud Text-to-Speech when a key is stored, and with
the browser's own voice otherwise.

Examples:
  talkback serve
  talkback serve --listen 127.0.0.1:9000 --static ./web`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default from config, 127.0.0.1:8080)")
	serveCmd.Flags().StringVar(&serveStatic, "static", "", "directory of the browser page (default from config, ./web)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}
	if serveStatic != "" {
		cfg.Server.StaticDir = serveStatic
	}
	logger := log.L()

	creds, file, err := openCredentials(cfg)
	if err != nil {
		return err
	}
	gen, err := newGenerator(cfg, creds, logger)
	if err != nil {
		return err
	}
	remote, err := newRemoteVoice(cfg, creds, logger)
	if err != nil {
		return err
	}

	h := hub.New("session", hub.WithLogger(logger))
	bridge := web.NewBridge(h, logger)
	bridge.SetTimeout(cfg.Server.BrowserTimeout)

	capture := speech.New(bridge,
		speech.WithLocale(cfg.Session.Locale),
		speech.WithLogger(logger),
	)
	defer capture.Close()

	output := voice.New(
		voice.WithRemote(remote),
		voice.WithCredentials(creds),
		voice.WithPlayer(bridge),
		voice.WithLocal(bridge),
		voice.WithLocalSettings(localSettings(cfg)),
		voice.WithLogger(logger),
	)

	sess := session.New(capture, gen, output,
		session.WithContextTurns(cfg.Session.ContextTurns),
		session.WithDisplayTurns(cfg.Session.DisplayTurns),
		session.WithMaxImageSize(cfg.Session.MaxImageSize),
		session.WithNotifier(bridge),
		session.WithLogger(logger),
	)

	srv := web.NewServer(web.Config{
		Listen:       cfg.Server.Listen,
		StaticDir:    cfg.Server.StaticDir,
		MaxImageSize: cfg.Session.MaxImageSize,
		Logger:       logger,
	}, h, bridge, sess, creds)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("talkback ready",
		"session_id", sess.ID(),
		"url", "http://"+cfg.Server.Listen,
		"credential_file", file.Path(),
		"credential", creds.Exists(),
		"remote_voice", remote != nil,
	)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		printError("server", err)
		return err
	}
	logger.Info("talkback stopped")
	return nil
}
