package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-talkback/internal/log"
	"github.com/teslashibe/go-talkback/pkg/audio"
	"github.com/teslashibe/go-talkback/pkg/session"
	"github.com/teslashibe/go-talkback/pkg/speech"
	"github.com/teslashibe/go-talkback/pkg/voice"
)

var (
	chatMute   bool
	chatPlayer string
	chatSynth  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Practice in the terminal",
	Long: `Starts a practice session in the terminal.

Each typed line is one spoken line. Replies are played through a local
audio command (afplay, aplay, ffplay) when a key is stored for Cloud
Text-to-Speech, and through say or espeak-ng otherwise.

Commands:
  /mic            turn the microphone on or off
  /image <path>   attach an image to talk about
  /noimage        remove the attached image
  /say <n>        read suggestion n aloud
  /transcript     print the conversation
  /reset          start over
  /quit           leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&chatMute, "mute", false, "print replies without speaking them")
	chatCmd.Flags().StringVar(&chatPlayer, "player", "", "audio player command, {file} is the clip (default from config or auto-detect)")
	chatCmd.Flags().StringVar(&chatSynth, "synth", "", "local synthesizer: say, espeak-ng, espeak (default auto-detect)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	logger := log.L()

	creds, _, err := openCredentials(cfg)
	if err != nil {
		return err
	}
	gen, err := newGenerator(cfg, creds, logger)
	if err != nil {
		return err
	}

	term := newTerminal(cmd.OutOrStdout())
	console := speech.NewConsole()
	capture := speech.New(console,
		speech.WithLocale(cfg.Session.Locale),
		speech.WithLogger(logger),
	)
	defer capture.Close()

	var speaker session.Speaker = silent{}
	if !chatMute {
		opts := []voice.Option{
			voice.WithCredentials(creds),
			voice.WithLocalSettings(localSettings(cfg)),
			voice.WithLogger(logger),
		}
		remote, err := newRemoteVoice(cfg, creds, logger)
		if err != nil {
			return err
		}
		if remote != nil {
			opts = append(opts, voice.WithRemote(remote))
		}
		if p, err := audio.NewExecPlayer(firstNonEmpty(chatPlayer, cfg.Local.Player), logger); err != nil {
			logger.Warn("no audio player, cloud voice disabled", "error", err)
		} else {
			opts = append(opts, voice.WithPlayer(p))
		}
		if s, err := voice.NewCommandSynth(firstNonEmpty(chatSynth, cfg.Local.Synthesizer), logger); err != nil {
			logger.Warn("no local synthesizer", "error", err)
		} else {
			opts = append(opts, voice.WithLocal(s))
		}
		speaker = voice.New(opts...)
	}

	sess := session.New(capture, gen, speaker,
		session.WithContextTurns(cfg.Session.ContextTurns),
		session.WithDisplayTurns(cfg.Session.DisplayTurns),
		session.WithMaxImageSize(cfg.Session.MaxImageSize),
		session.WithNotifier(term),
		session.WithLogger(logger),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !creds.Exists() {
		term.ShowError("No API key stored. Replies use built-in answers until you run: talkback key set <key>")
	}

	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session loop stopped", "error", err)
		}
	}()

	if err := sess.Begin(ctx); err != nil {
		return err
	}

	c := &chat{sess: sess, console: console, term: term, out: cmd.OutOrStdout()}
	return c.loop(ctx, cmd.InOrStdin())
}

// silent is the speaker used with --mute.
type silent struct{}

func (silent) Speak(ctx context.Context, text string) {}
func (silent) Stop()                                  {}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// chat reads typed lines and slash commands.
type chat struct {
	sess    *session.Session
	console *speech.Console
	term    *terminal
	out     io.Writer
}

// loop reads lines until EOF, /quit or ctx is done.
func (c *chat) loop(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// handle runs one typed line. It reports whether the learner asked to quit.
func (c *chat) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.speak(line)
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/mic":
		c.sess.ToggleMic()
	case "/image":
		c.attach(arg)
	case "/noimage":
		c.sess.RemoveImage()
		fmt.Fprintln(c.out, hintStyle.Render("(image removed)"))
	case "/say":
		c.saySuggestion(ctx, arg)
	case "/transcript":
		fmt.Fprintln(c.out, c.sess.Transcript())
	case "/reset":
		if err := c.sess.Reset(); err != nil {
			c.term.ShowError(err.Error())
		}
	case "/help":
		fmt.Fprintln(c.out, hintStyle.Render("/mic  /image <path>  /noimage  /say <n>  /transcript  /reset  /quit"))
	default:
		c.term.ShowError("Unknown command " + name + ". Type /help for the list.")
	}
	return false
}

// speak hands a typed line to the recognizer, as if it had been heard.
func (c *chat) speak(line string) {
	if err := c.sess.StartListening(); err != nil {
		// The session has already told the learner why.
		return
	}
	if !c.console.Feed(line) {
		c.term.ShowError("The microphone stopped before the line was heard. Please try again.")
	}
}

func (c *chat) attach(path string) {
	if path == "" {
		c.term.ShowError("Usage: /image <path>")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.term.ShowError(err.Error())
		return
	}
	if err := c.sess.AttachImage(data, ""); err != nil {
		c.term.ShowError(err.Error())
	}
}

func (c *chat) saySuggestion(ctx context.Context, arg string) {
	suggestions := c.sess.Suggestions()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(suggestions) {
		c.term.ShowError(fmt.Sprintf("Usage: /say <1-%d>", len(suggestions)))
		return
	}
	text := suggestions[n-1].Text
	go func() {
		if err := c.sess.SpeakSuggestion(ctx, text); err != nil && errors.Is(err, session.ErrBusy) {
			c.term.Status(session.StatusWait)
		}
	}()
}
