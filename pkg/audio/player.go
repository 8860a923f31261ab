package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Sentinel errors for playback.
var (
	// ErrStopped is returned by Play when playback was interrupted by Stop or a newer Play.
	ErrStopped = errors.New("audio: playback stopped")

	// ErrNoPlayer is returned when no playback command is available on this host.
	ErrNoPlayer = errors.New("audio: no audio player available")
)

// Player plays one clip at a time.
type Player interface {
	// Play blocks until the clip finishes, ctx is cancelled, or Stop is called.
	// Starting a new Play stops the current one first.
	Play(ctx context.Context, clip *Clip) error

	// Stop interrupts the current clip. Safe to call when idle.
	Stop()

	// IsPlaying reports whether a clip is currently playing.
	IsPlaying() bool
}

// candidatePlayers are tried in order when no command is configured.
var candidatePlayers = []string{
	"afplay {file}",
	"ffplay -nodisp -autoexit -loglevel quiet {file}",
	"mpv --no-video --really-quiet {file}",
	"paplay {file}",
	"aplay -q {file}",
}

// DetectPlayerCommand returns the first playback command found on PATH, or "".
func DetectPlayerCommand() string {
	for _, c := range candidatePlayers {
		name := strings.Fields(c)[0]
		if name == "afplay" && runtime.GOOS != "darwin" {
			continue
		}
		if _, err := exec.LookPath(name); err == nil {
			return c
		}
	}
	return ""
}

// ExecPlayer plays clips through an external command such as afplay or ffplay.
// The clip is written to a temp file whose path replaces "{file}" in the
// command (or is appended when the placeholder is missing).
type ExecPlayer struct {
	command []string
	tempDir string
	logger  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64

	// OnPlaybackStart and OnPlaybackEnd are optional hooks.
	OnPlaybackStart func()
	OnPlaybackEnd   func()
}

// NewExecPlayer creates a player for command. An empty command auto-detects one.
func NewExecPlayer(command string, logger *slog.Logger) (*ExecPlayer, error) {
	if command == "" {
		command = DetectPlayerCommand()
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, ErrNoPlayer
	}
	if _, err := exec.LookPath(fields[0]); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPlayer, fields[0])
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecPlayer{
		command: fields,
		tempDir: os.TempDir(),
		logger:  logger.With("component", "audio.exec"),
	}, nil
}

// Command returns the playback command template.
func (p *ExecPlayer) Command() string {
	return strings.Join(p.command, " ")
}

// Play writes the clip to a temp file and runs the playback command on it.
func (p *ExecPlayer) Play(ctx context.Context, clip *Clip) error {
	if clip == nil || len(clip.Data) == 0 {
		return ErrEmpty
	}

	// One clip at a time: interrupt whatever is playing.
	p.Stop()

	f, err := os.CreateTemp(p.tempDir, "talkback-*"+clip.Extension())
	if err != nil {
		return fmt.Errorf("audio: temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(clip.Data); err != nil {
		f.Close()
		return fmt.Errorf("audio: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("audio: close temp file: %w", err)
	}

	playCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(playCtx, p.command[0], p.args(path)...)

	p.mu.Lock()
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		cancel()
		return fmt.Errorf("audio: start %s: %w", p.command[0], err)
	}
	p.gen++
	gen := p.gen
	done := make(chan struct{})
	p.cmd, p.cancel, p.done = cmd, cancel, done
	p.mu.Unlock()

	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart()
	}
	p.logger.Debug("playback started", "bytes", len(clip.Data), "mime", clip.MIMEType)

	waitErr := cmd.Wait()
	close(done)

	p.mu.Lock()
	stopped := p.gen != gen || p.cmd != cmd
	if p.cmd == cmd {
		p.cmd, p.cancel, p.done = nil, nil, nil
	}
	p.mu.Unlock()
	cancel()

	if p.OnPlaybackEnd != nil {
		p.OnPlaybackEnd()
	}

	switch {
	case stopped:
		return ErrStopped
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return fmt.Errorf("audio: %s: %w", p.command[0], waitErr)
	}
	return nil
}

// Stop kills the running playback command and waits for it to exit.
func (p *ExecPlayer) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	if p.cmd != nil {
		// Mark the running clip as superseded before killing it.
		p.gen++
		p.cmd = nil
	}
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// IsPlaying reports whether a command is running.
func (p *ExecPlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

func (p *ExecPlayer) args(path string) []string {
	args := make([]string, 0, len(p.command))
	replaced := false
	for _, a := range p.command[1:] {
		if strings.Contains(a, "{file}") {
			a = strings.ReplaceAll(a, "{file}", path)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}

// Verify ExecPlayer implements Player at compile time.
var _ Player = (*ExecPlayer)(nil)
