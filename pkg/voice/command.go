package voice

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// ErrNoSynthesizer is returned when no speech command is installed.
var ErrNoSynthesizer = errors.New("voice: no local speech synthesizer available")

// ErrCancelled is returned by Say when the utterance was cancelled.
var ErrCancelled = errors.New("voice: utterance cancelled")

// Speech engines CommandSynth knows how to drive.
const (
	EngineSay    = "say"       // macOS
	EngineEspeak = "espeak-ng" // Linux
	EngineLegacy = "espeak"
)

// baseWPM is the words per minute both engines use at rate 1.0.
const baseWPM = 175

// CommandSynth speaks through a command line engine (say or espeak-ng).
type CommandSynth struct {
	engine string
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	gen    uint64
}

// DetectEngine returns the first speech engine found on PATH, or "".
func DetectEngine() string {
	candidates := []string{EngineEspeak, EngineLegacy}
	if runtime.GOOS == "darwin" {
		candidates = append([]string{EngineSay}, candidates...)
	}
	for _, c := range candidates {
		if _, err := exec.LookPath(c); err == nil {
			return c
		}
	}
	return ""
}

// NewCommandSynth creates a synthesizer for engine. An empty engine auto-detects one.
func NewCommandSynth(engine string, logger *slog.Logger) (*CommandSynth, error) {
	if engine == "" {
		engine = DetectEngine()
	}
	if engine == "" {
		return nil, ErrNoSynthesizer
	}
	path, err := exec.LookPath(engine)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSynthesizer, engine)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSynth{
		engine: engine,
		path:   path,
		logger: logger.With("component", "voice.command"),
	}, nil
}

// Engine returns the engine name.
func (s *CommandSynth) Engine() string {
	return s.engine
}

// Voices lists the engine's installed voices.
func (s *CommandSynth) Voices(ctx context.Context) ([]Voice, error) {
	var args []string
	if s.engine == EngineSay {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}
	out, err := exec.CommandContext(ctx, s.path, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("voice: list %s voices: %w", s.engine, err)
	}
	if s.engine == EngineSay {
		return ParseSayVoices(out), nil
	}
	return ParseEspeakVoices(out), nil
}

// Say runs the engine for one utterance, interrupting any previous one.
func (s *CommandSynth) Say(ctx context.Context, u Utterance) error {
	if strings.TrimSpace(u.Text) == "" {
		return nil
	}
	s.Cancel()

	sayCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(sayCtx, s.path, s.args(u)...)

	s.mu.Lock()
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("voice: start %s: %w", s.engine, err)
	}
	s.gen++
	gen := s.gen
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	waitErr := cmd.Wait()
	close(done)

	s.mu.Lock()
	cancelled := s.gen != gen
	if !cancelled {
		s.cancel, s.done = nil, nil
	}
	s.mu.Unlock()
	cancel()

	switch {
	case cancelled:
		return ErrCancelled
	case ctx.Err() != nil:
		return ctx.Err()
	case waitErr != nil:
		return fmt.Errorf("voice: %s: %w", s.engine, waitErr)
	}
	return nil
}

// Cancel kills the running utterance and waits for it to exit.
func (s *CommandSynth) Cancel() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	if cancel != nil {
		s.gen++
		s.cancel, s.done = nil, nil
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *CommandSynth) args(u Utterance) []string {
	rate := u.Rate
	if rate <= 0 {
		rate = 1
	}
	wpm := strconv.Itoa(int(math.Round(baseWPM * rate)))

	if s.engine == EngineSay {
		args := []string{"-r", wpm}
		if u.Voice != "" {
			args = append(args, "-v", u.Voice)
		}
		// say has no pitch or volume flags.
		return append(args, "--", u.Text)
	}

	pitch := u.Pitch
	if pitch <= 0 {
		pitch = 1
	}
	volume := u.Volume
	if volume < 0 {
		volume = 0
	}
	args := []string{
		"-s", wpm,
		"-p", strconv.Itoa(clamp(int(math.Round(50*pitch)), 0, 99)),
		"-a", strconv.Itoa(clamp(int(math.Round(100*volume)), 0, 200)),
	}
	switch {
	case u.Voice != "":
		args = append(args, "-v", u.Voice)
	case u.Lang != "":
		args = append(args, "-v", strings.ToLower(u.Lang))
	}
	return append(args, "--", u.Text)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// ParseSayVoices parses `say -v ?` output:
//
//	Samantha            en_US    # Hello! My name is Samantha.
func ParseSayVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// Names may contain spaces; the locale is the last field.
		lang := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")
		voices = append(voices, Voice{Name: name, Lang: normalizeLang(lang)})
	}
	return voices
}

// ParseEspeakVoices parses `espeak-ng --voices` output:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 2  en-us           --/M      English_(America)  gmw/en-US            (en 3)
func ParseEspeakVoices(out []byte) []Voice {
	var voices []Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		// The language column doubles as the -v argument.
		name := fields[1]
		lang := name
		if i := strings.Index(lang, "-"); i > 0 {
			lang = lang[:i] + "-" + strings.ToUpper(lang[i+1:])
		}
		voices = append(voices, Voice{Name: name, Lang: lang})
	}
	return voices
}

// Verify CommandSynth implements Synthesizer at compile time.
var _ Synthesizer = (*CommandSynth)(nil)
