package session

import (
	"context"

	"github.com/teslashibe/go-talkback/pkg/speech"
)

// Run consumes capture events until ctx is done or the event channel closes.
// Final transcripts run a full turn before the next event is read.
func (s *Session) Run(ctx context.Context) error {
	events := s.capture.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ctx, e)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, e speech.Event) {
	switch e.Kind {
	case speech.EventInterim:
		s.notifier.Interim(e.Text)
		s.setStatus(listeningStatus(e.Text))
	case speech.EventFinal:
		if err := s.HandleUserSpeech(ctx, e.Text); err != nil {
			s.logger.Warn("turn failed", "error", err)
		}
	case speech.EventError:
		s.handleCaptureError(e)
	case speech.EventState:
		s.syncState(e.State)
	}
}

// handleCaptureError applies the capture error policy. During a turn the turn
// owns the state machine and only the message is surfaced.
func (s *Session) handleCaptureError(e speech.Event) {
	if e.Error == speech.KindUserAborted {
		return
	}
	s.logger.Debug("capture error", "kind", e.Error, "code", e.Code)

	s.mu.Lock()
	current := s.machine.State()
	settle := current == StateListening || current == StateIdle
	if e.Error == speech.KindPermissionDenied {
		s.permissionBlocked = true
	}
	if settle {
		// Listening/Idle -> Error -> Idle.
		if err := s.machine.Transition(StateError); err == nil {
			_ = s.machine.Transition(StateIdle)
		}
		s.listening = false
	}
	s.mu.Unlock()

	switch e.Error {
	case speech.KindPermissionDenied:
		s.showError(MsgPermissionBlocked)
	case speech.KindNoSpeech:
		s.setStatus(StatusNoSpeech)
	case speech.KindDeviceUnavailable:
		s.showError(MsgDeviceUnavailable)
	case speech.KindNetwork:
		s.showError(MsgNetwork)
	default:
		s.showError(otherErrorMessage(e.Code))
	}
	s.notifyState()
}

func (s *Session) syncState(state speech.State) {
	switch state {
	case speech.StateListening:
		s.mu.Lock()
		s.listening = s.machine.State() == StateListening
		s.mu.Unlock()
		s.notifyState()
	case speech.StateStopped:
		s.mu.Lock()
		if s.machine.State() == StateListening {
			_ = s.machine.Transition(StateIdle)
		}
		s.listening = false
		idle := !s.processing && s.machine.State() == StateIdle
		s.mu.Unlock()

		if idle {
			s.setStatus(StatusReady)
		}
		s.notifyState()
	case speech.StateError:
		s.mu.Lock()
		s.listening = false
		s.mu.Unlock()
		s.notifyState()
	}
}
