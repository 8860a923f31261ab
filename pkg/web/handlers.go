package web

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-talkback/pkg/conversation"
	"github.com/teslashibe/go-talkback/pkg/credential"
	"github.com/teslashibe/go-talkback/pkg/session"
)

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Session    session.Snapshot `json:"session"`
	Credential bool             `json:"credential"`
	Browser    bool             `json:"browser"`
	Latency    string           `json:"latency"`
}

// ConversationResponse is returned by GET /api/conversation.
type ConversationResponse struct {
	Turns       []conversation.Turn       `json:"turns"`
	Display     []conversation.Turn       `json:"display"`
	Suggestions []conversation.Suggestion `json:"suggestions"`
}

// TextRequest is the body of POST /api/say and /api/suggestions/speak.
type TextRequest struct {
	Text string `json:"text"`
}

// MicRequest is the body of PUT /api/mic.
type MicRequest struct {
	Enabled *bool `json:"enabled"`
}

// CredentialRequest is the body of PUT /api/credential.
type CredentialRequest struct {
	Key string `json:"key"`
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// sessionError maps session sentinels to HTTP statuses.
func sessionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrMicDisabled):
		return errorJSON(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, session.ErrPermissionDenied):
		return errorJSON(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrUnsupported):
		return errorJSON(c, fiber.StatusNotImplemented, err.Error())
	case errors.Is(err, session.ErrEmptyText):
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	default:
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
}

// handleStatus returns the session snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	avg := s.session.Metrics().Average()
	return c.JSON(StatusResponse{
		Session:    s.session.Snapshot(),
		Credential: s.creds != nil && s.creds.Exists(),
		Browser:    s.bridge.Connected(),
		Latency:    avg.FormatLatency(),
	})
}

// handleConversation returns the whole history and the display window
func (s *Server) handleConversation(c *fiber.Ctx) error {
	return c.JSON(ConversationResponse{
		Turns:       s.session.History(),
		Display:     s.session.Display(),
		Suggestions: s.session.Suggestions(),
	})
}

// handleTranscript returns the shareable transcript
func (s *Server) handleTranscript(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition, `inline; filename="transcript.txt"`)
	return c.SendString(s.session.Transcript())
}

// handleBegin starts the session in the background. Its outcome reaches the
// browser over the websocket.
func (s *Server) handleBegin(c *fiber.Ctx) error {
	go func() {
		if err := s.session.Begin(s.base); err != nil {
			s.logger.Info("begin failed", "error", err)
		}
	}()
	return c.SendStatus(fiber.StatusAccepted)
}

func (s *Server) handleListen(c *fiber.Ctx) error {
	if err := s.session.StartListening(); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(s.session.Snapshot())
}

func (s *Server) handleStopListening(c *fiber.Ctx) error {
	s.session.StopListening()
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleToggleListening(c *fiber.Ctx) error {
	if err := s.session.ToggleListening(); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(s.session.Snapshot())
}

func (s *Server) handleSetMic(c *fiber.Ctx) error {
	var req MicRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return errorJSON(c, fiber.StatusBadRequest, "body must be {\"enabled\": bool}")
	}
	s.session.SetMicEnabled(*req.Enabled)
	return c.JSON(fiber.Map{"enabled": *req.Enabled})
}

func (s *Server) handleToggleMic(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"enabled": s.session.ToggleMic()})
}

// handleAttachImage accepts a multipart "image" field
func (s *Server) handleAttachImage(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "missing image field")
	}
	if fh.Size > s.cfg.MaxImageSize {
		return errorJSON(c, fiber.StatusRequestEntityTooLarge, conversation.ErrImageTooLarge.Error())
	}

	f, err := fh.Open()
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxImageSize+1))
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}

	if err := s.session.AttachImage(data, fh.Header.Get(fiber.HeaderContentType)); err != nil {
		switch {
		case errors.Is(err, conversation.ErrImageTooLarge):
			return errorJSON(c, fiber.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, conversation.ErrNotAnImage):
			return errorJSON(c, fiber.StatusUnsupportedMediaType, err.Error())
		default:
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"bytes": len(data)})
}

func (s *Server) handleRemoveImage(c *fiber.Ctx) error {
	s.session.RemoveImage()
	return c.SendStatus(fiber.StatusNoContent)
}

// handleSpeakSuggestion reads a suggestion aloud in the background
func (s *Server) handleSpeakSuggestion(c *fiber.Ctx) error {
	text, err := parseText(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if s.session.Snapshot().Processing {
		return sessionError(c, session.ErrBusy)
	}
	go func() {
		if err := s.session.SpeakSuggestion(s.base, text); err != nil {
			s.logger.Info("speak suggestion", "error", err)
		}
	}()
	return c.SendStatus(fiber.StatusAccepted)
}

// handleSay runs a typed turn in the background
func (s *Server) handleSay(c *fiber.Ctx) error {
	text, err := parseText(c)
	if err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	if s.session.Snapshot().Processing {
		return sessionError(c, session.ErrBusy)
	}
	go func() {
		if err := s.session.HandleUserSpeech(s.base, text); err != nil {
			s.logger.Warn("typed turn failed", "error", err)
		}
	}()
	return c.SendStatus(fiber.StatusAccepted)
}

var errTextBody = errors.New(`body must be {"text": string}`)

func parseText(c *fiber.Ctx) (string, error) {
	var req TextRequest
	if err := c.BodyParser(&req); err != nil {
		return "", errTextBody
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", session.ErrEmptyText
	}
	return text, nil
}

// handleGetCredential reports whether a key is stored, never the key itself
func (s *Server) handleGetCredential(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"exists": s.creds != nil && s.creds.Exists()})
}

func (s *Server) handleSetCredential(c *fiber.Ctx) error {
	if s.creds == nil {
		return errorJSON(c, fiber.StatusNotImplemented, "no credential store")
	}
	var req CredentialRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "body must be {\"key\": string}")
	}
	if err := s.creds.Set(req.Key); err != nil {
		if errors.Is(err, credential.ErrEmpty) {
			return errorJSON(c, fiber.StatusBadRequest, err.Error())
		}
		s.logger.Error("store credential", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"exists": true})
}

func (s *Server) handleClearCredential(c *fiber.Ctx) error {
	if s.creds == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}
	if err := s.creds.Clear(); err != nil {
		s.logger.Error("clear credential", "error", err)
		return errorJSON(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleReset(c *fiber.Ctx) error {
	if err := s.session.Reset(); err != nil {
		return sessionError(c, err)
	}
	return c.JSON(s.session.Snapshot())
}
