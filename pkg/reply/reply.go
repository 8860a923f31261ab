// Package reply turns what the learner said into the partner's next line and
// three leveled suggestions, using a generation provider with a keyword-based
// fallback when the provider cannot be used.
package reply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/teslashibe/go-talkback/pkg/conversation"
	"github.com/teslashibe/go-talkback/pkg/inference"
)

// Generation defaults.
const (
	DefaultTemperature = 0.8
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 400
)

// ErrNoProvider is returned by Generate when the generator has no provider.
var ErrNoProvider = errors.New("reply: no generation provider")

// ParseError reports a provider answer that is not a usable reply.
// Raw holds the text that was being parsed.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return "reply: cannot parse response: " + e.Reason
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithSampling overrides temperature, topP and the output token limit.
func WithSampling(temperature, topP float64, maxTokens int) Option {
	return func(g *Generator) {
		g.temperature = temperature
		g.topP = topP
		g.maxTokens = maxTokens
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(g *Generator) { g.model = model }
}

// Generator asks a provider for the next reply.
type Generator struct {
	provider    inference.Provider
	model       string
	temperature float64
	topP        float64
	maxTokens   int
	logger      *slog.Logger
}

// New creates a Generator backed by provider.
func New(provider inference.Provider, opts ...Option) *Generator {
	g := &Generator{
		provider:    provider,
		temperature: DefaultTemperature,
		topP:        DefaultTopP,
		maxTokens:   DefaultMaxTokens,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "reply.generator")
	return g
}

// Generate builds the prompt from recent turns (the learner's line included)
// and the optional image, calls the provider and parses its answer.
// Provider failures are returned wrapped; malformed answers as *ParseError.
func (g *Generator) Generate(ctx context.Context, userText string, recent []conversation.Turn, image *conversation.Image) (*conversation.Reply, error) {
	if g.provider == nil {
		return nil, ErrNoProvider
	}

	msg := inference.NewUserMessage(BuildPrompt(userText, recent, image != nil))
	if image != nil {
		msg.Images = []inference.ImagePart{{Data: image.Data, MIMEType: image.MIMEType}}
	}

	start := time.Now()
	resp, err := g.provider.Chat(ctx, &inference.ChatRequest{
		Messages:    []inference.Message{msg},
		Model:       g.model,
		Temperature: g.temperature,
		TopP:        g.topP,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("reply: generate: %w", err)
	}

	reply, err := Parse(resp.Message.Content)
	if err != nil {
		g.logger.Warn("unusable response", "error", err, "raw", truncate(resp.Message.Content, 200))
		return nil, err
	}

	g.logger.Debug("reply generated",
		"provider", resp.Provider,
		"suggestions", len(reply.Suggestions),
		"image", image != nil,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

// BuildPrompt renders the instruction prompt sent to the model.
func BuildPrompt(userText string, recent []conversation.Turn, hasImage bool) string {
	var b strings.Builder

	b.WriteString("You are a friendly, warm English conversation partner. Help the user practice speaking naturally.\n")
	if hasImage {
		b.WriteString("\n\nThe user has uploaded an image. Please acknowledge it and ask about it naturally.")
	}
	b.WriteString("\n\nRecent conversation:\n")
	for i, t := range recent {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Role.PromptLabel())
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	b.WriteString("\n\nThe user just said: \"")
	b.WriteString(userText)
	b.WriteString("\"\n\n")
	b.WriteString(instructions)
	return b.String()
}

const instructions = `Instructions:
1. Respond naturally and engagingly in 1-2 sentences
2. Ask a follow-up question to keep the conversation going
3. Be encouraging and friendly

Then provide 3 suggested responses for the user at different levels:
- Level 1 (5-year-old): Very simple, 3-5 words
- Level 2 (10-year-old): Natural sentence, 8-12 words
- Level 3 (20-year-old): More sophisticated, 15+ words

IMPORTANT: Respond ONLY with this exact JSON format, no other text:
{"aiResponse":"your response here","suggestions":[{"text":"simple response","level":"beginner","age":5},{"text":"medium response","level":"intermediate","age":10},{"text":"advanced response","level":"advanced","age":20}]}`

var (
	jsonFence = regexp.MustCompile("(?i)```json\\s*")
	anyFence  = regexp.MustCompile("```\\s*")
	jsonSpan  = regexp.MustCompile(`\{[\s\S]*\}`)
)

// Parse extracts a Reply from model output. Markdown fences are stripped and
// the widest {...} span is decoded. The result must carry a non-empty
// aiResponse and exactly one suggestion with text for each level.
func Parse(raw string) (*conversation.Reply, error) {
	text := jsonFence.ReplaceAllString(raw, "")
	text = anyFence.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if m := jsonSpan.FindString(text); m != "" {
		text = m
	}

	var wire struct {
		AIResponse  string          `json:"aiResponse"`
		Suggestions json.RawMessage `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(text), &wire); err != nil {
		return nil, &ParseError{Reason: err.Error(), Raw: raw}
	}
	if strings.TrimSpace(wire.AIResponse) == "" {
		return nil, &ParseError{Reason: "missing aiResponse", Raw: raw}
	}

	trimmed := strings.TrimSpace(string(wire.Suggestions))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, &ParseError{Reason: "suggestions is not an array", Raw: raw}
	}

	var suggestions []conversation.Suggestion
	if err := json.Unmarshal(wire.Suggestions, &suggestions); err != nil {
		return nil, &ParseError{Reason: "suggestions: " + err.Error(), Raw: raw}
	}
	if len(suggestions) != len(conversation.Levels) {
		return nil, &ParseError{Reason: fmt.Sprintf("want %d suggestions, got %d", len(conversation.Levels), len(suggestions)), Raw: raw}
	}
	byLevel := make(map[conversation.Level]conversation.Suggestion, len(suggestions))
	for i, s := range suggestions {
		if strings.TrimSpace(s.Text) == "" {
			return nil, &ParseError{Reason: fmt.Sprintf("suggestion %d has no text", i), Raw: raw}
		}
		if !s.Level.Valid() {
			return nil, &ParseError{Reason: fmt.Sprintf("suggestion %d has unknown level %q", i, s.Level), Raw: raw}
		}
		if _, dup := byLevel[s.Level]; dup {
			return nil, &ParseError{Reason: fmt.Sprintf("suggestion %d repeats level %q", i, s.Level), Raw: raw}
		}
		byLevel[s.Level] = s
	}

	// Presented beginner first, whatever order the model used.
	ordered := make([]conversation.Suggestion, 0, len(conversation.Levels))
	for _, lvl := range conversation.Levels {
		ordered = append(ordered, byLevel[lvl])
	}

	return &conversation.Reply{Text: wire.AIResponse, Suggestions: ordered}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
