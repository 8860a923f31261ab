package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-talkback/internal/httpc"
)

const providerGemini = "gemini"

// accessTokenPrefix marks Google OAuth2 access tokens. A credential that
// starts with it is sent as a bearer token rather than an API key.
const accessTokenPrefix = "ya29."

// Gemini implements the Provider interface for Google's Gemini API.
// Gemini uses a different wire format than OpenAI, so it is implemented directly.
type Gemini struct {
	config  *Config
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewGemini creates a Gemini provider.
// A key is not required up front: it is resolved per request, so a session can
// start before the learner has stored one.
func NewGemini(opts ...Option) (*Gemini, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, WrapError(providerGemini, err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = httpc.NewClient(cfg.Timeout)
	}
	if cfg.TokenSource != nil {
		hc = &http.Client{
			Timeout: hc.Timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, cfg.TokenSource),
				Base:   hc.Transport,
			},
		}
	}

	return &Gemini{
		config:  cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    hc,
		logger:  cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Chat generates a completion with generateContent.
func (g *Gemini) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.config.Model
	}

	payload := g.buildPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(providerGemini, err)
	}

	httpReq, err := g.newRequest(ctx, http.MethodPost, "/models/"+model+":generateContent", body)
	if err != nil {
		return nil, err
	}

	resp, err := g.do(ctx, httpReq, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("decode response: %w", err))
	}

	if result.Error.Message != "" {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    result.Error.Message,
			Code:       result.Error.Status,
			Provider:   providerGemini,
		}
	}

	if len(result.Candidates) == 0 {
		if result.PromptFeedback.BlockReason != "" {
			return nil, WrapError(providerGemini, fmt.Errorf("%w: blocked (%s)", ErrEmptyResponse, result.PromptFeedback.BlockReason))
		}
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	cand := result.Candidates[0]
	var text strings.Builder
	for _, p := range cand.Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return nil, WrapError(providerGemini, ErrEmptyResponse)
	}

	g.logger.Debug("generate complete",
		"model", model,
		"finish_reason", cand.FinishReason,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &ChatResponse{
		Message:      NewAssistantMessage(text.String()),
		FinishReason: cand.FinishReason,
		Usage: Usage{
			PromptTokens:     result.UsageMetadata.PromptTokenCount,
			CompletionTokens: result.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      result.UsageMetadata.TotalTokenCount,
		},
		Model:     model,
		Provider:  providerGemini,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Capabilities returns Gemini's capabilities.
func (g *Gemini) Capabilities() Capabilities {
	return Capabilities{Chat: true, Vision: true}
}

// Health checks that the configured model is reachable with the current credential.
func (g *Gemini) Health(ctx context.Context) error {
	req, err := g.newRequest(ctx, http.MethodGet, "/models/"+g.config.Model, nil)
	if err != nil {
		return err
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return WrapError(providerGemini, fmt.Errorf("health check: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return g.parseError(resp)
	}
	return nil
}

// Close releases resources.
func (g *Gemini) Close() error {
	g.http.CloseIdleConnections()
	return nil
}

// buildPayload converts a ChatRequest into a generateContent body.
func (g *Gemini) buildPayload(req *ChatRequest) map[string]interface{} {
	var contents []map[string]interface{}
	var system []string

	for _, msg := range req.Messages {
		if msg.Role == RoleSystem {
			system = append(system, msg.Content)
			continue
		}

		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}

		parts := []map[string]interface{}{
			{"text": msg.Content},
		}
		for _, img := range msg.Images {
			parts = append(parts, map[string]interface{}{
				"inline_data": map[string]string{
					"mime_type": img.MIME(),
					"data":      img.Base64(),
				},
			})
		}

		contents = append(contents, map[string]interface{}{
			"role":  role,
			"parts": parts,
		})
	}

	gen := map[string]interface{}{
		"temperature":     orFloat(req.Temperature, g.config.Temperature),
		"maxOutputTokens": orInt(req.MaxTokens, g.config.MaxTokens),
	}
	if topP := orFloat(req.TopP, g.config.TopP); topP > 0 {
		gen["topP"] = topP
	}
	if len(req.Stop) > 0 {
		gen["stopSequences"] = req.Stop
	}

	payload := map[string]interface{}{
		"contents":         contents,
		"generationConfig": gen,
	}
	if len(system) > 0 {
		payload["systemInstruction"] = map[string]interface{}{
			"parts": []map[string]interface{}{
				{"text": strings.Join(system, "\n\n")},
			},
		}
	}
	return payload
}

// newRequest builds a request and attaches the credential.
func (g *Gemini) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	u := g.baseURL + path

	key := g.config.apiKey()
	if key == "" && g.config.TokenSource == nil {
		return nil, WrapError(providerGemini, ErrNoAPIKey)
	}
	isToken := strings.HasPrefix(key, accessTokenPrefix)
	if key != "" && !isToken {
		u += "?key=" + url.QueryEscape(key)
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, WrapError(providerGemini, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if isToken {
		(&oauth2.Token{AccessToken: key, TokenType: "Bearer"}).SetAuthHeader(req)
	}
	return req, nil
}

// do sends the request, retrying rate limits and server errors.
func (g *Gemini) do(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(g.config.RetryDelay * time.Duration(attempt)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := g.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, WrapError(providerGemini, ctx.Err())
			}
			lastErr = WrapError(providerGemini, err)
			g.logger.Warn("request failed", "attempt", attempt+1, "error", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := g.parseError(resp)
		resp.Body.Close()
		lastErr = apiErr
		if ae, ok := apiErr.(*APIError); !ok || !ae.IsRetryable() {
			return nil, apiErr
		}
		g.logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
	}

	return nil, lastErr
}

// parseError reads and parses an error response.
func (g *Gemini) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
		Provider:   providerGemini,
	}
}

// geminiResponse is the Gemini API response format.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Status  string `json:"status"`
	} `json:"error"`
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

// Verify Gemini implements Provider at compile time.
var _ Provider = (*Gemini)(nil)
