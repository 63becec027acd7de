// Package interviewer provides the AI interviewer collaborator: a streaming
// client for an OpenAI-compatible chat completions endpoint.
package interviewer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/hirecode/hirecode/internal/config"
)

const defaultSystemPrompt = "You are a staff engineer conducting a rigorous but friendly coding interview. " +
	"Ask probing questions about the candidate's approach, complexity and trade-offs. Keep replies short."

// ErrDisabled is returned when no API key is configured.
var ErrDisabled = errors.New("interviewer: no API key configured")

// UnavailableMessage is surfaced to the candidate when the AI collaborator
// cannot be reached.
const UnavailableMessage = "The AI interviewer is currently unavailable. Please continue with the task."

// Context is the conversational context forwarded with each user message.
type Context struct {
	Message   string
	Code      string
	Telemetry map[string]any
}

// Interviewer produces streamed replies for candidate chat messages.
type Interviewer interface {
	// StreamReply yields reply content deltas in order. The iterator stops
	// on ctx cancellation, stream end, or the first error.
	StreamReply(ctx context.Context, ic Context) iter.Seq2[string, error]
}

// Client talks to an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	cfg          config.AIConfig
	httpClient   *http.Client
	systemPrompt string
}

// NewClient creates the interviewer client. The system prompt is read from
// cfg.PromptPath when present, falling back to a built-in default.
func NewClient(cfg config.AIConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrDisabled
	}

	prompt := defaultSystemPrompt
	if data, err := os.ReadFile(cfg.PromptPath); err == nil && len(bytes.TrimSpace(data)) > 0 {
		prompt = string(data)
	}

	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: 2 * time.Minute},
		systemPrompt: prompt,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamReply sends the interview context and yields content deltas as they
// arrive over the SSE stream.
func (c *Client) StreamReply(ctx context.Context, ic Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := json.Marshal(chatRequest{
			Model:       c.cfg.Model,
			Stream:      true,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
			Messages: []chatMessage{
				{Role: "system", Content: c.systemPrompt},
				{Role: "user", Content: buildUserContent(ic)},
			},
		})
		if err != nil {
			yield("", fmt.Errorf("marshal chat request: %w", err))
			return
		}

		url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			yield("", fmt.Errorf("build chat request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			yield("", fmt.Errorf("chat completions request: %w", err))
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				slog.Debug("Failed to close completions body", "error", closeErr)
			}
		}()

		if resp.StatusCode != http.StatusOK {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			yield("", fmt.Errorf("chat completions status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				if payload == "[DONE]" {
					return
				}
				continue
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				slog.Debug("Skipping unparseable stream chunk", "error", err)
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !yield(choice.Delta.Content, nil) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			yield("", fmt.Errorf("read completions stream: %w", err))
		}
	}
}

// buildUserContent flattens the interview context into the single user turn
// the model receives.
func buildUserContent(ic Context) string {
	telemetry, err := json.Marshal(ic.Telemetry)
	if err != nil {
		telemetry = []byte("{}")
	}
	return fmt.Sprintf(
		"Candidate message:\n%s\n\nLatest code:\n```\n%s\n```\n\nTelemetry:\n%s",
		ic.Message, ic.Code, telemetry,
	)
}

// Disabled yields the canned unavailable reply. It keeps the chat relay's
// control flow identical whether or not a model is configured.
type Disabled struct{}

// StreamReply yields the single unavailable message.
func (Disabled) StreamReply(_ context.Context, _ Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield(UnavailableMessage, nil)
	}
}
