package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client is an OpenAI-compatible LLM client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	label      string        // tier name used in debug log lines (e.g. "PRIMARY", "SECONDARY")
	limiter    *rate.Limiter // nil when {PREFIX}_RPM is unset
	timeout    time.Duration // whole-call bound for Chat; header wait bound for streams
	httpClient *http.Client
}

const defaultTimeout = 120 * time.Second

// newHTTPClient bounds only the wait for response headers; reading a stream
// body is bounded by the caller's context alone.
func newHTTPClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: tr}
}

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a raw OPENAI_BASE_URL value so the path is never doubled when the
// client appends "/chat/completions" itself.
//
// Expectations:
//   - Strips a trailing "/chat/completions" suffix
//   - Strips a trailing slash without "/chat/completions"
//   - Strips trailing slash AND "/chat/completions" when both are present
//   - Returns the URL unchanged when neither suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// New creates a Client from the shared environment variables:
//
//	OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL
func New() *Client {
	return NewTier("")
}

// NewTier creates a Client for a named tier (e.g. "PRIMARY", "SECONDARY").
// For each config key it first tries {prefix}_{KEY}; if unset it falls back
// to the shared OPENAI_{KEY}. An empty prefix reads only the shared vars,
// making it equivalent to New().
//
// For example, prefix "SECONDARY" resolves credentials as:
//
//	SECONDARY_API_KEY    → OPENAI_API_KEY
//	SECONDARY_BASE_URL   → OPENAI_BASE_URL
//	SECONDARY_MODEL      → OPENAI_MODEL
//	SECONDARY_RPM        (no fallback; unset disables pacing)
//
// Expectations:
//   - Uses {prefix}_API_KEY / _BASE_URL / _MODEL when set and non-empty
//   - Falls back to OPENAI_* vars for any unset tier-specific var
//   - Paces requests to {prefix}_RPM per minute when it parses as a positive integer
//   - Empty prefix reads only OPENAI_* (identical to New())
func NewTier(prefix string) *Client {
	get := func(suffix, fallback string) string {
		if prefix != "" {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				return v
			}
		}
		return os.Getenv(fallback)
	}
	label := prefix
	if label == "" {
		label = "LLM"
	}
	c := &Client{
		baseURL:    normalizeBaseURL(get("BASE_URL", "OPENAI_BASE_URL")),
		apiKey:     get("API_KEY", "OPENAI_API_KEY"),
		model:      get("MODEL", "OPENAI_MODEL"),
		label:      label,
		timeout:    defaultTimeout,
		httpClient: newHTTPClient(defaultTimeout),
	}
	if prefix != "" {
		if rpm, err := strconv.Atoi(os.Getenv(prefix + "_RPM")); err == nil && rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
		}
	}
	return c
}

// Label returns the tier name of this client.
func (c *Client) Label() string { return c.label }

// Validate reports which connection settings are missing.
//
// Expectations:
//   - Returns nil when baseURL, apiKey and model are all non-empty
//   - Lists every missing field comma-separated
//   - Error message includes the tier label
func (c *Client) Validate() error {
	var missing []string
	if c.baseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.apiKey == "" {
		missing = append(missing, "API key")
	}
	if c.model == "" {
		missing = append(missing, "model")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("llm: %s tier missing %s", c.label, strings.Join(missing, ", "))
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []chatMsg `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one LLM call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) newRequest(ctx context.Context, system, user string, stream bool) (*http.Request, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm: rate limit wait: %w", err)
		}
	}
	var msgs []chatMsg
	if system != "" {
		msgs = append(msgs, chatMsg{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMsg{Role: "user", Content: user})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs, Stream: stream})
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// Chat sends a system + user prompt and returns the assistant's text response and token usage.
func (c *Client) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	log.Printf("[%s] ── USER PROMPT ─────────────────────────────────\n%s\n── END USER ────────────────────────────────────", c.label, user)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := c.newRequest(ctx, system, user, false)
	if err != nil {
		return "", Usage{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", Usage{}, fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if chatResp.Error != nil {
		return "", Usage{}, fmt.Errorf("llm: API error: %s", chatResp.Error.Message)
	}

	if len(chatResp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("llm: no choices in response")
	}

	content := chatResp.Choices[0].Message.Content
	log.Printf("[%s] ── RESPONSE (tokens: prompt=%d completion=%d) ──\n%s\n── END RESPONSE ────────────────────────────────",
		c.label, chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens, content)
	return content, chatResp.Usage, nil
}

// ChatStream sends the prompt with "stream": true and delivers text deltas on the
// first channel as they arrive. Both channels are closed when the stream ends; the
// error channel carries at most one error.
func (c *Client) ChatStream(ctx context.Context, system, user string) (<-chan string, <-chan error) {
	fragCh := make(chan string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(fragCh)
		defer close(errCh)
		if err := c.stream(ctx, system, user, fragCh); err != nil {
			errCh <- err
		}
	}()
	return fragCh, errCh
}

func (c *Client) stream(ctx context.Context, system, user string, fragCh chan<- string) error {
	log.Printf("[%s] ── STREAM PROMPT ───────────────────────────────\n%s\n── END PROMPT ──────────────────────────────────", c.label, user)

	req, err := c.newRequest(ctx, system, user, true)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("llm: HTTP %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data := strings.TrimSpace(scanner.Text())
		if data == "" || !strings.HasPrefix(data, "data:") {
			continue
		}
		data = strings.TrimSpace(strings.TrimPrefix(data, "data:"))
		if data == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("llm: decode chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("llm: API error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		select {
		case fragCh <- chunk.Choices[0].Delta.Content:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("llm: read stream: %w", err)
	}
	return nil
}

// StripThinkBlocks removes all <think>...</think> blocks from s.
// Reasoning models (e.g. deepseek-r1) emit these before or between JSON
// objects. The blocks are not part of structured output and must be stripped
// before JSON parsing.
//
// Expectations:
//   - Removes a single <think>...</think> block
//   - Removes multiple <think>...</think> blocks
//   - Strips an unclosed <think> block from its start to end of string
//   - Returns s unchanged when no <think> tag is present
func StripThinkBlocks(s string) string {
	for {
		start := strings.Index(s, "<think>")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "</think>")
		if end == -1 {
			// Unclosed block: strip from opening tag to end of string.
			s = s[:start]
			break
		}
		s = s[:start] + s[start+end+len("</think>"):]
	}
	return strings.TrimSpace(s)
}
