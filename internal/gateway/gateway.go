// Package gateway is the model completion client. It speaks the Ollama
// chat API with a fallback to the generate API for older servers, and
// distinguishes a missing model from a missing endpoint so the operator can
// fix configuration instead of retrying blindly.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the standard local Ollama address.
const DefaultBaseURL = "http://localhost:11434"

var (
	// ErrModelNotFound indicates the server is reachable but does not know
	// the requested model.
	ErrModelNotFound = errors.New("model not found")

	// ErrEndpointNotFound indicates the base URL does not serve the API.
	ErrEndpointNotFound = errors.New("endpoint not found")
)

// Message is one role-tagged entry in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client issues synchronous, non-streaming completion requests.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a gateway client. An empty baseURL falls back to the
// default local address; a trailing /api suffix is stripped.
func NewClient(baseURL, model string, timeout time.Duration) *Client {
	base := baseURL
	if base == "" {
		base = DefaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/api")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    base,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Chat sends one request and returns the completion text.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	body, status, err := c.post(ctx, "/api/chat", chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		if isModelMissing(body) {
			return "", c.modelNotFound()
		}
		// Older servers lack /api/chat; retry against /api/generate with a
		// flattened prompt.
		return c.generate(ctx, messages)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("gateway error (%d): %s", status, strings.TrimSpace(string(body)))
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	return parsed.Message.Content, nil
}

func (c *Client) generate(ctx context.Context, messages []Message) (string, error) {
	body, status, err := c.post(ctx, "/api/generate", generateRequest{
		Model:  c.model,
		Prompt: flatten(messages),
		Stream: false,
	})
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		if isModelMissing(body) {
			return "", c.modelNotFound()
		}
		return "", fmt.Errorf("%w: no Ollama API at %s; check the base URL is like %s and not suffixed with /api",
			ErrEndpointNotFound, c.baseURL, DefaultBaseURL)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("gateway error (%d): %s", status, strings.TrimSpace(string(body)))
	}
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return parsed.Response, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read gateway response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) modelNotFound() error {
	return fmt.Errorf("%w: %s; set GHOST_MODEL to an installed model or run `ollama pull %s`",
		ErrModelNotFound, c.model, c.model)
}

// isModelMissing inspects a 404 body for the model-missing error shape.
func isModelMissing(body []byte) bool {
	var parsed struct {
		Error string `json:"error"`
	}
	text := strings.ToLower(strings.TrimSpace(string(body)))
	if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
		text = strings.ToLower(parsed.Error)
	}
	return strings.Contains(text, "model") && strings.Contains(text, "not found")
}

// flatten renders role-tagged messages as one generate-style prompt.
func flatten(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		role := strings.ToUpper(msg.Role)
		if role == "" {
			role = "USER"
		}
		b.WriteString(role)
		b.WriteString(":\n")
		b.WriteString(msg.Content)
		b.WriteString("\n\n")
	}
	b.WriteString("ASSISTANT:")
	return b.String()
}
