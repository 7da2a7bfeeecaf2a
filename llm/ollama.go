package llm

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

type ollamaClient struct {
	host    string
	opts    Options
	timeout time.Duration
	client  *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaChatOptions   `json:"options"`
}

type ollamaChatOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

func NewOllamaClient(opts Options) Client {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaClient{
		host:    host,
		opts:    opts,
		timeout: opts.Timeout,
		client:  &http.Client{Timeout: opts.Timeout},
	}
}

func (c *ollamaClient) request(role Role, messages []Message, stream bool) (*ollamaChatRequest, error) {
	ro, err := c.opts.role(role)
	if err != nil {
		return nil, err
	}

	req := &ollamaChatRequest{
		Model:  ro.Model,
		Stream: stream,
		Options: ollamaChatOptions{
			Temperature: ro.Temperature,
			NumPredict:  ro.MaxTokens,
		},
	}
	req.Messages = make([]ollamaChatMessage, len(messages))
	for i := range messages {
		req.Messages[i] = ollamaChatMessage(messages[i])
	}
	return req, nil
}

func (c *ollamaClient) post(ctx context.Context, payload *ollamaChatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama chat API: %w", err)
	}

	if resp.StatusCode >= 400 {
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr == nil && len(data) > 0 {
			return nil, fmt.Errorf("ollama chat API error: %s", strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("ollama chat API returned status %s", resp.Status)
	}

	return resp, nil
}

func (c *ollamaClient) Generate(ctx context.Context, role Role, messages []Message) (string, error) {
	payload, err := c.request(role, messages, false)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama chat error: %s", parsed.Error)
	}

	return parsed.Message.Content, nil
}

func (c *ollamaClient) GenerateStream(ctx context.Context, role Role, messages []Message, fn func(string) error) error {
	payload, err := c.request(role, messages, true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.post(ctx, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var delta ollamaChatResponse
		if err := dec.Decode(&delta); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode ollama stream response: %w", err)
		}
		if delta.Error != "" {
			return fmt.Errorf("ollama chat error: %s", delta.Error)
		}
		if delta.Message.Content != "" {
			if err := fn(delta.Message.Content); err != nil {
				return err
			}
		}
		if delta.Done {
			return nil
		}
	}
}

var (
	_ Client       = (*ollamaClient)(nil)
	_ StreamClient = (*ollamaClient)(nil)
)
