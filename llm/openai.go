package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client  *openai.Client
	opts    Options
	timeout time.Duration
}

func NewOpenAIClient(opts Options) Client {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	return &openAIClient{
		client:  openai.NewClientWithConfig(cfg),
		opts:    opts,
		timeout: opts.Timeout,
	}
}

func (c *openAIClient) request(role Role, messages []Message) (openai.ChatCompletionRequest, error) {
	ro, err := c.opts.role(role)
	if err != nil {
		return openai.ChatCompletionRequest{}, err
	}

	req := openai.ChatCompletionRequest{
		Model:       ro.Model,
		Temperature: ro.Temperature,
		MaxTokens:   ro.MaxTokens,
	}
	req.Messages = make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	return req, nil
}

func (c *openAIClient) Generate(ctx context.Context, role Role, messages []Message) (string, error) {
	req, err := c.request(role, messages)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create openai chat completion (%s): %w", role, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion (%s) returned no choices", role)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) GenerateStream(ctx context.Context, role Role, messages []Message, fn func(string) error) error {
	req, err := c.request(role, messages)
	if err != nil {
		return err
	}
	req.Stream = true

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("create openai chat stream (%s): %w", role, err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive openai chat stream (%s): %w", role, err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := fn(delta); err != nil {
			return err
		}
	}
}

var (
	_ Client       = (*openAIClient)(nil)
	_ StreamClient = (*openAIClient)(nil)
)
