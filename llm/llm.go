// Package llm provides the generation capability behind the pipeline roles.
// Each role (writer, skeptic, judge) is routed to its own model and sampling
// settings; the writer additionally supports streamed deltas.
package llm

import (
	"context"
	"fmt"
	"time"

	"citeline/config"
)

// Role selects the model configuration for a generation call.
type Role string

const (
	RoleWriter  Role = "writer"
	RoleSkeptic Role = "skeptic"
	RoleJudge   Role = "judge"
)

// Chat message roles.
const (
	MessageSystem    = "system"
	MessageUser      = "user"
	MessageAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Client produces one blocking completion for a role.
type Client interface {
	Generate(ctx context.Context, role Role, messages []Message) (string, error)
}

// StreamClient additionally yields incremental text deltas. The callback is
// invoked in generation order; returning an error stops the stream.
type StreamClient interface {
	GenerateStream(ctx context.Context, role Role, messages []Message, fn func(delta string) error) error
}

// RoleOptions are per-role model settings.
type RoleOptions struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

type Options struct {
	Provider string
	Roles    map[Role]RoleOptions
	Timeout  time.Duration

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func roleOptions(cfg config.RoleModel) RoleOptions {
	return RoleOptions{Model: cfg.Model, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}
}

func New(cfg config.Config) (Client, error) {
	opts := Options{
		Provider: cfg.LLMProvider,
		Timeout:  cfg.LLMTimeout,
		Roles: map[Role]RoleOptions{
			RoleWriter:  roleOptions(cfg.Writer),
			RoleSkeptic: roleOptions(cfg.Skeptic),
			RoleJudge:   roleOptions(cfg.Judge),
		},
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai llm provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}

func (o Options) role(role Role) (RoleOptions, error) {
	ro, ok := o.Roles[role]
	if !ok || ro.Model == "" {
		return RoleOptions{}, fmt.Errorf("no model configured for role %q", role)
	}
	return ro, nil
}
