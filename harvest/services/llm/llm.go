// harvest/services/llm/llm.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Roles used in a conversation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Images are JPEG screenshots attached to a user message.
	Images [][]byte `json:"-"`
}

// Client completes one chat turn. Implementations are bound to a model and
// must be safe for concurrent use.
type Client interface {
	Run(ctx context.Context, messages []Message) (string, error)
}

// Provider names accepted by New.
const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
)

// Config selects and configures a provider.
type Config struct {
	Provider    string
	Endpoint    string
	APIKey      string
	APIVersion  string
	BaseURL     string
	Model       string
	Temperature float64
}

var ErrEmptyCompletion = errors.New("llm returned no content")

// New builds a Client for cfg.Provider.
func New(cfg Config) (Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	switch strings.ToLower(cfg.Provider) {
	case ProviderAzure, "":
		if cfg.Endpoint == "" || cfg.APIKey == "" {
			return nil, errors.New("azure openai needs an endpoint and an api key")
		}
		return NewAzureClient(cfg), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai needs an api key")
		}
		return NewOpenAIClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// FuncClient adapts a function to Client.
type FuncClient func(ctx context.Context, messages []Message) (string, error)

func (f FuncClient) Run(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
