package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config controls chat model construction.
type Config struct {
	Provider   string
	MaxRetries int

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	ArkAPIKey  string
	ArkModel   string
	ArkBaseURL string
}

// Named is implemented by every model this package builds.
type Named interface {
	Provider() string
}

// ProviderName reports which provider backs m.
func ProviderName(m model.BaseChatModel) string {
	if n, ok := m.(Named); ok {
		return n.Provider()
	}
	return "unknown"
}

const (
	retryBase = 250 * time.Millisecond
	retryCap  = 2 * time.Second
)

// NewChatModel builds the configured provider, wrapped with retries.
func NewChatModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoModel(ctx, cfg)
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
		}
		return newOpenAI(cfg), nil
	case "ark":
		if strings.TrimSpace(cfg.ArkAPIKey) == "" || strings.TrimSpace(cfg.ArkModel) == "" {
			return nil, errors.New("ARK_API_KEY and ARK_MODEL are required for the ark provider")
		}
		return newArk(ctx, cfg)
	case "mock":
		return NewMockModel(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

func newAutoModel(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	hasOpenAI := strings.TrimSpace(cfg.OpenAIAPIKey) != ""
	hasArk := strings.TrimSpace(cfg.ArkAPIKey) != "" && strings.TrimSpace(cfg.ArkModel) != ""

	switch {
	case hasOpenAI && hasArk:
		secondary, err := newArk(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewFallbackModel(newOpenAI(cfg), secondary), nil
	case hasOpenAI:
		return newOpenAI(cfg), nil
	case hasArk:
		return newArk(ctx, cfg)
	default:
		return NewMockModel(), nil
	}
}

func newOpenAI(cfg Config) model.ToolCallingChatModel {
	return NewRetryModel(NewOpenAIModel(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), cfg.MaxRetries)
}

func newArk(ctx context.Context, cfg Config) (model.ToolCallingChatModel, error) {
	cm, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		APIKey:  cfg.ArkAPIKey,
		Model:   cfg.ArkModel,
		BaseURL: cfg.ArkBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("init ark chat model: %w", err)
	}
	return NewRetryModel(named(cm, "ark"), cfg.MaxRetries), nil
}
