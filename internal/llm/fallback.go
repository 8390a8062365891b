package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// FallbackModel tries a primary model first and falls back on error.
type FallbackModel struct {
	primary  model.ToolCallingChatModel
	fallback model.ToolCallingChatModel
}

func NewFallbackModel(primary, fallback model.ToolCallingChatModel) *FallbackModel {
	return &FallbackModel{primary: primary, fallback: fallback}
}

func (m *FallbackModel) Provider() string {
	return ProviderName(m.primary) + "+" + ProviderName(m.fallback)
}

func (m *FallbackModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	primary, err := m.primary.WithTools(tools)
	if err != nil {
		return nil, err
	}
	var fallback model.ToolCallingChatModel
	if m.fallback != nil {
		if fallback, err = m.fallback.WithTools(tools); err != nil {
			return nil, err
		}
	}
	return &FallbackModel{primary: primary, fallback: fallback}, nil
}

func (m *FallbackModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if m == nil || m.primary == nil {
		if m != nil && m.fallback != nil {
			return m.fallback.Generate(ctx, input, opts...)
		}
		return nil, fmt.Errorf("fallback model misconfigured")
	}
	msg, err := m.primary.Generate(ctx, input, opts...)
	if err == nil {
		return msg, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || m.fallback == nil {
		return nil, err
	}
	msg, fallbackErr := m.fallback.Generate(ctx, input, opts...)
	if fallbackErr != nil {
		return nil, fmt.Errorf("primary model error: %w; fallback model error: %v", err, fallbackErr)
	}
	return msg, nil
}

func (m *FallbackModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}
