package llm

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/ent0n29/clerk/internal/reliability"
)

// RetryModel retries retryable provider failures with capped backoff.
type RetryModel struct {
	inner      model.ToolCallingChatModel
	maxRetries int
}

func NewRetryModel(inner model.ToolCallingChatModel, maxRetries int) *RetryModel {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryModel{inner: inner, maxRetries: maxRetries}
}

func (m *RetryModel) Provider() string { return ProviderName(m.inner) }

func (m *RetryModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	inner, err := m.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RetryModel{inner: keepName(inner, m.inner), maxRetries: m.maxRetries}, nil
}

func (m *RetryModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	var out *schema.Message
	err := reliability.Do(ctx, m.maxRetries, retryBase, retryCap, func(int) error {
		msg, err := m.inner.Generate(ctx, input, opts...)
		if err != nil {
			return err
		}
		out = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *RetryModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var out *schema.StreamReader[*schema.Message]
	err := reliability.Do(ctx, m.maxRetries, retryBase, retryCap, func(int) error {
		sr, err := m.inner.Stream(ctx, input, opts...)
		if err != nil {
			return err
		}
		out = sr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// namedModel labels a third-party model that does not report its provider.
type namedModel struct {
	model.ToolCallingChatModel
	name string
}

func named(m model.ToolCallingChatModel, name string) model.ToolCallingChatModel {
	return &namedModel{ToolCallingChatModel: m, name: name}
}

func (m *namedModel) Provider() string { return m.name }

func (m *namedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	inner, err := m.ToolCallingChatModel.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return named(inner, m.name), nil
}

func keepName(next, prev model.ToolCallingChatModel) model.ToolCallingChatModel {
	if _, ok := next.(Named); ok {
		return next
	}
	return named(next, ProviderName(prev))
}
