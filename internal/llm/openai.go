package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = "gpt-4o"

// OpenAIModel adapts the OpenAI chat completions API to eino's
// ToolCallingChatModel.
type OpenAIModel struct {
	client *openai.Client
	model  string
	tools  []openai.Tool
}

type OpenAIOption func(*openai.ClientConfig)

func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(cfg *openai.ClientConfig) {
		if c != nil {
			cfg.HTTPClient = c
		}
	}
}

func NewOpenAIModel(apiKey, modelName, baseURL string, opts ...OpenAIOption) *OpenAIModel {
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if u := strings.TrimSpace(baseURL); u != "" {
		cfg.BaseURL = strings.TrimRight(u, "/")
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	return &OpenAIModel{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
	}
}

func (m *OpenAIModel) Provider() string { return "openai" }

func (m *OpenAIModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	converted, err := toOpenAITools(tools)
	if err != nil {
		return nil, err
	}
	out := *m
	out.tools = converted
	return &out, nil
}

func (m *OpenAIModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.model}, opts...)

	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toOpenAIMessages(input),
		Tools:    m.tools,
	}
	if options.Model != nil && *options.Model != "" {
		req.Model = *options.Model
	}
	if options.Temperature != nil {
		req.Temperature = *options.Temperature
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	return fromOpenAIChoice(resp.Choices[0], resp.Usage), nil
}

func (m *OpenAIModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func toOpenAITools(tools []*schema.ToolInfo) ([]openai.Tool, error) {
	out := make([]openai.Tool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if info.ParamsOneOf != nil {
			js, err := info.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			if js != nil {
				b, err := json.Marshal(js)
				if err != nil {
					return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
				}
				params = b
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	return out, nil
}

func toOpenAIMessages(in []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		msg := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case schema.System:
			msg.Role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			msg.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		case schema.Tool:
			msg.Role = openai.ChatMessageRoleTool
			msg.ToolCallID = m.ToolCallID
		default:
			msg.Role = openai.ChatMessageRoleUser
		}
		out = append(out, msg)
	}
	return out
}

func fromOpenAIChoice(choice openai.ChatCompletionChoice, usage openai.Usage) *schema.Message {
	msg := &schema.Message{
		Role:    schema.Assistant,
		Content: choice.Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: string(choice.FinishReason),
			Usage: &schema.TokenUsage{
				PromptTokens:     usage.PromptTokens,
				CompletionTokens: usage.CompletionTokens,
				TotalTokens:      usage.TotalTokens,
			},
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Errorf("openai chat completion: %w", &StatusError{
			Provider:   "openai",
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
		})
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Errorf("openai chat completion: %w", &StatusError{
			Provider:   "openai",
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
		})
	}
	return fmt.Errorf("openai chat completion: %w", err)
}
